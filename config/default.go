package config

// DefaultValues of the Node configuration
const DefaultValues = `
[Log]
Level = "info"
Out = ["stdout"]

[StateDB]
Path = "/var/zkrollup/statedb"
Keep = 128
NLevels = 24

[Rollup]
Hasher = "keccak256"
SignatureScheme = "ecdsa"
FeeAccountIdx = 0

[API]
Address = "localhost:8086"
ReadTimeout = "30s"
WriteTimeout = "30s"
MaxSQLConnections = 10
SQLConnectionTimeout = "2s"

[Metrics]
Address = "localhost:9145"

[PostgreSQL]
Enabled = false
Port = 5432
Host = "localhost"
User = "zkrollup"
Name = "zkrollup"
MaxOpenConns = 20
`
