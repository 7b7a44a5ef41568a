package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"zkrollup/common"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator"
	"github.com/mitchellh/copystructure"
)

const redacted = "***"

// PostgreSQL is the configuration of the history database
type PostgreSQL struct {
	// Enabled mirrors the committed batches and payouts in PostgreSQL
	Enabled bool `env:"ZKROLLUP_POSTGRESQL_ENABLED"`
	// Port of the PostgreSQL server
	Port int `env:"ZKROLLUP_POSTGRESQL_PORT"`
	// Host of the PostgreSQL server
	Host string `env:"ZKROLLUP_POSTGRESQL_HOST"`
	// User of the PostgreSQL server
	User string `env:"ZKROLLUP_POSTGRESQL_USER"`
	// Password of the PostgreSQL server
	Password string `env:"ZKROLLUP_POSTGRESQL_PASSWORD"`
	// Name of the database
	Name string `env:"ZKROLLUP_POSTGRESQL_NAME"`
	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `env:"ZKROLLUP_POSTGRESQL_MAXOPENCONNS"`
}

// Node is the configuration of a rollup node
type Node struct {
	Log struct {
		// Level of the logs: debug, info, warn or error
		Level string `validate:"required,oneof=debug info warn error" env:"ZKROLLUP_LOG_LEVEL"`
		// Out are the log outputs, "stdout" or file paths
		Out []string `validate:"required" env:"ZKROLLUP_LOG_OUT"`
	}
	StateDB struct {
		// Path where the ledger and its checkpoints are stored
		Path string `validate:"required" env:"ZKROLLUP_STATEDB_PATH"`
		// Keep is the number of checkpoints to keep.  0 keeps all of
		// them
		Keep int `validate:"min=0" env:"ZKROLLUP_STATEDB_KEEP"`
		// NLevels is the depth of the state tree
		NLevels int `validate:"required,min=1,max=48" env:"ZKROLLUP_STATEDB_NLEVELS"`
	}
	Rollup struct {
		// Owner is the initial owner of the rollup
		Owner string `validate:"required,eth_addr" env:"ZKROLLUP_ROLLUP_OWNER"`
		// Hasher of the state and tx trees: keccak256, poseidon or mimc
		Hasher string `validate:"required,oneof=keccak256 poseidon mimc" env:"ZKROLLUP_ROLLUP_HASHER"`
		// SignatureScheme of the txs: ecdsa or babyjubjub
		SignatureScheme string `validate:"required,oneof=ecdsa babyjubjub" env:"ZKROLLUP_ROLLUP_SIGNATURESCHEME"`
		// FeeAccountIdx receives the fees.  0 collects them in the
		// rollup.
		FeeAccountIdx int `validate:"min=0" env:"ZKROLLUP_ROLLUP_FEEACCOUNTIDX"`
	}
	API struct {
		// Address where the API listens
		Address string `validate:"required" env:"ZKROLLUP_API_ADDRESS"`
		// ReadTimeout of the API requests
		ReadTimeout time.Duration `env:"ZKROLLUP_API_READTIMEOUT"`
		// WriteTimeout of the API responses
		WriteTimeout time.Duration `env:"ZKROLLUP_API_WRITETIMEOUT"`
		// MaxSQLConnections is the maximum number of concurrent
		// PostgreSQL queries from the API
		MaxSQLConnections int `validate:"min=1" env:"ZKROLLUP_API_MAXSQLCONNECTIONS"`
		// SQLConnectionTimeout is the maximum time an API request
		// waits for a PostgreSQL connection
		SQLConnectionTimeout time.Duration `env:"ZKROLLUP_API_SQLCONNECTIONTIMEOUT"`
		// CORSAllowOrigins enables CORS for these origins.  Empty
		// disables CORS.
		CORSAllowOrigins []string `env:"ZKROLLUP_API_CORSALLOWORIGINS"`
	}
	Metrics struct {
		// Address where the prometheus metrics are served.  Empty
		// serves them on the API address.
		Address string `env:"ZKROLLUP_METRICS_ADDRESS"`
	}
	PostgreSQL PostgreSQL
}

// OwnerAddress returns Rollup.Owner parsed
func (cfg *Node) OwnerAddress() ethCommon.Address {
	return ethCommon.HexToAddress(cfg.Rollup.Owner)
}

// FeeAccountIdx returns Rollup.FeeAccountIdx as an AccountIdx
func (cfg *Node) FeeAccountIdx() common.AccountIdx {
	return common.AccountIdx(cfg.Rollup.FeeAccountIdx)
}

// Redacted returns a copy of the configuration without secrets, to be logged
func (cfg *Node) Redacted() (*Node, error) {
	c, err := copystructure.Copy(cfg)
	if err != nil {
		return nil, common.Wrap(err)
	}
	r := c.(*Node)
	if r.PostgreSQL.Password != "" {
		r.PostgreSQL.Password = redacted
	}
	return r, nil
}

func loadDefault(defaultValues string, cfg interface{}) error {
	if _, err := toml.Decode(defaultValues, cfg); err != nil {
		return err
	}
	return nil
}

func loadFile(path string, cfg interface{}) error {
	bs, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	if _, err := toml.Decode(string(bs), cfg); err != nil {
		return err
	}
	return nil
}

func loadEnv(cfg interface{}) error {
	if err := env.Parse(cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig loads the defaultValues, then the file at filePath (if not
// empty), then the environment variables, each one overriding the previous
func LoadConfig(filePath string, defaultValues string, cfg interface{}) error {
	if err := loadDefault(defaultValues, cfg); err != nil {
		return common.Wrap(fmt.Errorf("error loading default configuration: %w", err))
	}
	var errLoadFile error
	if filePath != "" {
		errLoadFile = loadFile(filePath, cfg)
	}
	errLoadEnv := loadEnv(cfg)
	if errLoadFile != nil {
		return common.Wrap(fmt.Errorf("error loading configuration file: %w", errLoadFile))
	}
	if errLoadEnv != nil {
		return common.Wrap(fmt.Errorf("error loading environment variables: %w", errLoadEnv))
	}
	return nil
}

// LoadNode loads and validates the Node configuration from path
func LoadNode(path string) (*Node, error) {
	var cfg Node
	if err := LoadConfig(path, DefaultValues, &cfg); err != nil {
		return nil, err
	}
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, common.Wrap(fmt.Errorf("error validating configuration file: %w", err))
	}
	if cfg.PostgreSQL.Enabled {
		if err := validate.Struct(postgreSQLRequired{
			Port: cfg.PostgreSQL.Port,
			Host: cfg.PostgreSQL.Host,
			User: cfg.PostgreSQL.User,
			Name: cfg.PostgreSQL.Name,
		}); err != nil {
			return nil, common.Wrap(fmt.Errorf("error validating PostgreSQL configuration: %w", err))
		}
	}
	return &cfg, nil
}

// postgreSQLRequired are the PostgreSQL fields required when it is enabled
type postgreSQLRequired struct {
	Port int    `validate:"required"`
	Host string `validate:"required"`
	User string `validate:"required"`
	Name string `validate:"required"`
}
