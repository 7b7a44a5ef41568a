package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"zkrollup/common"
	"zkrollup/config"
	dbUtils "zkrollup/database"
	"zkrollup/log"
	"zkrollup/node"

	"github.com/joho/godotenv"
	"github.com/urfave/cli"
)

const (
	flagCfg        = "cfg"
	flagYes        = "yes"
	flagScheme     = "scheme"
	flagKeystore   = "keystore"
	flagPassword   = "password"
	flagNode       = "node"
	flagFrom       = "from"
	flagFromIdx    = "fromidx"
	flagSK         = "privatekey"
	flagBJJ        = "bjj"
	flagTo         = "to"
	flagAmount     = "amount"
	flagFee        = "fee"
	flagNonce      = "nonce"
	nMigrations    = "nMigrations"
	defaultNodeURL = "http://localhost:8086"
)

var (
	// Version represents the program based on the git tag
	Version = "v0.1.0"
)

func loadConfig(c *cli.Context) (*config.Node, error) {
	cfg, err := config.LoadNode(c.String(flagCfg))
	if err != nil {
		if err := cli.ShowCommandHelp(c, c.Command.Name); err != nil {
			panic(err)
		}
		return nil, common.Wrap(err)
	}
	return cfg, nil
}

func cmdRun(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return common.Wrap(fmt.Errorf("error parsing flags and config: %w", err))
	}
	log.Init(cfg.Log.Level, cfg.Log.Out)
	redacted, err := cfg.Redacted()
	if err != nil {
		return common.Wrap(err)
	}
	log.Infow("configuration loaded", "cfg", redacted)

	innerNode, err := node.NewNode(cfg, c.App.Version)
	if err != nil {
		return common.Wrap(fmt.Errorf("error starting node: %w", err))
	}
	// catch ^C to stop the node
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return innerNode.Run(ctx)
}

func cmdWipeSQL(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return common.Wrap(fmt.Errorf("error parsing flags and config: %w", err))
	}
	log.Init(cfg.Log.Level, cfg.Log.Out)
	yes := c.Bool(flagYes)
	if !yes {
		fmt.Print("*WARNING* Are you sure you want to delete " +
			"the SQL DB? [y/N]: ")
		var input string
		if _, err := fmt.Scanln(&input); err != nil {
			return common.Wrap(err)
		}
		yes = input == "y" || input == "Y"
	}
	if !yes {
		return nil
	}
	db, err := dbUtils.InitSQLDB(
		cfg.PostgreSQL.Port,
		cfg.PostgreSQL.Host,
		cfg.PostgreSQL.User,
		cfg.PostgreSQL.Password,
		cfg.PostgreSQL.Name,
	)
	if err != nil {
		return common.Wrap(err)
	}
	defer db.Close() //nolint:errcheck
	log.Info("Wiping SQL DB...")
	if err := dbUtils.MigrationsDown(db.DB, c.Uint(nMigrations)); err != nil {
		return common.Wrap(fmt.Errorf("dbUtils.MigrationsDown: %w", err))
	}
	return nil
}

func main() {
	// a missing .env is not an error, the environment may be set otherwise
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Error loading .env: %v\n", err)
		os.Exit(1)
	}

	app := cli.NewApp()
	app.Name = "zkrollup"
	app.Usage = "rollup ledger node"
	app.Version = Version

	cfgFlag := cli.StringFlag{
		Name:  flagCfg,
		Usage: "Node configuration `FILE`",
	}
	clientFlags := []cli.Flag{
		cli.StringFlag{
			Name:  flagNode,
			Usage: "`URL` of the node API",
			Value: defaultNodeURL,
		},
		cli.StringFlag{
			Name:  flagFrom,
			Usage: "caller `ADDRESS`, defaults to the address of --privatekey",
		},
		cli.StringFlag{
			Name:   flagSK,
			Usage:  "ECDSA private `KEY` (hex) of the caller",
			EnvVar: "ZKROLLUP_PRIVATEKEY",
		},
		cli.StringFlag{
			Name:   flagBJJ,
			Usage:  "BabyJubJub private `KEY` (hex) used instead of --privatekey to sign and to create accounts",
			EnvVar: "ZKROLLUP_BJJKEY",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Run the rollup node",
			Action: cmdRun,
			Flags:  []cli.Flag{cfgFlag},
		},
		{
			Name:   "wipesql",
			Usage:  "Wipe the SQL DB (HistoryDB), leaving the DB in a clean state",
			Action: cmdWipeSQL,
			Flags: []cli.Flag{
				cfgFlag,
				cli.BoolFlag{
					Name:  flagYes,
					Usage: "automatic yes to the prompt",
				},
				cli.UintFlag{
					Name:  nMigrations,
					Usage: "number of migrations to revert, 0 reverts all",
				},
			},
		},
		{
			Name:   "genkey",
			Usage:  "Generate a key and print its public key hash",
			Action: cmdGenKey,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  flagScheme,
					Usage: "signature `SCHEME`: ecdsa or babyjubjub",
					Value: "ecdsa",
				},
				cli.StringFlag{
					Name:  flagKeystore,
					Usage: "store the ECDSA key in the keystore at `DIR` instead of printing it",
				},
				cli.StringFlag{
					Name:   flagPassword,
					Usage:  "`PASSWORD` of the keystore",
					EnvVar: "ZKROLLUP_KEYSTORE_PASSWORD",
				},
			},
		},
		{
			Name:  "client",
			Usage: "Send requests to a node",
			Subcommands: []cli.Command{
				{
					Name:   "state",
					Usage:  "Print the state of the rollup",
					Action: cmdClientState,
					Flags:  clientFlags,
				},
				{
					Name:      "account",
					Usage:     "Print an account with its proof",
					ArgsUsage: "IDX",
					Action:    cmdClientAccount,
					Flags:     clientFlags,
				},
				{
					Name:   "create-account",
					Usage:  "Create the account of the caller for the key hash of --bjj or --privatekey",
					Action: cmdClientCreateAccount,
					Flags:  clientFlags,
				},
				{
					Name:      "deposit",
					Usage:     "Deposit AMOUNT to the account IDX",
					ArgsUsage: "IDX AMOUNT",
					Action:    cmdClientDeposit,
					Flags:     clientFlags,
				},
				{
					Name:      "withdraw",
					Usage:     "Withdraw AMOUNT from the account IDX of the caller",
					ArgsUsage: "IDX AMOUNT",
					Action:    cmdClientWithdraw,
					Flags:     clientFlags,
				},
				{
					Name:   "signtx",
					Usage:  "Sign a transfer and print it as JSON",
					Action: cmdClientSignTx,
					Flags: append([]cli.Flag{
						cli.Uint64Flag{Name: flagFromIdx, Usage: "sender account `IDX`"},
						cli.Uint64Flag{Name: flagTo, Usage: "receiver account `IDX`"},
						cli.StringFlag{Name: flagAmount, Usage: "`AMOUNT` to transfer", Value: "0"},
						cli.StringFlag{Name: flagFee, Usage: "`FEE` of the transfer", Value: "0"},
						cli.StringFlag{Name: flagNonce, Usage: "`NONCE` of the sender", Value: "0"},
					}, clientFlags...),
				},
				{
					Name:      "submit-batch",
					Usage:     "Submit the txs in FILE (JSON array) as the next batch",
					ArgsUsage: "FILE",
					Action:    cmdClientSubmitBatch,
					Flags:     clientFlags,
				},
				{
					Name:   "pause",
					Usage:  "Pause the rollup",
					Action: cmdClientPause,
					Flags:  clientFlags,
				},
				{
					Name:   "unpause",
					Usage:  "Unpause the rollup",
					Action: cmdClientUnpause,
					Flags:  clientFlags,
				},
				{
					Name:      "transfer-ownership",
					Usage:     "Set ADDRESS as the owner of the rollup",
					ArgsUsage: "ADDRESS",
					Action:    cmdClientTransferOwnership,
					Flags:     clientFlags,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("\nError: %v\n", common.Wrap(err))
		os.Exit(1)
	}
}
