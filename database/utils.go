package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"time"

	"zkrollup/common"
	"zkrollup/log"

	"github.com/gobuffalo/packr/v2"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"

	//nolint:errcheck // driver for postgres DB
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/russross/meddler"
	"golang.org/x/sync/semaphore"
)

var migrations *migrate.PackrMigrationSource

func init() {
	migrations = &migrate.PackrMigrationSource{
		Box: packr.New("zkrollup-migrations", "./migrations"),
	}
	meddler.Register("u256", U256Meddler{})
}

// APIConnectionController is used to limit the SQL open connections used by the API
type APIConnectionController struct {
	smphr   *semaphore.Weighted
	timeout time.Duration
}

// NewAPIConnectionController initialize APIConnectionController
func NewAPIConnectionController(maxConnections int, timeout time.Duration) *APIConnectionController {
	return &APIConnectionController{
		smphr:   semaphore.NewWeighted(int64(maxConnections)),
		timeout: timeout,
	}
}

// Acquire reserves a SQL connection. If the connection is not acquired
// within the timeout, the function will return an error
func (acc *APIConnectionController) Acquire() (context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), acc.timeout)
	return cancel, acc.smphr.Acquire(ctx, 1)
}

// Release frees a SQL connection
func (acc *APIConnectionController) Release() {
	acc.smphr.Release(1)
}

// InitSQLDB runs migrations and registers meddlers
func InitSQLDB(port int, host, user, password, name string) (*sqlx.DB, error) {
	// Init DB
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host,
		port,
		user,
		password,
		name,
	)
	db, err := sqlx.Connect("postgres", psqlconn)
	if err != nil {
		return nil, common.Wrap(err)
	}
	// Run DB migrations
	if err := MigrationsUp(db.DB); err != nil {
		return nil, common.Wrap(err)
	}
	return db, nil
}

// ErrNoTestSQLDB is used when the PostgreSQL tests are run without
// ZKROLLUP_TEST_POSTGRES
var ErrNoTestSQLDB = fmt.Errorf("ZKROLLUP_TEST_POSTGRES is not set")

// InitTestSQLDB opens the test database whose password is in the
// ZKROLLUP_TEST_POSTGRES environment variable.  It returns ErrNoTestSQLDB if
// the variable is not set.
func InitTestSQLDB() (*sqlx.DB, error) {
	pass := os.Getenv("ZKROLLUP_TEST_POSTGRES")
	if pass == "" {
		return nil, common.Wrap(ErrNoTestSQLDB)
	}
	return InitSQLDB(5432, "localhost", "zkrollup", pass, "zkrollup")
}

// MigrationsUp runs the SQL migrations Up
func MigrationsUp(db *sql.DB) error {
	nMigrations, err := migrate.Exec(db, "postgres", migrations, migrate.Up)
	if err != nil {
		return common.Wrap(err)
	}
	log.Info("successfully ran ", nMigrations, " migrations Up")
	return nil
}

// MigrationsDown runs the SQL migrations Down,
// migrationsToRun specifies how many migrations to run,
// value 0 runs all the migrations
func MigrationsDown(db *sql.DB, migrationsToRun uint) error {
	nMigrations, err := migrate.ExecMax(db, "postgres", migrations, migrate.Down,
		int(migrationsToRun))
	if err != nil {
		return common.Wrap(err)
	}
	log.Info("successfully ran ", nMigrations, " migrations Down")
	return nil
}

// Rollback an sql transaction, and log the error if it's not nil
func Rollback(txn *sqlx.Tx) {
	if err := txn.Rollback(); err != nil {
		log.Errorw("Rollback", "err", err)
	}
}

// SlicePtrsToSlice converts any []*Foo to []Foo
func SlicePtrsToSlice(slice interface{}) interface{} {
	v := reflect.ValueOf(slice)
	vLen := v.Len()
	typ := v.Type().Elem().Elem()
	res := reflect.MakeSlice(reflect.SliceOf(typ), vLen, vLen)
	for i := 0; i < vLen; i++ {
		res.Index(i).Set(v.Index(i).Elem())
	}
	return res.Interface()
}

// U256Meddler encodes or decodes the field value to or from a NUMERIC column
type U256Meddler struct{}

// PreRead is called before a Scan operation for fields that have the
// U256Meddler
func (u U256Meddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// give a pointer to a string to grab the raw data
	return new(string), nil
}

// PostRead is called after a Scan operation for fields that have the
// U256Meddler
func (u U256Meddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*string)
	if !ok {
		return common.Wrap(fmt.Errorf("U256Meddler.PostRead: unexpected scan target %T", scanTarget))
	}
	field, ok := fieldPtr.(*uint256.Int)
	if !ok {
		return common.Wrap(fmt.Errorf("U256Meddler.PostRead: unexpected field %T", fieldPtr))
	}
	if err := field.SetFromDecimal(*ptr); err != nil {
		return common.Wrap(fmt.Errorf("U256Meddler.PostRead: %w", err))
	}
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have
// the U256Meddler
func (u U256Meddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	switch field := fieldPtr.(type) {
	case uint256.Int:
		return field.Dec(), nil
	case *uint256.Int:
		if field == nil {
			return nil, nil
		}
		return field.Dec(), nil
	default:
		return nil, common.Wrap(fmt.Errorf("U256Meddler.PreWrite: unexpected field %T", fieldPtr))
	}
}
