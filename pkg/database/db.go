package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// Querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

type DB interface {
	Querier
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Close() error
	DriverName() string
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	Raw() *sqlx.DB
}

type DatabaseInstance struct {
	*sqlx.DB
	logger ectologger.Logger
}

func NewDatabaseInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
	}
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db, opts)
}

func (db *DatabaseInstance) Raw() *sqlx.DB {
	return db.DB
}

// ConnectionConfig describes a postgres connection and its pool.
type ConnectionConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c ConnectionConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", c.Host, c.Port, c.User, c.Password, c.Name, sslMode)
}

// Connect opens a pooled postgres connection and verifies it with a ping.
func Connect(ctx context.Context, cfg ConnectionConfig, logger ectologger.Logger) (DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to connect to postgres at %s:%s", cfg.Host, cfg.Port))
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.WithFields(map[string]any{"host": cfg.Host, "database": cfg.Name}).Info("Connected to postgres")
	return NewDatabaseInstance(db, logger), nil
}

// Conn returns the transaction carried by ctx when one is open, otherwise db.
func Conn(ctx context.Context, db DB) Querier {
	if tx, ok := ctx.Value(txKey).(*Transaction); ok && tx != nil && tx.IsOpen() {
		return tx.Tx
	}
	return db
}
