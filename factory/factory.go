// Package factory provides dialect-specific wiring constructors for
// cubeengine.Engine, the way forma's factory.NewEntityManagerWithConfig
// assembles a pool, a metadata loader and a repository into one
// EntityManager. Each constructor here opens the driver connection for one
// dialect, confirms it is reachable, and returns a ready-to-query Engine.
package factory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/lychee-technology/cubeengine"
	"github.com/lychee-technology/cubeengine/internal/dialect"
	"github.com/lychee-technology/cubeengine/internal/exec"
)

const pingTimeout = 5 * time.Second

// requireFrozenRegistry rejects a registry with no registered cubes. It does
// not check whether Freeze has been called; CubeRegistry exposes no frozen
// state to check.
func requireFrozenRegistry(registry cubeengine.CubeRegistry) error {
	if len(registry.Metadata()) == 0 {
		return fmt.Errorf("factory: registry has no registered cubes")
	}
	return nil
}

// NewPostgresEngine opens a pgxpool against dsn and wires it into an Engine
// through exec.PgxRunner. This is the primary way external callers build an
// Engine for a Postgres-backed warehouse.
func NewPostgresEngine(ctx context.Context, dsn string, registry cubeengine.CubeRegistry, cfg *cubeengine.EngineConfig) (*cubeengine.Engine, error) {
	if err := requireFrozenRegistry(registry); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("factory: open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("factory: ping postgres: %w", err)
	}

	adapter, err := dialect.New(dialect.Postgres)
	if err != nil {
		pool.Close()
		return nil, err
	}

	zap.S().Infow("factory: postgres engine ready", "cubes", len(registry.Metadata()))
	return cubeengine.NewEngine(registry, adapter, &exec.PgxRunner{Pool: pool}, cfg), nil
}

// NewDuckDBEngine opens a database/sql DB through the duckdb-go/v2 driver at
// path (":memory:" for an in-process database, matching forma's
// DuckDBClient default) and wires it into an Engine.
func NewDuckDBEngine(ctx context.Context, path string, registry cubeengine.CubeRegistry, cfg *cubeengine.EngineConfig) (*cubeengine.Engine, error) {
	if path == "" {
		path = ":memory:"
	}
	return newSQLEngine(ctx, "duckdb", path, dialect.DuckDB, registry, cfg, func(db *sql.DB) {
		db.SetMaxOpenConns(1)
	})
}

// NewMySQLEngine opens a database/sql DB through go-sql-driver/mysql and
// wires it into an Engine.
func NewMySQLEngine(ctx context.Context, dsn string, registry cubeengine.CubeRegistry, cfg *cubeengine.EngineConfig) (*cubeengine.Engine, error) {
	return newSQLEngine(ctx, "mysql", dsn, dialect.MySQL, registry, cfg, nil)
}

// NewSingleStoreEngine opens a database/sql DB through go-sql-driver/mysql
// (SingleStore speaks the MySQL wire protocol) and wires it into an Engine
// whose Adapter reports dialect.SingleStore capabilities.
func NewSingleStoreEngine(ctx context.Context, dsn string, registry cubeengine.CubeRegistry, cfg *cubeengine.EngineConfig) (*cubeengine.Engine, error) {
	return newSQLEngine(ctx, "mysql", dsn, dialect.SingleStore, registry, cfg, nil)
}

// NewSQLiteEngine opens a database/sql DB through mattn/go-sqlite3 and wires
// it into an Engine.
func NewSQLiteEngine(ctx context.Context, path string, registry cubeengine.CubeRegistry, cfg *cubeengine.EngineConfig) (*cubeengine.Engine, error) {
	return newSQLEngine(ctx, "sqlite3", path, dialect.SQLite, registry, cfg, func(db *sql.DB) {
		db.SetMaxOpenConns(1)
	})
}

func newSQLEngine(ctx context.Context, driverName, dsn string, name dialect.Name, registry cubeengine.CubeRegistry, cfg *cubeengine.EngineConfig, configure func(*sql.DB)) (*cubeengine.Engine, error) {
	if err := requireFrozenRegistry(registry); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("factory: open %s: %w", driverName, err)
	}
	if configure != nil {
		configure(db)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("factory: ping %s: %w", driverName, err)
	}

	adapter, err := dialect.New(name)
	if err != nil {
		db.Close()
		return nil, err
	}

	zap.S().Infow("factory: engine ready", "dialect", name, "cubes", len(registry.Metadata()))
	return cubeengine.NewEngine(registry, adapter, &exec.SQLRunner{DB: db}, cfg), nil
}
