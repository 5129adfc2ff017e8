// Package store provides the router's read/write access to route tables,
// scope grants, adapter registrations, and the audit stream, behind narrow
// ports the resolver, permission gate, adapter registry and audit sink
// depend on rather than a concrete database.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/penguintechinc/waddlebot-router/internal/store/migrations"
)

// gooseLogger adapts the router's zap logger to goose's Logger interface.
type gooseLogger struct {
	log *zap.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) { l.log.Sugar().Errorf(format, v...) }
func (l gooseLogger) Printf(format string, v ...any) { l.log.Sugar().Infof(format, v...) }

// Connect opens a pgxpool.Pool against dsn with the given connection limits.
func Connect(ctx context.Context, dsn string, maxConns, minConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	if minConns > 0 {
		cfg.MinConns = int32(minConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate applies every pending goose migration embedded in this package.
func Migrate(dsn string, log *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{log: log})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
