package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/potgame/go/internal/dbconfig"
)

// databases holds the pgx pool used by the state store and the database/sql handle the
// outbox relay reads through.
type databases struct {
	Pool *pgxpool.Pool
	SQL  *sql.DB
	DSN  string
}

func setupDatabase(ctx context.Context) (*databases, error) {
	dbConfig := dbconfig.NewConfigFromEnv()

	poolConfig, err := dbConfig.PoolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := database.PingContext(ctx); err != nil {
		pool.Close()
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("connected to database")

	return &databases{Pool: pool, SQL: database, DSN: dbConfig.DSN()}, nil
}

func (d *databases) Close() {
	if d == nil {
		return
	}
	d.Pool.Close()
	if err := d.SQL.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}
