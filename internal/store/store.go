// Package store is the postgres persistence layer: users, content, the
// per-content access map, and chat messages. Schema is managed with
// embedded goose migrations applied at startup.
package store

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/privatechat-app/privatechat-server/internal/health"
	"github.com/privatechat-app/privatechat-server/internal/xerrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool *pgxpool.Pool

	Users    *UserRepo
	Content  *ContentRepo
	Messages *MessageRepo
}

// Open connects the pool and verifies the connection. Migrations run
// separately via Migrate so callers control ordering at startup.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, "pgx pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, xerrors.Wrap(err, "postgres ping")
	}

	return &Store{
		pool:     pool,
		Users:    &UserRepo{pool: pool},
		Content:  &ContentRepo{pool: pool},
		Messages: &MessageRepo{pool: pool},
	}, nil
}

// Migrate applies embedded migrations. goose drives database/sql, so a
// short-lived stdlib connection is opened just for this.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return xerrors.Wrap(err, "open migration connection")
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return xerrors.Wrap(err, "goose dialect")
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return xerrors.Wrap(err, "goose up")
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// ReadinessProbe reports whether postgres answers a ping.
func (s *Store) ReadinessProbe() health.CheckFunc {
	return func(ctx context.Context) error {
		c, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.pool.Ping(c); err != nil {
			return xerrors.Wrap(err, "postgres")
		}
		return nil
	}
}
