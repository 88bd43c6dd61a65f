package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexport/chatlink/tools/errs"
)

// PG implements the durable storage contract over the three relational
// tables: conversations, messages, user_presence. Schema migration is not
// owned here; the tables are expected to exist.
type PG struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*PG, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "pgx ping")
	}
	return &PG{pool: pool}, nil
}

func (s *PG) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
