package storage

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/lexport/chatlink/tools/errs"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Redis holds the ephemeral state of the chat layer: presence and typing
// rows that expire on their own instead of being historized. Constructed
// explicitly and passed by reference; there is no package-level client.
type Redis struct {
	rdb *redis.Client
}

func OpenRedis(ctx context.Context, c Config) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
