// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"perun.network/provenance-backend/ledger"
)

// RedisConfig configures the redis snapshot store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Key overrides SnapshotKey.
	Key string
}

// Redis keeps the snapshot under a single redis key.
type Redis struct {
	client *redis.Client
	key    string
}

// DialRedis connects to the redis server of cfg and checks the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("empty redis address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.WithMessagef(err, "connecting to redis at %s", cfg.Addr)
	}
	key := cfg.Key
	if key == "" {
		key = SnapshotKey
	}
	return &Redis{client: client, key: key}, nil
}

func (r *Redis) LoadSnapshot(ctx context.Context) (ledger.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.Snapshot{}, nil
	} else if err != nil {
		return ledger.Snapshot{}, errors.WithMessage(err, "reading snapshot")
	}
	return decode(data)
}

func (r *Redis) SaveSnapshot(ctx context.Context, s ledger.Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	return errors.WithMessage(r.client.Set(ctx, r.key, data, 0).Err(), "writing snapshot")
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
