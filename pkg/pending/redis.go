package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/logger"
	"github.com/redis/go-redis/v9"
	json "github.com/json-iterator/go"
)

const keyPrefix = "pending:"

// DefaultTTL bounds how long a record outlives a process that never saw
// its terminal status.
const DefaultTTL = 24 * time.Hour

// RedisStore keeps records under pending:<kind>:<id>, so several
// processes can share them.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl keeps records forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		PoolSize:     4,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger.Debug("Redis pending store connected", "addr", addr, "db", db)
	return client, nil
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+rec.Key(), data, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, kind api.ContentKind, contentID string) error {
	return s.client.Del(ctx, keyPrefix+Key(kind, contentID)).Err()
}

func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	var out []Record

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired between SCAN and GET.
			continue
		}
		if err != nil {
			return nil, err
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Warn("Skipping corrupt pending record", "key", key, "error", err)
			continue
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	sortRecords(out)
	return out, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
