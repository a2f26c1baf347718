package seen

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "poetry:seen:"

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient connects and pings.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisSet stores one session's ids in a Redis set that expires ttl after
// the last write.
type RedisSet struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSet binds a set to sessionID.
func NewRedisSet(client *redis.Client, sessionID string, ttl time.Duration) *RedisSet {
	return &RedisSet{client: client, key: keyPrefix + sessionID, ttl: ttl}
}

// Key returns the Redis key backing the set.
func (s *RedisSet) Key() string { return s.key }

func (s *RedisSet) Add(ctx context.Context, id int64) (bool, error) {
	pipe := s.client.TxPipeline()
	added := pipe.SAdd(ctx, s.key, strconv.FormatInt(id, 10))
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("add seen id %d: %w", id, err)
	}
	return added.Val() == 1, nil
}

func (s *RedisSet) Contains(ctx context.Context, id int64) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("check seen id %d: %w", id, err)
	}
	return ok, nil
}

func (s *RedisSet) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("reset seen set: %w", err)
	}
	return nil
}

func (s *RedisSet) Len(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count seen ids: %w", err)
	}
	return int(n), nil
}
