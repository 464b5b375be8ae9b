package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

const minSlidingTTL = time.Second

// RedisPersister stores snapshots under "<prefix>:<clientID>" with a TTL.
// With sliding enabled every successful Load pushes the expiry out again.
type RedisPersister struct {
	redis   redis.UniversalClient
	prefix  string
	ttl     time.Duration
	sliding bool
}

// NewRedisPersister returns a RedisPersister. A ttl below one second is
// raised to one second.
func NewRedisPersister(rdb redis.UniversalClient, prefix string, ttl time.Duration, sliding bool) *RedisPersister {
	if ttl < minSlidingTTL {
		ttl = minSlidingTTL
	}
	return &RedisPersister{
		redis:   rdb,
		prefix:  prefix,
		ttl:     ttl,
		sliding: sliding,
	}
}

func (p *RedisPersister) key(clientID string) string {
	return p.prefix + ":" + clientID
}

// Save encodes s and writes it with the configured TTL.
func (p *RedisPersister) Save(ctx context.Context, clientID string, s *Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := p.redis.Set(ctx, p.key(clientID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Load reads the snapshot of clientID. A record that fails to decode is
// deleted and reported as ErrNotFound.
func (p *RedisPersister) Load(ctx context.Context, clientID string) (*Snapshot, error) {
	key := p.key(clientID)

	data, err := p.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	s, err := Decode(data)
	if err != nil {
		if delErr := p.redis.Del(ctx, key).Err(); delErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return nil, ErrNotFound
	}

	if p.sliding {
		if err := p.redis.Expire(ctx, key, p.ttl).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return s, nil
}

// Delete removes the snapshot. Deleting a missing key is not an error.
func (p *RedisPersister) Delete(ctx context.Context, clientID string) error {
	if err := p.redis.Del(ctx, p.key(clientID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping checks connectivity.
func (p *RedisPersister) Ping(ctx context.Context) error {
	if err := p.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
