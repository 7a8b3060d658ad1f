package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dimitrije/mise-api/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the session as JSON under "<prefix><key>" and publishes
// notices on "<prefix>events".
type RedisStore struct {
	client  *redis.Client
	key     string
	channel string
	ttl     time.Duration
}

func NewRedisStore(client *redis.Client, prefix, key string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "mise:session:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{
		client:  client,
		key:     prefix + key,
		channel: prefix + "events",
		ttl:     ttl,
	}
}

func (r *RedisStore) Load(ctx context.Context) (*models.Session, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *models.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return r.client.Set(ctx, r.key, b, r.ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *RedisStore) Publish(ctx context.Context, n Notice) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Listen blocks delivering notices to fn until ctx is done.
func (r *RedisStore) Listen(ctx context.Context, fn func(Notice)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n Notice
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				continue
			}
			fn(n)
		}
	}
}
