package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// NewRedisClient parses url, applies db when non-negative and verifies the
// connection.
func NewRedisClient(url string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if db >= 0 {
		opts.DB = db
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// invalidationChannel carries the ids of principals whose attributes changed.
const invalidationChannel = "keystone:attrs:invalidate"

// RedisAttributeCache shares resolved attributes between API replicas.
// Deletes are published so replicas that Subscribe drop their local copies.
type RedisAttributeCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAttributeCache creates a cache whose entries live for ttl.
func NewRedisAttributeCache(client *redis.Client, ttl time.Duration) *RedisAttributeCache {
	return &RedisAttributeCache{client: client, ttl: ttl}
}

func attrKey(id uuid.UUID) string {
	return fmt.Sprintf("keystone:attrs:%s", id)
}

// Get returns cached attributes, or nil on a miss.
func (c *RedisAttributeCache) Get(ctx context.Context, id uuid.UUID) (*Attributes, error) {
	key := attrKey(id)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var attrs Attributes
	if err := json.Unmarshal(data, &attrs); err != nil {
		// Drop corrupt entries so the next lookup repopulates them
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return &attrs, nil
}

// Set caches attrs.
func (c *RedisAttributeCache) Set(ctx context.Context, attrs *Attributes) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	if err := c.client.Set(ctx, attrKey(attrs.PrincipalID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete evicts one principal and announces it on the invalidation channel.
func (c *RedisAttributeCache) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.client.Del(ctx, attrKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	if err := c.client.Publish(ctx, invalidationChannel, id.String()).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe calls evict with every principal id published on the
// invalidation channel until ctx is done.
func (c *RedisAttributeCache) Subscribe(ctx context.Context, evict func(uuid.UUID)) error {
	pubsub := c.client.Subscribe(ctx, invalidationChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				id, err := uuid.Parse(msg.Payload)
				if err != nil {
					continue
				}
				evict(id)
			}
		}
	}()
	return nil
}
