// Package publish forwards accepted snapshot updates to in-process
// subscribers and external brokers.
package publish

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/townmap/internal/syncer"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "townmap:updates"

// RedisClient is the subset of *redis.Client used by RedisPublisher.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisPublisher sends each notification as JSON on a pub/sub channel.
type RedisPublisher struct {
	client  RedisClient
	channel string
}

// OpenRedis returns a client for addr, or nil when addr is empty.
func OpenRedis(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// NewRedisPublisher wraps client. An empty channel uses DefaultRedisChannel.
func NewRedisPublisher(client RedisClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, n syncer.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return eris.Wrap(err, "redis: marshal notification")
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return eris.Wrapf(err, "redis: publish to %s", p.channel)
	}
	return nil
}

// Close closes the underlying client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
