package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultChannel = "studioflow.phase"

// RedisPublisher publishes events on a pub/sub channel and keeps the last
// event of each project under a key for late subscribers.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	prefix  string
}

// NewRedisPublisher connects to redisURL and verifies the connection.
func NewRedisPublisher(redisURL, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisPublisherWithClient(client, channel), nil
}

func NewRedisPublisherWithClient(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, prefix: "studioflow:last_event:"}
}

// LastEventKey is the key holding the most recent event of a project.
func (p *RedisPublisher) LastEventKey(projectID string) string {
	return p.prefix + projectID
}

func (p *RedisPublisher) Notify(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.Set(ctx, p.LastEventKey(evt.ProjectID), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
