package realtime

import (
	"context"
	"fmt"

	redispkg "github.com/barberdeskapp/barberdesk-backend/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

// RedisStreamOpener opens bus subscriptions over the shared redis client.
type RedisStreamOpener struct {
	client *redispkg.Client
}

// NewRedisStreamOpener builds a stream opener.
func NewRedisStreamOpener(client *redispkg.Client) (*RedisStreamOpener, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &RedisStreamOpener{client: client}, nil
}

// OpenStream subscribes to one topic channel.
func (o *RedisStreamOpener) OpenStream(ctx context.Context, topic string) (MessageStream, error) {
	sub, err := o.client.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	return &redisStream{sub: sub}, nil
}

type redisStream struct {
	sub *goredis.PubSub
}

func (s *redisStream) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.sub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisStream) Close() error {
	return s.sub.Close()
}
