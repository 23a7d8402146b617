package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher keeps one set of user ids per session plus a set of live sessions, and
// publishes every change as JSON on a pub/sub topic.
//
//	<prefix>:sessions               live session ids (base 36)
//	<prefix>:session:<id>:users     user ids subscribed to a session
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	topic   string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(ctx context.Context, cfg config.PresenceRedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, orDefault(cfg.Timeout, time.Second))
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPublisher{
		client:  client,
		prefix:  cfg.Prefix,
		topic:   cfg.Topic,
		ttl:     cfg.TTL,
		timeout: orDefault(cfg.Timeout, time.Second),
	}, nil
}

func (p *RedisPublisher) sessionsKey() string {
	return p.prefix + ":sessions"
}

func (p *RedisPublisher) usersKey(session registry.SessionID) string {
	return p.prefix + ":session:" + session.String() + ":users"
}

func (p *RedisPublisher) Subscribed(ctx context.Context, session registry.SessionID, user registry.UserID) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.event(KindSubscribed, session, user)
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, p.sessionsKey(), session.String())
		pipe.SAdd(ctx, p.usersKey(session), string(user))
		if p.ttl > 0 {
			pipe.Expire(ctx, p.usersKey(session), p.ttl)
		}
		pipe.Publish(ctx, p.topic, msg)
		return nil
	})
	return err
}

func (p *RedisPublisher) Unsubscribed(ctx context.Context, session registry.SessionID, user registry.UserID, sessionEmpty bool) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.event(KindUnsubscribed, session, user)
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, p.usersKey(session), string(user))
		if sessionEmpty {
			pipe.SRem(ctx, p.sessionsKey(), session.String())
			pipe.Del(ctx, p.usersKey(session))
		}
		pipe.Publish(ctx, p.topic, msg)
		return nil
	})
	return err
}

func (p *RedisPublisher) Evicted(ctx context.Context, session registry.SessionID) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.event(KindEvicted, session, "")
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, p.sessionsKey(), session.String())
		pipe.Del(ctx, p.usersKey(session))
		pipe.Publish(ctx, p.topic, msg)
		return nil
	})
	return err
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func (p *RedisPublisher) event(kind string, session registry.SessionID, user registry.UserID) ([]byte, error) {
	return json.Marshal(Event{
		Kind:    kind,
		Session: session.String(),
		User:    string(user),
		At:      time.Now().UnixMilli(),
	})
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
