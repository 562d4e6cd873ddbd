package authstate

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps session records in a Redis hash per session and announces
// every write on a pub/sub channel, which is what drives cross-tab (and
// cross-instance) synchronization. Records expire after ttl of inactivity.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client. prefix namespaces the keys,
// ttl bounds how long an idle session record lives; ttl <= 0 disables expiry.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "fleetgate:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(sid string) string     { return s.prefix + "session:" + sid }
func (s *RedisStore) channel(sid string) string { return s.prefix + "session-events:" + sid }

func (s *RedisStore) Load(ctx context.Context, sid string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sid)).Result()
	if err != nil {
		return Record{}, err
	}
	return recordFromFields(fields), nil
}

func (s *RedisStore) SetLoggedIn(ctx context.Context, sid string, loggedIn bool) error {
	return s.write(ctx, sid, map[string]any{"logged_in": strconv.FormatBool(loggedIn)})
}

func (s *RedisStore) SetEmail(ctx context.Context, sid, email string) error {
	return s.write(ctx, sid, map[string]any{"email": email})
}

func (s *RedisStore) SetTokens(ctx context.Context, sid, access, refresh string) error {
	return s.write(ctx, sid, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *RedisStore) Clear(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, s.key(sid)).Err(); err != nil {
		return err
	}
	return s.publish(ctx, sid, Record{})
}

// Watch subscribes to the session's event channel. The returned channel is
// closed when ctx is canceled.
func (s *RedisStore) Watch(ctx context.Context, sid string) (<-chan Record, error) {
	sub := s.client.Subscribe(ctx, s.channel(sid))
	// Force the subscription to be established before returning, so callers
	// do not miss events published right after Watch.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Record, 8)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var rec Record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) write(ctx context.Context, sid string, fields map[string]any) error {
	key := s.key(sid)
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return err
		}
	}
	rec, err := s.Load(ctx, sid)
	if err != nil {
		return err
	}
	return s.publish(ctx, sid, rec)
}

func (s *RedisStore) publish(ctx context.Context, sid string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel(sid), payload).Err()
}

func recordFromFields(fields map[string]string) Record {
	return Record{
		LoggedIn:     fields["logged_in"] == "true",
		Email:        fields["email"],
		AccessToken:  fields["access_token"],
		RefreshToken: fields["refresh_token"],
	}
}
