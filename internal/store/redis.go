package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/config"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses REDIS_URL, applies the timeouts and pings the server.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.ReadTimeout = time.Duration(cfg.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(cfg.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(cfg.DialTimeout) * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisSessionStore keeps each session as a JSON value whose key TTL matches
// the sliding expiry. Get still checks ExpiresAt so a clock-controlled test
// and a slow key eviction agree.
type RedisSessionStore struct {
	rdb  redis.Cmdable
	opts Opts
}

var _ SessionStore = (*RedisSessionStore)(nil)

func NewRedisSessionStore(rdb redis.Cmdable, opts ...Option) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, opts: applyOpts(opts)}
}

func (r *RedisSessionStore) sessionKey(userID string) string {
	return fmt.Sprintf("flowpipe:session:%s", userID)
}

func (r *RedisSessionStore) Get(ctx context.Context, userID string) (*models.SessionState, error) {
	key := r.sessionKey(userID)
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		logx.Ctx(ctx).Error().Err(err).Str("key", key).Msg("RedisSessionStore.Get: failed to load session")
		return nil, fmt.Errorf("load session failed: %w", err)
	}
	var st models.SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", userID, err)
	}
	if st.Data == nil {
		st.Data = models.Data{}
	}
	if st.Expired(r.opts.Now()) {
		if err := r.Delete(ctx, userID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &st, nil
}

func (r *RedisSessionStore) Upsert(ctx context.Context, state *models.SessionState) error {
	st := stamp(state, r.opts.Now(), r.opts.TTL)
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := r.sessionKey(st.UserID)
	if err := r.rdb.Set(ctx, key, b, r.opts.TTL).Err(); err != nil {
		logx.Ctx(ctx).Error().Err(err).Str("key", key).Msg("RedisSessionStore.Upsert: failed to store session")
		return fmt.Errorf("upsert session failed: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, r.sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}
