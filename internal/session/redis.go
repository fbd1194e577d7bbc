package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/insightlab/insight/internal/model"
)

const (
	redisKeyPrefix     = "session:"
	redisTombKeyPrefix = "session:tomb:"
)

// RedisClient はRedisStoreが使用するgo-redisのコマンドの部分集合。
// *redis.Client はこのインターフェースを満たす。
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// redisSession はRedisに保存するセッションの値。
type redisSession struct {
	Identity  model.Identity `json:"identity"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// RedisStore はRedisにセッションを保存するストア。
// キーのTTLはセッションの有効期間と一致させ、破棄時は残り期間のトゥームストーンを書き込む。
type RedisStore struct {
	client RedisClient
	opts   options
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client RedisClient, opts ...Option) *RedisStore {
	return &RedisStore{client: client, opts: newOptions(opts)}
}

// NewRedisClient はREDIS_URL形式の接続文字列からクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Create はセッションを発行する。
func (s *RedisStore) Create(ctx context.Context, identity model.Identity) (*model.Session, error) {
	for i := 0; i < maxCreateAttempts; i++ {
		id, err := s.opts.newID()
		if err != nil {
			return nil, err
		}

		tombstoned, err := s.client.Exists(ctx, redisTombKeyPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check session tombstone: %w", err)
		}
		if tombstoned > 0 {
			continue
		}

		now := s.opts.now()
		sess := &model.Session{
			ID:        id,
			Identity:  identity,
			CreatedAt: now,
			ExpiresAt: now.Add(s.opts.ttl),
		}
		b, err := json.Marshal(redisSession{Identity: identity, CreatedAt: sess.CreatedAt, ExpiresAt: sess.ExpiresAt})
		if err != nil {
			return nil, fmt.Errorf("failed to encode session: %w", err)
		}

		ok, err := s.client.SetNX(ctx, redisKeyPrefix+id, b, s.opts.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		if !ok {
			continue
		}
		return sess, nil
	}
	return nil, ErrIDExhausted
}

// Get は指定IDのセッションを返す。キーのTTLより先に期限が来た場合も不在として扱う。
func (s *RedisStore) Get(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}
	stored, err := s.load(ctx, id)
	if err != nil || stored == nil {
		return nil, err
	}

	sess := &model.Session{
		ID:        id,
		Identity:  stored.Identity,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	if sess.IsExpired(s.opts.now()) {
		return nil, nil
	}
	return sess, nil
}

// Destroy はセッションを削除し、元の有効期限までトゥームストーンを残す。
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	stored, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	if remaining := stored.ExpiresAt.Sub(s.opts.now()); remaining > 0 {
		if err := s.client.Set(ctx, redisTombKeyPrefix+id, "1", remaining).Err(); err != nil {
			return fmt.Errorf("failed to write session tombstone: %w", err)
		}
	}
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Ping はRedisへの到達性を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// TTL はセッションの有効期間を返す。
func (s *RedisStore) TTL() time.Duration {
	return s.opts.ttl
}

func (s *RedisStore) load(ctx context.Context, id string) (*redisSession, error) {
	b, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	var stored redisSession
	if err := json.Unmarshal(b, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &stored, nil
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
