package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/insightlab/insight/internal/model"
)

// MemoryStore はプロセス内のマップにセッションを保持するストア。
// 破棄されたIDは元の有効期限までトゥームストーンとして残し、再発行を防ぐ。
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*model.Session
	tombstones map[string]time.Time // ID -> 元の有効期限
	opts       options
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*model.Session),
		tombstones: make(map[string]time.Time),
		opts:       newOptions(opts),
	}
}

// TTL はセッションの有効期間を返す。
func (s *MemoryStore) TTL() time.Duration {
	return s.opts.ttl
}

// Create はセッションを発行する。
func (s *MemoryStore) Create(_ context.Context, identity model.Identity) (*model.Session, error) {
	for i := 0; i < maxCreateAttempts; i++ {
		id, err := s.opts.newID()
		if err != nil {
			return nil, err
		}

		now := s.opts.now()
		sess := &model.Session{
			ID:        id,
			Identity:  identity,
			CreatedAt: now,
			ExpiresAt: now.Add(s.opts.ttl),
		}

		s.mu.Lock()
		if s.inUseLocked(id, now) {
			s.mu.Unlock()
			continue
		}
		s.sessions[id] = sess
		s.mu.Unlock()

		out := *sess
		return &out, nil
	}
	return nil, ErrIDExhausted
}

// inUseLocked はIDが有効なセッションまたは有効期間中のトゥームストーンに使われているかを返す。
// 呼び出し側はロックを保持していること。
func (s *MemoryStore) inUseLocked(id string, now time.Time) bool {
	if existing, ok := s.sessions[id]; ok && !existing.IsExpired(now) {
		return true
	}
	if until, ok := s.tombstones[id]; ok && now.Before(until) {
		return true
	}
	return false
}

// Get は指定IDのセッションを返す。
// 期限切れのエントリは掃除前でも不在として扱う。
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || sess.IsExpired(s.opts.now()) {
		return nil, nil
	}
	out := *sess
	return &out, nil
}

// Destroy はセッションを破棄し、元の有効期限までトゥームストーンを残す。
func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	delete(s.sessions, id)
	if s.opts.now().Before(sess.ExpiresAt) {
		s.tombstones[id] = sess.ExpiresAt
	}
	return nil
}

// Len は保持しているセッション数を返す。期限切れで未掃除のものを含む。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep は期限切れのセッションと不要になったトゥームストーンを削除し、削除したセッション数を返す。
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.IsExpired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	for id, until := range s.tombstones {
		if !now.Before(until) {
			delete(s.tombstones, id)
		}
	}
	return removed
}

// Run はintervalごとにSweepを実行する。ctxがキャンセルされると終了する。
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.opts.now()); n > 0 {
				slog.Info("expired sessions swept", slog.Int("count", n))
			}
		}
	}
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
