package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/insightlab/insight/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pqUniqueViolation = "23505"

// PostgresStore はsessionsテーブルにセッションを保存するストア。
// Identityはusersテーブルとの結合で復元する。
// Destroyは行を削除せずrevoked_atを記録するため、期限切れまで同じIDは主キー制約で再発行されない。
type PostgresStore struct {
	db   *sql.DB
	opts options
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: newOptions(opts)}
}

// Create はセッションを発行する。
func (s *PostgresStore) Create(ctx context.Context, identity model.Identity) (*model.Session, error) {
	if identity.UserID == "" {
		return nil, fmt.Errorf("identity user ID is required")
	}

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

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, expires_at, created_at)
			 VALUES ($1, $2, $3, $4)`,
			sess.ID, identity.UserID, sess.ExpiresAt, sess.CreatedAt,
		)
		if err == nil {
			return sess, nil
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			continue
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return nil, ErrIDExhausted
}

// Get は指定IDのセッションを返す。期限切れと破棄済みは不在として扱う。
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}

	sess := &model.Session{ID: id}
	var avatar sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT s.expires_at, s.created_at, u.id, u.name, u.email, u.avatar_url
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1 AND s.revoked_at IS NULL AND s.expires_at > $2`,
		id, s.opts.now(),
	).Scan(&sess.ExpiresAt, &sess.CreatedAt,
		&sess.Identity.UserID, &sess.Identity.DisplayName, &sess.Identity.Email, &avatar)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	sess.Identity.AvatarURL = avatar.String

	// DBとアプリケーションの時計のずれに備えてGo側でも確認する
	if sess.IsExpired(s.opts.now()) {
		return nil, nil
	}
	return sess, nil
}

// Destroy はセッションを破棄済みにする。
func (s *PostgresStore) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, s.opts.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// DestroyByUserID は指定ユーザーの全セッションを破棄済みにする。
func (s *PostgresStore) DestroyByUserID(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, s.opts.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to destroy user sessions: %w", err)
	}
	return nil
}

// Ping はデータベースへの到達性を確認する。
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TTL はセッションの有効期間を返す。
func (s *PostgresStore) TTL() time.Duration {
	return s.opts.ttl
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
