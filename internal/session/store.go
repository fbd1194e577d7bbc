// Package session はログインセッションの保存先を提供する。
//
// すべての実装は同じ契約に従う:
//   - Get は未知のIDと期限切れのIDに対して (nil, nil) を返す。不在はエラーではない。
//   - Destroy は冪等。
//   - 破棄されたIDは元の有効期限が切れるまで再発行されない。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/insightlab/insight/internal/model"
)

// DefaultTTL はセッションの既定の有効期間。
const DefaultTTL = 24 * time.Hour

// maxCreateAttempts はID衝突時に再生成する上限回数。
const maxCreateAttempts = 3

// ErrIDExhausted はID生成を繰り返しても未使用のIDが得られなかったことを表す。
var ErrIDExhausted = errors.New("session: could not allocate an unused session ID")

// Store はセッションの保存先のインターフェース。
// 実装は並行呼び出しに対して安全でなければならない。
type Store interface {
	// Create はidentityに紐付く新しいセッションを発行する。
	Create(ctx context.Context, identity model.Identity) (*model.Session, error)
	// Get は指定IDのセッションを返す。存在しないか期限切れの場合は (nil, nil)。
	Get(ctx context.Context, id string) (*model.Session, error)
	// Destroy は指定IDのセッションを破棄する。存在しない場合も成功する。
	Destroy(ctx context.Context, id string) error
}

// IsExpired は時刻nowの時点でsessionが期限切れかどうかを返す。
func IsExpired(s *model.Session, now time.Time) bool {
	return s.IsExpired(now)
}

// GenerateID は32バイトの暗号論的乱数を16進文字列にしたセッションIDを生成する。
func GenerateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// options は各実装に共通の設定。
type options struct {
	ttl   time.Duration
	now   func() time.Time
	newID func() (string, error)
}

// Option はストアの設定を変更する。
type Option func(*options)

// WithTTL はセッションの有効期間を設定する。0以下の値は無視する。
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator はセッションIDの生成関数を差し替える。
func WithIDGenerator(newID func() (string, error)) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		ttl:   DefaultTTL,
		now:   time.Now,
		newID: GenerateID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
