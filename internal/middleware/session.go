// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/insightlab/insight/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "connect.sid"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに本人確認済みのIdentityを格納するためのキー。
var identityContextKey = contextKey("identity")

// holderContextKey はアクセスログ用にユーザーIDを外側のミドルウェアへ返す入れ物のキー。
var holderContextKey = contextKey("identity_holder")

// identityHolder は内側のハンドラーで確定したユーザーIDを保持する。
// 同一リクエストのゴルーチン内でのみ読み書きする。
type identityHolder struct {
	userID string
}

func withIdentityHolder(ctx context.Context, h *identityHolder) context.Context {
	if identity, ok := IdentityFromContext(ctx); ok {
		h.userID = identity.UserID
	}
	return context.WithValue(ctx, holderContextKey, h)
}

// SessionFinder はセッションの検索に必要なインターフェース。
// session.Storeの部分集合として定義する。
type SessionFinder interface {
	Get(ctx context.Context, id string) (*model.Session, error)
}

// SessionIDFromRequest はCookieからセッションIDを取得する。存在しない場合は空文字列を返す。
func SessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みのIdentityをリクエストコンテキストに注入する。
// 未認証リクエストには401とAUTH_REQUIREDを返す。ストアのエラーも未認証として扱う。
func NewSessionMiddleware(sessions SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := SessionIDFromRequest(r)
			if sessionID == "" {
				WriteUnauthorized(w)
				return
			}

			sess, err := sessions.Get(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				WriteUnauthorized(w)
				return
			}
			if sess == nil {
				WriteUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), sess.Identity)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストからIdentityを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || identity.UserID == "" {
		return model.Identity{}, false
	}
	return identity, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.UserID, nil
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	if h, ok := ctx.Value(holderContextKey).(*identityHolder); ok {
		h.userID = identity.UserID
	}
	return context.WithValue(ctx, identityContextKey, identity)
}

// ContextWithUserID はユーザーIDのみを持つIdentityをコンテキストに注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithIdentity(ctx, model.Identity{UserID: userID})
}
