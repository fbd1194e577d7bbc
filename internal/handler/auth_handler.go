// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/insightlab/insight/internal/middleware"
	"github.com/insightlab/insight/internal/model"
)

const (
	oauthStateCookie   = "oauth_state"
	authRedirectCookie = "auth_redirect"
	oauthCookieMaxAge  = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginVerification(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentIdentity(ctx context.Context, sessionID string) (*model.Identity, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL   string // ログイン・ログアウト後のリダイレクト先
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）。セッションストアのTTLと一致させる
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// currentUserResponse は GET /auth/current-user のレスポンス。
type currentUserResponse struct {
	Authenticated bool            `json:"authenticated"`
	User          *model.Identity `json:"user,omitempty"`
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google[?redirect=/path]
// redirectが安全な相対パスの場合、ログイン後の遷移先としてCookieに保存する。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortLivedCookie(w, oauthStateCookie, state, oauthCookieMaxAge)

	if dest := r.URL.Query().Get("redirect"); dest != "" {
		if isSafeRedirect(dest) {
			h.setShortLivedCookie(w, authRedirectCookie, url.QueryEscape(dest), oauthCookieMaxAge)
		} else {
			slog.Warn("ignored unsafe post-login redirect", slog.String("redirect", dest))
		}
	}

	http.Redirect(w, r, h.service.BeginVerification(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}
	h.setShortLivedCookie(w, oauthStateCookie, "", -1)

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	// 3. 本人確認とセッション発行
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		if errors.Is(err, model.ErrVerificationFailed) {
			slog.Warn("identity verification failed", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewVerificationFailedError())
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 5. 保存済みの遷移先、なければフロントエンドにリダイレクト
	target := h.config.FrontendURL
	if c, err := r.Cookie(authRedirectCookie); err == nil {
		h.setShortLivedCookie(w, authRedirectCookie, "", -1)
		if dest, err := url.QueryUnescape(c.Value); err == nil && isSafeRedirect(dest) {
			target = strings.TrimSuffix(h.config.FrontendURL, "/") + dest
		}
	}

	slog.Info("user signed in", slog.String("user_id", session.Identity.UserID))
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄してフロントエンドにリダイレクトする。
// GET /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r)
	http.Redirect(w, r, h.config.FrontendURL, http.StatusTemporaryRedirect)
}

// LogoutAPI はセッションを破棄してJSONで結果を返す。
// POST /auth/logout
func (h *AuthHandler) LogoutAPI(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// endSession はセッションを破棄し、Cookieをクリアする。
// 破棄に失敗してもログに記録するだけでCookieはクリアする。
func (h *AuthHandler) endSession(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.SessionIDFromRequest(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CurrentUser は現在のログイン状態を返す。未認証でも200を返す。
// GET /auth/current-user
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	resp := currentUserResponse{}

	if sessionID := middleware.SessionIDFromRequest(r); sessionID != "" {
		identity, err := h.service.CurrentIdentity(r.Context(), sessionID)
		if err != nil {
			slog.Error("failed to get current identity", slog.String("error", err.Error()))
		} else if identity != nil {
			resp.Authenticated = true
			resp.User = identity
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) setShortLivedCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// isSafeRedirect は同一オリジン内の相対パスのみを許可する。
func isSafeRedirect(dest string) bool {
	if !strings.HasPrefix(dest, "/") || strings.HasPrefix(dest, "//") {
		return false
	}
	if strings.ContainsAny(dest, "\\\r\n") {
		return false
	}
	u, err := url.Parse(dest)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
