// Package client はサーバーAPIを呼び出す唯一の経路となるHTTPクライアントを提供する。
//
// すべての呼び出しはRequestを通り、セッションCookieの付与、CSRFトークンの付与、
// エラーの分類（TransportError / HTTPError）を一箇所で行う。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	// SessionCookieName はサーバーが発行するセッションCookieの名前。
	SessionCookieName = "connect.sid"

	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
	csrfTokenEndpoint = "/api/csrf-token"

	defaultTimeout = 90 * time.Second

	// maxErrorBodyBytes はエラーレスポンスから読み取る最大バイト数。
	maxErrorBodyBytes = 64 << 10
)

// Config はClientの設定。
type Config struct {
	// BaseURL はサーバーのオリジン（例: http://localhost:5000）。
	BaseURL string
	// SessionID が指定された場合、セッションCookieとして事前に登録する。
	SessionID string
	// HTTPClient を差し替える場合に指定する。Jarとリダイレクト設定は上書きされる。
	HTTPClient *http.Client
	// Timeout は1リクエストあたりのタイムアウト。0の場合は90秒。
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client はサーバーAPIのHTTPクライアント。並行利用に対して安全。
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger

	csrfMu sync.Mutex
}

// RequestOption は個々のリクエストに追加の設定を行う。
type RequestOption func(*http.Request)

// WithHeader はリクエストヘッダーを追加する。
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// New はClientを生成する。
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if cfg.SessionID != "" {
		jar.SetCookies(base, []*http.Cookie{{Name: SessionCookieName, Value: cfg.SessionID, Path: "/"}})
	}

	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		hc = &copied
	}
	hc.Jar = jar
	// 遷移の判断は呼び出し側が行うため、リダイレクトは追わない
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if hc.Timeout == 0 {
		hc.Timeout = cfg.Timeout
		if hc.Timeout <= 0 {
			hc.Timeout = defaultTimeout
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{baseURL: base, http: hc, logger: logger}, nil
}

// URL はエンドポイントの絶対URLを返す。
func (c *Client) URL(endpoint string) string {
	return c.baseURL.String() + endpoint
}

// Request はサーバーAPIを呼び出す。outがnilでなければ2xxレスポンスのJSONをデコードする。
// 応答がない場合は*TransportError、2xx以外の応答は*HTTPErrorを返す。
// 失敗は構造化ログに記録したうえで呼び出し元に返す。
func (c *Client) Request(ctx context.Context, method, endpoint string, body, out any, opts ...RequestOption) error {
	err := c.do(ctx, method, endpoint, body, out, opts)
	if err != nil {
		c.logger.Error("api request failed",
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// Get はGETリクエストを送る。
func (c *Client) Get(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.Request(ctx, http.MethodGet, endpoint, nil, out, opts...)
}

// Post はPOSTリクエストを送る。
func (c *Client) Post(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.Request(ctx, http.MethodPost, endpoint, body, out, opts...)
}

// Patch はPATCHリクエストを送る。
func (c *Client) Patch(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.Request(ctx, http.MethodPatch, endpoint, body, out, opts...)
}

// Delete はDELETEリクエストを送る。
func (c *Client) Delete(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.Request(ctx, http.MethodDelete, endpoint, nil, out, opts...)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any, opts []RequestOption) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(endpoint), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if !isSafeMethod(method) {
		token, err := c.csrfToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set(csrfHeaderName, token)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: method, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(method, endpoint, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

// csrfToken はCookie Jarに保存済みのCSRFトークンを返す。
// 未取得の場合はトークン取得エンドポイントを1回だけ呼び出す。
func (c *Client) csrfToken(ctx context.Context) (string, error) {
	if token := c.cookie(csrfCookieName); token != "" {
		return token, nil
	}

	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()
	if token := c.cookie(csrfCookieName); token != "" {
		return token, nil
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, csrfTokenEndpoint, nil, &resp, nil); err != nil {
		return "", err
	}
	if token := c.cookie(csrfCookieName); token != "" {
		return token, nil
	}
	return resp.Token, nil
}

// cookie はベースURLに対して保存されているCookieの値を返す。
func (c *Client) cookie(name string) string {
	for _, ck := range c.http.Jar.Cookies(c.baseURL) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// SessionID は現在保持しているセッションIDを返す。未ログインの場合は空文字列。
func (c *Client) SessionID() string {
	return c.cookie(SessionCookieName)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
