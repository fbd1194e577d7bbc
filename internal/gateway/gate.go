// Package gateway はクライアント側の認証ゲートと診断ワークフローを提供する。
//
// サーバーへの呼び出しはすべてinternal/clientを経由する。
// 未認証時は遷移先を保存してからログインするかどうかを確認する（再認証プロトコル）。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/insightlab/insight/internal/client"
	"github.com/insightlab/insight/internal/model"
)

const (
	currentUserEndpoint = "/auth/current-user"
	loginEndpoint       = "/auth/google"
	logoutEndpoint      = "/auth/logout"
)

// API はgatewayが使用するRequest Clientの操作。*client.Clientが実装する。
type API interface {
	Get(ctx context.Context, endpoint string, out any, opts ...client.RequestOption) error
	Post(ctx context.Context, endpoint string, body, out any, opts ...client.RequestOption) error
	Patch(ctx context.Context, endpoint string, body, out any, opts ...client.RequestOption) error
	URL(endpoint string) string
}

var _ API = (*client.Client)(nil)

// Decision は再認証を求められたユーザーの選択。
type Decision int

const (
	// Abandon は操作を中止する。
	Abandon Decision = iota
	// Proceed はIdPでのログインに進む。
	Proceed
)

func (d Decision) String() string {
	if d == Proceed {
		return "proceed"
	}
	return "abandon"
}

// Prompter はログインに進むかどうかをユーザーに確認する。
type Prompter interface {
	ConfirmLogin(ctx context.Context, destination string) Decision
}

// Navigator は表示の遷移を担当する。
type Navigator interface {
	// Navigate は指定URL（ログイン画面など）へ遷移する。
	Navigate(ctx context.Context, target string) error
	// ShowLoggedOut はログアウト後の表示へ遷移する。失敗しない。
	ShowLoggedOut(ctx context.Context)
}

// IntentStore はログイン後に再開する遷移先を保持する。
type IntentStore interface {
	Save(destination string)
	// Pop は保存済みの遷移先を取り出して削除する。
	Pop() (string, bool)
}

// MemoryIntentStore はプロセス内に遷移先を保持するIntentStore。
type MemoryIntentStore struct {
	mu          sync.Mutex
	destination string
	saved       bool
}

var _ IntentStore = (*MemoryIntentStore)(nil)

// Save は遷移先を保存する。既存の値は上書きされる。
func (s *MemoryIntentStore) Save(destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destination = destination
	s.saved = true
}

// Pop は保存済みの遷移先を取り出す。
func (s *MemoryIntentStore) Pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.destination, s.saved
	s.destination, s.saved = "", false
	return d, ok
}

// AuthRequiredError は認証ゲートが操作を通さなかったことを表す。
// Redirectedがtrueの場合はログイン画面への遷移を開始済み。
type AuthRequiredError struct {
	Destination string
	Redirected  bool
	// Err は遷移に失敗した場合の原因。
	Err error
}

func (e *AuthRequiredError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("authentication required: failed to open sign-in for %s: %v", e.Destination, e.Err)
	case e.Redirected:
		return fmt.Sprintf("authentication required: redirected to sign-in, will resume at %s", e.Destination)
	}
	return "authentication required"
}

func (e *AuthRequiredError) Is(target error) bool {
	return target == model.ErrAuthRequired
}

func (e *AuthRequiredError) Unwrap() error {
	return e.Err
}

// Gate はクライアント側の認証ゲート。
type Gate struct {
	api       API
	prompter  Prompter
	navigator Navigator
	intents   IntentStore
}

// NewGate はGateを生成する。intentsがnilの場合はMemoryIntentStoreを使用する。
func NewGate(api API, prompter Prompter, navigator Navigator, intents IntentStore) *Gate {
	if intents == nil {
		intents = &MemoryIntentStore{}
	}
	return &Gate{api: api, prompter: prompter, navigator: navigator, intents: intents}
}

type currentUserResponse struct {
	Authenticated bool            `json:"authenticated"`
	User          *model.Identity `json:"user,omitempty"`
}

// CurrentIdentity は現在のセッションのIdentityを返す。
// 未認証や通信失敗はすべて「Identityなし」(nil)として扱う。
func (g *Gate) CurrentIdentity(ctx context.Context) *model.Identity {
	ident, err := g.identity(ctx)
	if err != nil {
		return nil
	}
	return ident
}

// identity は現在のIdentityを問い合わせる。
// 未認証の応答と401は(nil, nil)。それ以外の失敗はエラーとして返す。
func (g *Gate) identity(ctx context.Context) (*model.Identity, error) {
	var resp currentUserResponse
	if err := g.api.Get(ctx, currentUserEndpoint, &resp); err != nil {
		if errors.Is(err, model.ErrAuthRequired) {
			return nil, nil
		}
		return nil, err
	}
	if !resp.Authenticated || resp.User == nil || resp.User.UserID == "" {
		return nil, nil
	}
	return resp.User, nil
}

// RequireAuth は認証済みであればIdentityを返す。
// 未認証の場合は遷移先を保存したうえでログインに進むかを確認し、
// いずれの選択でも*AuthRequiredErrorを返す（呼び出し元は処理を続行しない）。
// 認証状態を確認できなかった場合は確認を行わず、その失敗をそのまま返す。
func (g *Gate) RequireAuth(ctx context.Context, destination string) (*model.Identity, error) {
	ident, err := g.identity(ctx)
	if err != nil {
		return nil, err
	}
	if ident != nil {
		return ident, nil
	}

	g.intents.Save(destination)

	if g.prompter == nil || g.prompter.ConfirmLogin(ctx, destination) != Proceed {
		g.intents.Pop()
		return nil, &AuthRequiredError{Destination: destination}
	}

	authErr := &AuthRequiredError{Destination: destination, Redirected: true}
	if g.navigator != nil {
		if err := g.navigator.Navigate(ctx, g.LoginURL(destination)); err != nil {
			authErr.Redirected = false
			authErr.Err = err
		}
	}
	return nil, authErr
}

// LoginURL はIdPでの本人確認を開始するURLを返す。
// destinationはログイン完了後にサーバーがリダイレクトする相対パス。
func (g *Gate) LoginURL(destination string) string {
	u := g.api.URL(loginEndpoint)
	if destination == "" {
		return u
	}
	return u + "?redirect=" + url.QueryEscape(destination)
}

// ResumeDestination はログイン前に保存した遷移先を取り出す。
func (g *Gate) ResumeDestination() (string, bool) {
	return g.intents.Pop()
}
