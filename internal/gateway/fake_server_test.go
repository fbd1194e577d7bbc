package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/insightlab/insight/internal/client"
	"github.com/insightlab/insight/internal/model"
)

const (
	testSessionID = "sess-ada"
	testUserID    = "user-ada"
)

// fakeServer はサーバーAPIのテスト用実装。パスごとの呼び出し回数を記録する。
type fakeServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	calls    map[string]int
	sessions map[string]model.Identity
	records  []*model.AssessmentRecord
	tasks    map[string]*model.RoadmapTask
	keys     []string
	nextID   int

	// submitStarted はsubmitを受け付けた時点で通知される（nilなら通知しない）。
	submitStarted chan struct{}
	// releaseSubmit が設定されている場合、submitはクローズされるまで応答しない。
	releaseSubmit chan struct{}
	// scored はスコアリング結果として返す内容。
	scored model.AssessmentResult
	// submitFailure が設定されている場合、submitはこのステータスとエラーペイロードを返す。
	submitFailure int
	// currentUserFailure が設定されている場合、current-userはこのステータスを返す。
	currentUserFailure int
	// currentUserUnauthorized がtrueの場合、未認証のcurrent-userは401を返す。
	currentUserUnauthorized bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		calls:    make(map[string]int),
		sessions: map[string]model.Identity{testSessionID: {UserID: testUserID, DisplayName: "Ada", Email: "ada@example.com"}},
		tasks:    make(map[string]*model.RoadmapTask),
		scored: model.AssessmentResult{
			CareerPaths: []model.CareerPath{{Title: "Data Scientist", MatchScore: 87, Description: "Analyze data"}},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/csrf-token", f.count(f.csrfToken))
	mux.HandleFunc("GET /auth/current-user", f.count(f.currentUser))
	mux.HandleFunc("POST /auth/logout", f.count(f.logout))
	mux.HandleFunc("POST /api/assessment/submit", f.count(f.authed(f.submit)))
	mux.HandleFunc("GET /api/assessment/all", f.count(f.authed(f.list)))
	mux.HandleFunc("GET /api/assessment/latest", f.count(f.authed(f.latest)))
	mux.HandleFunc("GET /api/assessment/{id}", f.count(f.authed(f.get)))
	mux.HandleFunc("GET /api/roadmap", f.count(f.authed(f.roadmap)))
	mux.HandleFunc("PATCH /api/roadmap/{id}", f.count(f.authed(f.updateTask)))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

type identityHandler func(w http.ResponseWriter, r *http.Request, ident model.Identity)

func (f *fakeServer) count(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.Method+" "+r.URL.Path]++
		f.mu.Unlock()
		next(w, r)
	}
}

func (f *fakeServer) authed(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := f.identity(r)
		if !ok {
			writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required", "code": model.ErrCodeAuthRequired})
			return
		}
		if r.Method != http.MethodGet {
			c, err := r.Cookie("csrf_token")
			if err != nil || c.Value == "" || c.Value != r.Header.Get("X-CSRF-Token") {
				writeFakeJSON(w, http.StatusForbidden, map[string]string{"error": "CSRF token validation failed"})
				return
			}
		}
		next(w, r, ident)
	}
}

func (f *fakeServer) identity(r *http.Request) (model.Identity, bool) {
	c, err := r.Cookie(client.SessionCookieName)
	if err != nil {
		return model.Identity{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.sessions[c.Value]
	return ident, ok
}

func (f *fakeServer) csrfToken(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "csrf-1", Path: "/"})
	writeFakeJSON(w, http.StatusOK, map[string]string{"token": "csrf-1"})
}

func (f *fakeServer) currentUser(w http.ResponseWriter, r *http.Request) {
	if f.currentUserFailure != 0 {
		writeFakeJSON(w, f.currentUserFailure, map[string]string{"error": "session store unavailable"})
		return
	}
	ident, ok := f.identity(r)
	if !ok && f.currentUserUnauthorized {
		writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required", "code": model.ErrCodeAuthRequired})
		return
	}
	if !ok {
		writeFakeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": ident})
}

func (f *fakeServer) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(client.SessionCookieName); err == nil {
		f.mu.Lock()
		delete(f.sessions, c.Value)
		f.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: client.SessionCookieName, Value: "", Path: "/", MaxAge: -1})
	writeFakeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (f *fakeServer) submit(w http.ResponseWriter, r *http.Request, ident model.Identity) {
	if f.submitStarted != nil {
		f.submitStarted <- struct{}{}
	}
	if f.releaseSubmit != nil {
		<-f.releaseSubmit
	}
	if f.submitFailure != 0 {
		writeFakeJSON(w, f.submitFailure, map[string]string{"error": "failed to analyze the assessment", "code": model.ErrCodeScoringFailed})
		return
	}

	var req model.AssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse request body"})
		return
	}

	f.mu.Lock()
	f.nextID++
	rec := &model.AssessmentRecord{
		ID:          fmt.Sprintf("rec-%d", f.nextID),
		OwnerUserID: ident.UserID,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, f.nextID, 0, time.UTC),
		Request:     req,
		Results:     f.scored,
	}
	rec.PrimaryCareer = rec.Results.PrimaryCareer()
	f.records = append(f.records, rec)
	f.keys = append(f.keys, r.Header.Get("Idempotency-Key"))
	f.mu.Unlock()

	writeFakeJSON(w, http.StatusCreated, rec)
}

func (f *fakeServer) list(w http.ResponseWriter, _ *http.Request, ident model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.AssessmentRecord{}
	for _, rec := range f.records {
		if rec.OwnerUserID == ident.UserID {
			out = append(out, rec)
		}
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"assessments": out})
}

func (f *fakeServer) latest(w http.ResponseWriter, _ *http.Request, ident model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].OwnerUserID == ident.UserID {
			writeFakeJSON(w, http.StatusOK, f.records[i])
			return
		}
	}
	writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "assessment not found: latest"})
}

func (f *fakeServer) get(w http.ResponseWriter, r *http.Request, ident model.Identity) {
	id := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID == id && rec.OwnerUserID == ident.UserID {
			writeFakeJSON(w, http.StatusOK, rec)
			return
		}
	}
	writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "assessment not found: " + id, "code": model.ErrCodeAssessmentNotFound})
}

func (f *fakeServer) roadmap(w http.ResponseWriter, _ *http.Request, ident model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.RoadmapTask{}
	for _, task := range f.tasks {
		if task.OwnerUserID == ident.UserID {
			out = append(out, task)
		}
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (f *fakeServer) updateTask(w http.ResponseWriter, r *http.Request, ident model.Identity) {
	var body struct {
		Status model.TaskStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse request body"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[r.PathValue("id")]
	if !ok || task.OwnerUserID != ident.UserID {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "roadmap task not found"})
		return
	}
	task.Status = body.Status
	writeFakeJSON(w, http.StatusOK, task)
}

// callCount はパスへの呼び出し回数を返す。keyは "METHOD /path"。
func (f *fakeServer) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// totalCalls はすべての呼び出し回数の合計を返す。
func (f *fakeServer) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeServer) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fakePrompter は決められた選択を返し、呼び出しを記録するPrompter。
type fakePrompter struct {
	mu           sync.Mutex
	decision     Decision
	destinations []string
	intents      IntentStore
	// intentAtPrompt は確認時点で保存済みだった遷移先。
	intentAtPrompt []string
}

func (p *fakePrompter) ConfirmLogin(_ context.Context, destination string) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destinations = append(p.destinations, destination)
	if p.intents != nil {
		d, ok := p.intents.Pop()
		if ok {
			p.intents.Save(d)
		}
		p.intentAtPrompt = append(p.intentAtPrompt, d)
	}
	return p.decision
}

func (p *fakePrompter) prompts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.destinations)
}

// fakeNavigator は遷移を記録するNavigator。
type fakeNavigator struct {
	mu        sync.Mutex
	targets   []string
	loggedOut int
	err       error
}

func (n *fakeNavigator) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
	return n.err
}

func (n *fakeNavigator) ShowLoggedOut(context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loggedOut++
}

type fixture struct {
	server    *fakeServer
	client    *client.Client
	prompter  *fakePrompter
	navigator *fakeNavigator
	intents   *MemoryIntentStore
	gate      *Gate
	orch      *Orchestrator
	logs      *bytes.Buffer
}

// newFixture は指定したセッションIDを持つクライアントでOrchestratorを組み立てる。
func newFixture(t *testing.T, sessionID string, decision Decision) *fixture {
	t.Helper()
	return newFixtureWithServer(t, newFakeServer(t), sessionID, decision)
}

func newFixtureWithServer(t *testing.T, server *fakeServer, sessionID string, decision Decision) *fixture {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))

	c, err := client.New(client.Config{BaseURL: server.srv.URL, SessionID: sessionID, Timeout: 5 * time.Second, Logger: logger})
	require.NoError(t, err)

	intents := &MemoryIntentStore{}
	prompter := &fakePrompter{decision: decision, intents: intents}
	navigator := &fakeNavigator{}
	gate := NewGate(c, prompter, navigator, intents)

	return &fixture{
		server:    server,
		client:    c,
		prompter:  prompter,
		navigator: navigator,
		intents:   intents,
		gate:      gate,
		orch:      NewOrchestrator(c, gate, navigator, logger),
		logs:      logs,
	}
}
