package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlab/insight/internal/model"
)

func newTestClient(t *testing.T, baseURL, sessionID string) (*Client, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	c, err := New(Config{
		BaseURL:   baseURL,
		SessionID: sessionID,
		Timeout:   2 * time.Second,
		Logger:    slog.New(slog.NewJSONHandler(&logs, nil)),
	})
	require.NoError(t, err)
	return c, &logs
}

func TestNew_RejectsInvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "://bad"})
	assert.Error(t, err)
}

func TestRequest_AttachesSessionCookieAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(SessionCookieName)
		if err != nil || c.Value != "sess-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get("Content-Type"), "GET without body should not set Content-Type")
		json.NewEncoder(w).Encode(map[string]any{"authenticated": true})
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, "sess-1")
	var out struct {
		Authenticated bool `json:"authenticated"`
	}
	require.NoError(t, c.Get(context.Background(), "/auth/current-user", &out))
	assert.True(t, out.Authenticated)
	assert.Equal(t, "sess-1", c.SessionID())
}

func TestRequest_StoresCookiesFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "issued", Path: "/", HttpOnly: true})
			w.WriteHeader(http.StatusNoContent)
			return
		}
		c, err := r.Cookie(SessionCookieName)
		require.NoError(t, err)
		assert.Equal(t, "issued", c.Value)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, "")
	require.NoError(t, c.Get(context.Background(), "/login", nil))
	require.NoError(t, c.Get(context.Background(), "/api/assessment/all", nil))
	assert.Equal(t, "issued", c.SessionID())
}

func TestRequest_StateChangingMethodsCarryCSRFToken(t *testing.T) {
	var tokenFetches, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/csrf-token":
			tokenFetches.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "tok-1", Path: "/"})
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
		default:
			posts.Add(1)
			assert.Equal(t, "tok-1", r.Header.Get("X-CSRF-Token"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "key-9", r.Header.Get("Idempotency-Key"))
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"status":"completed"}`, string(body))
			w.Write([]byte(`{"id":"t-1","status":"completed"}`))
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, "sess-1")
	body := map[string]string{"status": "completed"}
	for i := 0; i < 3; i++ {
		var task model.RoadmapTask
		require.NoError(t, c.Patch(context.Background(), "/api/roadmap/t-1", body, &task, WithHeader("Idempotency-Key", "key-9")))
		assert.Equal(t, model.TaskStatusCompleted, task.Status)
	}
	assert.EqualValues(t, 1, tokenFetches.Load(), "token should be fetched once and reused")
	assert.EqualValues(t, 3, posts.Load())
}

func TestRequest_HTTPErrorUsesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"assessment not found: a-1","code":"ASSESSMENT_NOT_FOUND"}`))
	}))
	defer srv.Close()

	c, logs := newTestClient(t, srv.URL, "sess-1")
	err := c.Get(context.Background(), "/api/assessment/a-1", nil)

	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusNotFound, herr.Status)
	assert.Equal(t, "assessment not found: a-1", herr.Error())
	assert.Equal(t, "ASSESSMENT_NOT_FOUND", herr.Code)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NotErrorIs(t, err, model.ErrAuthRequired)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "/api/assessment/a-1", entry["endpoint"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "assessment not found: a-1", entry["error"])
}

func TestRequest_HTTPErrorFallbackMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"empty body", http.StatusBadGateway, "", "HTTP 502: Bad Gateway"},
		{"html body", http.StatusInternalServerError, "<h1>oops</h1>", "HTTP 500: Internal Server Error"},
		{"json without error", http.StatusUnauthorized, `{"message":"nope"}`, "HTTP 401: Unauthorized"},
		{"redirect", http.StatusTemporaryRedirect, "", "HTTP 307: Temporary Redirect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusTemporaryRedirect {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := newTestClient(t, srv.URL, "")
			err := c.Get(context.Background(), "/x", nil)

			var herr *HTTPError
			require.ErrorAs(t, err, &herr)
			assert.Equal(t, tt.status, herr.Status)
			assert.Equal(t, tt.want, herr.Message)
		})
	}
}

func TestRequest_UnauthorizedIsAuthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"authentication required","code":"AUTH_REQUIRED"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, "")
	err := c.Get(context.Background(), "/api/assessment/all", nil)
	assert.ErrorIs(t, err, model.ErrAuthRequired)
}

func TestRequest_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	c, logs := newTestClient(t, baseURL, "")
	err := c.Get(context.Background(), "/auth/current-user", nil)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "/auth/current-user", terr.Endpoint)
	assert.NotNil(t, errors.Unwrap(err))
	assert.Contains(t, logs.String(), "api request failed")
}

func TestRequest_ContextCancellationIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, _ := newTestClient(t, srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Get(ctx, "/slow", nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequest_CSRFFetchFailureStopsRequest(t *testing.T) {
	var reached atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/csrf-token" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		reached.Store(true)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, "")
	err := c.Post(context.Background(), "/api/assessment/submit", map[string]any{}, nil)

	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusServiceUnavailable, herr.Status)
	assert.False(t, reached.Load(), "the request must not be sent without a CSRF token")
}

func TestRequest_DeleteAndURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/csrf-token" {
			http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "t", Path: "/"})
			w.Write([]byte(`{"token":"t"}`))
			return
		}
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL+"/", "")
	require.NoError(t, c.Delete(context.Background(), "/api/thing", nil))
	assert.Equal(t, srv.URL+"/auth/google", c.URL("/auth/google"))
}
