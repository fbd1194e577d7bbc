package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/insightlab/insight/internal/metrics"
	"github.com/insightlab/insight/internal/model"
)

type statusCounter struct {
	metrics.Recorder
	statuses []int
}

func (s *statusCounter) RecordHTTPStatus(code int) {
	s.statuses = append(s.statuses, code)
}

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	counter := &statusCounter{Recorder: metrics.Discard}

	handler := NewLoggingMiddleware(newJSONLogger(&buf), counter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/assessment/submit", nil))

	entry := decodeLogEntry(t, &buf)
	if entry["method"] != "POST" {
		t.Errorf("method = %v, want POST", entry["method"])
	}
	if entry["path"] != "/api/assessment/submit" {
		t.Errorf("path = %v", entry["path"])
	}
	if status, _ := entry["status"].(float64); status != 201 {
		t.Errorf("status = %v, want 201", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected duration_ms field in log entry")
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("unauthenticated request should not carry user_id")
	}
	if len(counter.statuses) != 1 || counter.statuses[0] != 201 {
		t.Errorf("recorded statuses = %v, want [201]", counter.statuses)
	}
}

// TestLoggingMiddleware_UserIDFromInnerSessionMiddleware は外側に置いたログミドルウェアが
// 内側のセッションミドルウェアで確定したユーザーIDを記録することを検証する。
func TestLoggingMiddleware_UserIDFromInnerSessionMiddleware(t *testing.T) {
	var buf bytes.Buffer
	session := finderWith("sess-1", model.Identity{UserID: "user-123"})
	handler := NewLoggingMiddleware(newJSONLogger(&buf), nil)(
		NewSessionMiddleware(session)(okHandler()),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/assessment/all", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want user-123", entry["user_id"])
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusUnauthorized, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewLoggingMiddleware(newJSONLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			entry := decodeLogEntry(t, &buf)
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}

func TestStatusRecorder_DefaultsTo200OnWrite(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	rec.Write([]byte("ok"))
	rec.WriteHeader(http.StatusTeapot)
	if rec.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want 200", rec.statusCode)
	}
}
