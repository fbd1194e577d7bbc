package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// statusCheckTimeout は依存サービス1件あたりの疎通確認のタイムアウト。
const statusCheckTimeout = 3 * time.Second

// StatusCheck は /api/status で報告する依存サービスの疎通確認。
// Requiredがtrueの確認が失敗した場合は503を返す。
type StatusCheck struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) error
}

// HealthHandler は死活監視用のHTTPハンドラー。
type HealthHandler struct {
	checks []StatusCheck
	now    func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(checks ...StatusCheck) *HealthHandler {
	return &HealthHandler{checks: checks, now: time.Now}
}

type healthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Health はプロセスの生存のみを返す。依存サービスには問い合わせない。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Message:   "InSight API is running",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Status は各依存サービスの疎通を並行に確認して返す。
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	results := make([]string, len(h.checks))

	g, ctx := errgroup.WithContext(r.Context())
	for i, c := range h.checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, statusCheckTimeout)
			defer cancel()

			if err := c.Check(checkCtx); err != nil {
				slog.Warn("status check failed",
					slog.String("dependency", c.Name),
					slog.String("error", err.Error()),
				)
				results[i] = "disconnected"
				return nil
			}
			results[i] = "connected"
			return nil
		})
	}
	_ = g.Wait()

	body := map[string]string{
		"server":    "running",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK
	for i, c := range h.checks {
		body[c.Name] = results[i]
		if c.Required && results[i] != "connected" {
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, statusCode, body)
}
