package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/insightlab/insight/internal/model"
)

func testRateConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		SubmitRate:      rate.Limit(10.0 / 60.0),
		SubmitBurst:     2,
		CleanupInterval: time.Minute,
	}
}

func serveAs(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/assessment/submit", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.GeneralBurst != 120 || cfg.SubmitBurst != 10 {
		t.Errorf("bursts = %d/%d, want 120/10", cfg.GeneralBurst, cfg.SubmitBurst)
	}
	if cfg.GeneralRate != rate.Limit(2) {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
}

func TestRateLimiter_GeneralAllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		if w := serveAs(handler, "user-1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := serveAs(handler, "user-1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if ra, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || ra < 1 {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}

func TestRateLimiter_UsersAreIndependent(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	handler := rl.SubmitMiddleware()(okHandler())
	serveAs(handler, "user-a")
	serveAs(handler, "user-a")
	if w := serveAs(handler, "user-a"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("user-a third submit status = %d, want 429", w.Code)
	}
	if w := serveAs(handler, "user-b"); w.Code != http.StatusOK {
		t.Errorf("user-b status = %d, want 200", w.Code)
	}
	if got := rl.SubmitLimiterCount(); got != 2 {
		t.Errorf("SubmitLimiterCount() = %d, want 2", got)
	}
}

func TestRateLimiter_SubmitIsSeparateFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	submit := rl.SubmitMiddleware()(okHandler())
	general := rl.GeneralMiddleware()(okHandler())

	serveAs(submit, "user-1")
	serveAs(submit, "user-1")
	if w := serveAs(submit, "user-1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("submit status = %d, want 429", w.Code)
	}
	if w := serveAs(general, "user-1"); w.Code != http.StatusOK {
		t.Errorf("general status = %d, want 200", w.Code)
	}
}

func TestRateLimiter_RequiresUser(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	w := serveAs(rl.GeneralMiddleware()(okHandler()), "")
	assertAuthRequired(t, w)
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	serveAs(rl.GeneralMiddleware()(okHandler()), "user-1")
	serveAs(rl.SubmitMiddleware()(okHandler()), "user-1")

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("recent entry should survive cleanup")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.SubmitLimiterCount() != 0 {
		t.Errorf("counts = %d/%d, want 0/0", rl.GeneralLimiterCount(), rl.SubmitLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_ConcurrentUsers(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			serveAs(handler, "user-"+strconv.Itoa(i%4))
		}(i)
	}
	wg.Wait()

	if got := rl.GeneralLimiterCount(); got != 4 {
		t.Errorf("GeneralLimiterCount() = %d, want 4", got)
	}
}
