package scoring

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// ProbeStatus はモデル疎通確認の結果区分。
type ProbeStatus string

const (
	ProbeOK          ProbeStatus = "ok"
	ProbeNotFound    ProbeStatus = "not_found"
	ProbeRateLimited ProbeStatus = "rate_limited"
	ProbeDenied      ProbeStatus = "denied"
	ProbeError       ProbeStatus = "error"
)

// DefaultProbeModels は疎通確認の既定の対象モデル。
var DefaultProbeModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
}

// probePrompt は疎通確認に使う短いプロンプト。
const probePrompt = `Say "OK" if you can hear me`

// ProbeResult は1モデル分の疎通確認結果。
type ProbeResult struct {
	Model   string
	Status  ProbeStatus
	Reply   string
	Err     error
	Elapsed time.Duration
}

// Probe は各モデルに短いプロンプトを送り、利用可否を分類する。
// モデルごとにtimeoutを適用し、順に実行する。
func Probe(ctx context.Context, gen Generator, models []string, timeout time.Duration) []ProbeResult {
	if len(models) == 0 {
		models = DefaultProbeModels
	}
	results := make([]ProbeResult, 0, len(models))
	for _, m := range models {
		if ctx.Err() != nil {
			results = append(results, ProbeResult{Model: m, Status: ProbeError, Err: ctx.Err()})
			continue
		}
		results = append(results, probeOne(ctx, gen, m, timeout))
	}
	return results
}

func probeOne(ctx context.Context, gen Generator, modelName string, timeout time.Duration) ProbeResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := gen.Generate(ctx, modelName, probePrompt, false)
	res := ProbeResult{Model: modelName, Elapsed: time.Since(start), Err: err}
	if err != nil {
		res.Status = classifyProbeError(err)
		return res
	}
	res.Status = ProbeOK
	res.Reply = truncate(strings.TrimSpace(reply), 50)
	return res
}

// classifyProbeError はAPIエラーのHTTPステータスから結果区分を決める。
func classifyProbeError(err error) ProbeStatus {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return ProbeError
	}
	switch gerr.Code {
	case http.StatusNotFound:
		return ProbeNotFound
	case http.StatusTooManyRequests:
		return ProbeRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ProbeDenied
	}
	return ProbeError
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
