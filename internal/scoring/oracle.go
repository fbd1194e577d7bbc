package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/insightlab/insight/internal/metrics"
	"github.com/insightlab/insight/internal/model"
)

// ErrOracleUnavailable はスコアリングの呼び出し自体が失敗したことを表す。
var ErrOracleUnavailable = errors.New("scoring oracle unavailable")

// DefaultModel は既定のGeminiモデル名。
const DefaultModel = "gemini-2.5-flash"

// OracleConfig はスコアリングの設定。
type OracleConfig struct {
	Model   string
	Timeout time.Duration
}

// Oracle は診断リクエストをスコアリングし、結果を返す。
type Oracle struct {
	gen      Generator
	config   OracleConfig
	recorder metrics.Recorder
}

// NewOracle はOracleを生成する。
func NewOracle(gen Generator, config OracleConfig, recorder metrics.Recorder) *Oracle {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if recorder == nil {
		recorder = metrics.Discard
	}
	return &Oracle{gen: gen, config: config, recorder: recorder}
}

// Score はリクエストを分析して結果を返す。
// 呼び出しの失敗はErrOracleUnavailable、出力の不整合はErrMalformedOutputとして返す。
func (o *Oracle) Score(ctx context.Context, req *model.AssessmentRequest) (*model.AssessmentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	start := time.Now()
	text, err := o.gen.Generate(ctx, o.config.Model, BuildPrompt(req), true)
	o.recorder.RecordOracleLatency(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	result, err := ParseResult(text)
	if err != nil {
		slog.Warn("scoring output rejected",
			slog.String("model", o.config.Model),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return result, nil
}

// Model は使用するモデル名を返す。
func (o *Oracle) Model() string {
	return o.config.Model
}

// BuildPrompt はスコアリング用のプロンプトを組み立てる。
// 志望地域はキャリア目標の末尾に追記される。
func BuildPrompt(req *model.AssessmentRequest) string {
	var sb strings.Builder
	sb.WriteString("You are a career and university admissions advisor.\n")
	sb.WriteString("Analyze the following student profile and respond with JSON only.\n\n")

	fmt.Fprintf(&sb, "Academic interests: %s\n", joinOrNone(req.AcademicInterests))
	fmt.Fprintf(&sb, "Technical skills: %s\n", joinOrNone(req.TechnicalSkills))
	fmt.Fprintf(&sb, "Soft skills: %s\n", joinOrNone(req.SoftSkills))
	if req.AcademicPerformance != nil {
		fmt.Fprintf(&sb, "GPA (4.0 scale): %.2f\n", req.AcademicPerformance.GPA)
	}
	goals := strings.TrimSpace(req.ScoringGoals())
	if goals == "" {
		goals = "(not specified)"
	}
	fmt.Fprintf(&sb, "Career goals: %s\n\n", goals)

	sb.WriteString(`Return an object with these fields:
- "careerPaths": 3 to 5 items, each {"title", "matchScore" (0-100), "description"}, best match first.
- "universityRecommendations": up to 5 items, each {"name", "rank" (QS World University Rankings 2025, if known), "location", "region", "program", "admissionChance" ("High", "Medium" or "Low"), "score" (QS overall score, if known), "matchScore" (0-100)}.
- "marketAnalysis": {"currentDemand", "futureOutlook", "salaryRange", "growthRate"} for the top career path.
Use plain text in every string. Do not include markdown or HTML.`)
	return sb.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
