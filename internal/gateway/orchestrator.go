package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/insightlab/insight/internal/client"
	"github.com/insightlab/insight/internal/model"
)

// ErrSubmissionInFlight は前回の送信が完了していないことを表す（送信ボタンの無効化）。
var ErrSubmissionInFlight = errors.New("assessment submission already in progress")

const (
	submitEndpoint     = "/api/assessment/submit"
	listEndpoint       = "/api/assessment/all"
	latestEndpoint     = "/api/assessment/latest"
	assessmentEndpoint = "/api/assessment/"
	roadmapEndpoint    = "/api/roadmap"

	idempotencyKeyHeader = "Idempotency-Key"
)

// ログイン後に再開する画面
const (
	DestinationAssessment = "/assessment"
	DestinationHistory    = "/history"
	DestinationDashboard  = "/dashboard"
	DestinationRoadmap    = "/roadmap"
)

// History は診断履歴の取得結果。
// 取得に失敗した場合はRecordsが空でDegradedがtrueになり、Errに原因が入る。
type History struct {
	Records  []*model.AssessmentRecord
	Degraded bool
	Err      error
}

// Orchestrator は認証ゲートとRequest Clientを組み合わせて診断ワークフローを実行する。
type Orchestrator struct {
	api       API
	gate      *Gate
	navigator Navigator
	logger    *slog.Logger

	submitting atomic.Bool
	newKey     func() string
}

// NewOrchestrator はOrchestratorを生成する。
func NewOrchestrator(api API, gate *Gate, navigator Navigator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		api:       api,
		gate:      gate,
		navigator: navigator,
		logger:    logger,
		newKey:    uuid.NewString,
	}
}

// CheckAuth は現在のIdentityを返す。未認証や通信失敗の場合はnil。
func (o *Orchestrator) CheckAuth(ctx context.Context) *model.Identity {
	return o.gate.CurrentIdentity(ctx)
}

// Submitting は送信中かどうかを返す。
func (o *Orchestrator) Submitting() bool {
	return o.submitting.Load()
}

// Submit は診断リクエストを送信し、保存された診断結果を返す。
// ローカル検証に失敗した場合は通信を行わずにErrInvalidSubmissionを返す。
// 送信中に再度呼び出された場合はErrSubmissionInFlightを返す。
func (o *Orchestrator) Submit(ctx context.Context, req *model.AssessmentRequest) (*model.AssessmentRecord, error) {
	if req == nil {
		return nil, model.NewInvalidSubmissionError("request is empty")
	}
	checked := req.Clone()
	checked.Normalize()
	if err := checked.Validate(); err != nil {
		return nil, err
	}

	if !o.submitting.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer o.submitting.Store(false)

	ident, err := o.gate.RequireAuth(ctx, DestinationAssessment)
	if err != nil {
		return nil, err
	}

	var rec model.AssessmentRecord
	if err := o.api.Post(ctx, submitEndpoint, req, &rec, client.WithHeader(idempotencyKeyHeader, o.newKey())); err != nil {
		return nil, err
	}
	if rec.OwnerUserID == "" {
		rec.OwnerUserID = ident.UserID
	}
	if rec.PrimaryCareer == "" {
		rec.PrimaryCareer = rec.Results.PrimaryCareer()
	}
	return &rec, nil
}

// SubmitAndRefresh は送信が完了してから履歴を再取得する。
// 送信に失敗した場合は履歴を取得しない。
func (o *Orchestrator) SubmitAndRefresh(ctx context.Context, req *model.AssessmentRequest) (*model.AssessmentRecord, History, error) {
	rec, err := o.Submit(ctx, req)
	if err != nil {
		return nil, History{}, err
	}
	return rec, o.ListAll(ctx), nil
}

type listResponse struct {
	Assessments []*model.AssessmentRecord `json:"assessments"`
}

// ListAll は診断履歴を新しい順に返す。
// 一覧は優先度の低い表示のため、失敗（未認証を含む）は空の一覧に縮退させてエラーを返さない。
func (o *Orchestrator) ListAll(ctx context.Context) History {
	if o.CheckAuth(ctx) == nil {
		o.logger.Info("listing assessments without an identity")
	}

	var resp listResponse
	if err := o.api.Get(ctx, listEndpoint, &resp); err != nil {
		o.logger.Warn("assessment history degraded to empty list", slog.String("error", err.Error()))
		return History{Records: []*model.AssessmentRecord{}, Degraded: true, Err: err}
	}

	records := make([]*model.AssessmentRecord, 0, len(resp.Assessments))
	for _, r := range resp.Assessments {
		if r != nil {
			records = append(records, r)
		}
	}
	slices.SortStableFunc(records, func(a, b *model.AssessmentRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return History{Records: records}
}

// Latest は最新の診断結果を返す。存在しない場合はErrNotFoundに該当するエラー。
func (o *Orchestrator) Latest(ctx context.Context) (*model.AssessmentRecord, error) {
	if _, err := o.gate.RequireAuth(ctx, DestinationDashboard); err != nil {
		return nil, err
	}
	var rec model.AssessmentRecord
	if err := o.api.Get(ctx, latestEndpoint, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByID は診断結果を取得する。存在しない場合と他ユーザー所有の場合は
// どちらもErrNotFoundに該当するエラーを返す。
func (o *Orchestrator) GetByID(ctx context.Context, id string) (*model.AssessmentRecord, error) {
	if id == "" {
		return nil, model.NewAssessmentNotFoundError(id)
	}
	if _, err := o.gate.RequireAuth(ctx, DestinationHistory); err != nil {
		return nil, err
	}
	var rec model.AssessmentRecord
	if err := o.api.Get(ctx, assessmentEndpoint+url.PathEscape(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type roadmapResponse struct {
	Tasks []*model.RoadmapTask `json:"tasks"`
}

// Roadmap はロードマップのタスク一覧を返す。
func (o *Orchestrator) Roadmap(ctx context.Context) ([]*model.RoadmapTask, error) {
	if _, err := o.gate.RequireAuth(ctx, DestinationRoadmap); err != nil {
		return nil, err
	}
	var resp roadmapResponse
	if err := o.api.Get(ctx, roadmapEndpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Tasks == nil {
		resp.Tasks = []*model.RoadmapTask{}
	}
	return resp.Tasks, nil
}

// UpdateRoadmapTask はタスクの状態を更新する。
func (o *Orchestrator) UpdateRoadmapTask(ctx context.Context, id string, status model.TaskStatus) (*model.RoadmapTask, error) {
	if !status.Valid() {
		return nil, model.NewInvalidTaskStatusError(string(status))
	}
	if id == "" {
		return nil, model.NewRoadmapTaskNotFoundError(id)
	}
	if _, err := o.gate.RequireAuth(ctx, DestinationRoadmap); err != nil {
		return nil, err
	}
	body := struct {
		Status model.TaskStatus `json:"status"`
	}{Status: status}
	var task model.RoadmapTask
	if err := o.api.Patch(ctx, roadmapEndpoint+"/"+url.PathEscape(id), body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Logout はサーバーのセッションを破棄する。
// サーバー呼び出しの成否にかかわらずログアウト後の表示へ遷移する。
func (o *Orchestrator) Logout(ctx context.Context) {
	if err := o.api.Post(ctx, logoutEndpoint, nil, nil); err != nil {
		o.logger.Warn("logout request failed, continuing with local logout", slog.String("error", err.Error()))
	}
	if o.navigator != nil {
		o.navigator.ShowLoggedOut(ctx)
	}
}
