package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/insightlab/insight/internal/model"
)

// IdempotencyKeyHeader は診断送信の重複を防ぐためのヘッダー名。
const IdempotencyKeyHeader = "Idempotency-Key"

// maxIdempotencyKeyLength は冪等性キーの最大長。
const maxIdempotencyKeyLength = 128

// AssessmentServiceInterface は診断ハンドラーが必要とするサービスインターフェース。
type AssessmentServiceInterface interface {
	Submit(ctx context.Context, userID string, req *model.AssessmentRequest, idempotencyKey string) (*model.AssessmentRecord, error)
	List(ctx context.Context, userID string) ([]*model.AssessmentRecord, error)
	Latest(ctx context.Context, userID string) (*model.AssessmentRecord, error)
	Get(ctx context.Context, userID, id string) (*model.AssessmentRecord, error)
}

// AssessmentHandler は診断関連のHTTPハンドラー。
type AssessmentHandler struct {
	service AssessmentServiceInterface
}

// NewAssessmentHandler はAssessmentHandlerを生成する。
func NewAssessmentHandler(service AssessmentServiceInterface) *AssessmentHandler {
	return &AssessmentHandler{service: service}
}

// submitResponse は診断送信のレスポンス。
type submitResponse struct {
	ID        string                  `json:"id"`
	CreatedAt time.Time               `json:"createdAt"`
	Request   model.AssessmentRequest `json:"request"`
	Results   model.AssessmentResult  `json:"results"`
}

// listResponse は診断履歴のレスポンス。
type listResponse struct {
	Assessments []*model.AssessmentRecord `json:"assessments"`
}

// Submit は診断を送信してスコアリング結果を保存する。
// POST /api/assessment/submit
func (h *AssessmentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req model.AssessmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLength {
		handleServiceError(w, model.NewInvalidSubmissionError("Idempotency-Key is too long"))
		return
	}

	record, err := h.service.Submit(r.Context(), userID, &req, key)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{
		ID:        record.ID,
		CreatedAt: record.CreatedAt,
		Request:   record.Request,
		Results:   record.Results,
	})
}

// List はユーザーの診断履歴を新しい順に返す。
// GET /api/assessment/all
func (h *AssessmentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	records, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{Assessments: records})
}

// Latest はユーザーの最新の診断結果を返す。
// GET /api/assessment/latest
func (h *AssessmentHandler) Latest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	record, err := h.service.Latest(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Get は診断結果の詳細を返す。
// GET /api/assessment/{id}
func (h *AssessmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	record, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}
