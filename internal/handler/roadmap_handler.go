package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/insightlab/insight/internal/model"
)

// RoadmapServiceInterface はロードマップハンドラーが必要とするサービスインターフェース。
type RoadmapServiceInterface interface {
	List(ctx context.Context, userID string) ([]*model.RoadmapTask, error)
	UpdateStatus(ctx context.Context, userID, taskID string, status model.TaskStatus) (*model.RoadmapTask, error)
}

// RoadmapHandler はロードマップ関連のHTTPハンドラー。
type RoadmapHandler struct {
	service RoadmapServiceInterface
}

// NewRoadmapHandler はRoadmapHandlerを生成する。
func NewRoadmapHandler(service RoadmapServiceInterface) *RoadmapHandler {
	return &RoadmapHandler{service: service}
}

type roadmapResponse struct {
	Tasks []*model.RoadmapTask `json:"tasks"`
}

type updateTaskRequest struct {
	Status model.TaskStatus `json:"status"`
}

// List は最新の診断に紐付くタスク一覧を返す。
// GET /api/roadmap
func (h *RoadmapHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, roadmapResponse{Tasks: tasks})
}

// UpdateStatus はタスクの進捗状態を更新する。
// PATCH /api/roadmap/{id}
func (h *RoadmapHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.service.UpdateStatus(r.Context(), userID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}
