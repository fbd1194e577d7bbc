package assessment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/insightlab/insight/internal/model"
	"github.com/insightlab/insight/internal/repository"
)

type mockRoadmapRepo struct {
	listFn   func(ctx context.Context, userID string) ([]*model.RoadmapTask, error)
	updateFn func(ctx context.Context, id, userID string, status model.TaskStatus) (*model.RoadmapTask, error)
}

func (m *mockRoadmapRepo) ListLatestByUser(ctx context.Context, userID string) ([]*model.RoadmapTask, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockRoadmapRepo) UpdateStatus(ctx context.Context, id, userID string, status model.TaskStatus) (*model.RoadmapTask, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, userID, status)
	}
	return nil, nil
}

var _ repository.RoadmapRepository = (*mockRoadmapRepo)(nil)

func TestDeriveTasks(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	record := &model.AssessmentRecord{
		ID:          "a-1",
		OwnerUserID: "user-1",
		CreatedAt:   created,
		Results: model.AssessmentResult{
			CareerPaths: []model.CareerPath{{Title: "Architect"}, {Title: "Urban Planner"}},
			UniversityRecommendations: []model.UniversityRecommendation{
				{Name: "TU Delft", Program: "Architecture"},
				{Name: "Open University"},
			},
		},
	}

	tasks := DeriveTasks(record)
	if len(tasks) != 4 {
		t.Fatalf("tasks = %d, want 4", len(tasks))
	}

	wantTitles := []string{
		"Explore the Architect career path",
		"Explore the Urban Planner career path",
		"Research the Architecture program at TU Delft",
		"Research Open University",
	}
	for i, task := range tasks {
		if task.Title != wantTitles[i] {
			t.Errorf("tasks[%d].Title = %q, want %q", i, task.Title, wantTitles[i])
		}
		if task.Position != i {
			t.Errorf("tasks[%d].Position = %d", i, task.Position)
		}
		if task.Status != model.TaskStatusPending || task.AssessmentID != "a-1" || task.OwnerUserID != "user-1" {
			t.Errorf("tasks[%d] = %+v", i, task)
		}
		if !task.CreatedAt.Equal(created) {
			t.Errorf("tasks[%d].CreatedAt = %v", i, task.CreatedAt)
		}
	}
	if tasks[0].Category != model.TaskCategoryCareer || tasks[2].Category != model.TaskCategoryUniversity {
		t.Error("categories should follow the source list")
	}
}

func TestRoadmapService_List(t *testing.T) {
	svc := NewRoadmapService(&mockRoadmapRepo{})
	tasks, err := svc.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if tasks == nil {
		t.Error("empty roadmap should be an empty slice")
	}
}

func TestRoadmapService_UpdateStatus(t *testing.T) {
	const taskID = "2b9f8c1e-5d34-4a8e-b1c0-9a7e6d5c4b3a"
	repo := &mockRoadmapRepo{
		updateFn: func(_ context.Context, id, userID string, status model.TaskStatus) (*model.RoadmapTask, error) {
			if userID != "owner" {
				return nil, nil
			}
			return &model.RoadmapTask{ID: id, OwnerUserID: userID, Status: status}, nil
		},
	}
	svc := NewRoadmapService(repo)

	task, err := svc.UpdateStatus(context.Background(), "owner", taskID, model.TaskStatusCompleted)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if task.Status != model.TaskStatusCompleted {
		t.Errorf("status = %s", task.Status)
	}

	tests := []struct {
		name     string
		userID   string
		taskID   string
		status   model.TaskStatus
		wantCode string
	}{
		{"invalid status", "owner", taskID, "done", model.ErrCodeInvalidTaskStatus},
		{"other owner", "intruder", taskID, model.TaskStatusInProgress, model.ErrCodeRoadmapTaskNotFound},
		{"malformed id", "owner", "42", model.TaskStatusInProgress, model.ErrCodeRoadmapTaskNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateStatus(context.Background(), tt.userID, tt.taskID, tt.status)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Errorf("error = %v, want %s", err, tt.wantCode)
			}
		})
	}
}
