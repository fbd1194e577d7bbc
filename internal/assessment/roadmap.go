package assessment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/insightlab/insight/internal/model"
	"github.com/insightlab/insight/internal/repository"
)

// DeriveTasks は診断結果からロードマップタスクを導出する。
// キャリアパスごとに1件、大学推薦ごとに1件を結果の順序どおりに並べる。
func DeriveTasks(record *model.AssessmentRecord) []*model.RoadmapTask {
	tasks := make([]*model.RoadmapTask, 0,
		len(record.Results.CareerPaths)+len(record.Results.UniversityRecommendations))

	add := func(title, category string) {
		tasks = append(tasks, &model.RoadmapTask{
			ID:           uuid.New().String(),
			OwnerUserID:  record.OwnerUserID,
			AssessmentID: record.ID,
			Title:        title,
			Category:     category,
			Status:       model.TaskStatusPending,
			Position:     len(tasks),
			CreatedAt:    record.CreatedAt,
			UpdatedAt:    record.CreatedAt,
		})
	}

	for _, p := range record.Results.CareerPaths {
		add(fmt.Sprintf("Explore the %s career path", p.Title), model.TaskCategoryCareer)
	}
	for _, u := range record.Results.UniversityRecommendations {
		title := fmt.Sprintf("Research %s", u.Name)
		if u.Program != "" {
			title = fmt.Sprintf("Research the %s program at %s", u.Program, u.Name)
		}
		add(title, model.TaskCategoryUniversity)
	}
	return tasks
}

// RoadmapService はロードマップタスクの参照と進捗更新を提供する。
type RoadmapService struct {
	repo repository.RoadmapRepository
}

// NewRoadmapService はRoadmapServiceを生成する。
func NewRoadmapService(repo repository.RoadmapRepository) *RoadmapService {
	return &RoadmapService{repo: repo}
}

// List はユーザーの最新の診断に紐付くタスクを並び順で返す。
func (s *RoadmapService) List(ctx context.Context, userID string) ([]*model.RoadmapTask, error) {
	tasks, err := s.repo.ListLatestByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ロードマップの取得に失敗しました: %w", err)
	}
	if tasks == nil {
		tasks = []*model.RoadmapTask{}
	}
	return tasks, nil
}

// UpdateStatus はタスクの進捗状態を更新する。
func (s *RoadmapService) UpdateStatus(ctx context.Context, userID, taskID string, status model.TaskStatus) (*model.RoadmapTask, error) {
	if !status.Valid() {
		return nil, model.NewInvalidTaskStatusError(string(status))
	}
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, model.NewRoadmapTaskNotFoundError(taskID)
	}

	task, err := s.repo.UpdateStatus(ctx, taskID, userID, status)
	if err != nil {
		return nil, fmt.Errorf("タスク状態の更新に失敗しました: %w", err)
	}
	if task == nil {
		return nil, model.NewRoadmapTaskNotFoundError(taskID)
	}
	return task, nil
}
