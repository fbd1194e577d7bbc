package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/insightlab/insight/internal/model"
)

const roadmapColumns = `id, user_id, assessment_id, title, category, status, position, created_at, updated_at`

// PostgresRoadmapRepo はPostgreSQLを使用したロードマップタスクリポジトリ。
type PostgresRoadmapRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRoadmapRepo はPostgresRoadmapRepoを生成する。
func NewPostgresRoadmapRepo(db *sql.DB) *PostgresRoadmapRepo {
	return &PostgresRoadmapRepo{db: db, now: time.Now}
}

// ListLatestByUser はユーザーの最新の診断に紐付くタスクを並び順で返す。
func (r *PostgresRoadmapRepo) ListLatestByUser(ctx context.Context, userID string) ([]*model.RoadmapTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roadmapColumns+` FROM roadmap_tasks
		 WHERE user_id = $1 AND assessment_id = (
		     SELECT id FROM assessments WHERE user_id = $1
		     ORDER BY created_at DESC, id DESC LIMIT 1
		 )
		 ORDER BY position ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roadmap tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*model.RoadmapTask, 0)
	for rows.Next() {
		task, err := scanRoadmapTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roadmap tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus は所有者が一致するタスクの状態を更新し、更新後のタスクを返す。
func (r *PostgresRoadmapRepo) UpdateStatus(ctx context.Context, id, userID string, status model.TaskStatus) (*model.RoadmapTask, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE roadmap_tasks SET status = $3, updated_at = $4
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+roadmapColumns,
		id, userID, string(status), r.now(),
	)
	task, err := scanRoadmapTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

func scanRoadmapTask(s rowScanner) (*model.RoadmapTask, error) {
	task := &model.RoadmapTask{}
	var status string
	err := s.Scan(&task.ID, &task.OwnerUserID, &task.AssessmentID, &task.Title, &task.Category,
		&status, &task.Position, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan roadmap task: %w", err)
	}
	task.Status = model.TaskStatus(status)
	return task, nil
}

// compile-time interface check
var _ RoadmapRepository = (*PostgresRoadmapRepo)(nil)
