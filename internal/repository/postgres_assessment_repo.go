package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/insightlab/insight/internal/model"
)

const assessmentColumns = `id, user_id, created_at, primary_career, request, results`

// PostgresAssessmentRepo はPostgreSQLを使用した診断結果リポジトリ。
// リクエストと結果はJSONBとして送信時の形のまま保存する。
type PostgresAssessmentRepo struct {
	db *sql.DB
}

// NewPostgresAssessmentRepo はPostgresAssessmentRepoを生成する。
func NewPostgresAssessmentRepo(db *sql.DB) *PostgresAssessmentRepo {
	return &PostgresAssessmentRepo{db: db}
}

// Create は診断結果とロードマップタスクを同一トランザクションで作成する。
func (r *PostgresAssessmentRepo) Create(ctx context.Context, record *model.AssessmentRecord, idempotencyKey string, tasks []*model.RoadmapTask) error {
	requestJSON, err := json.Marshal(record.Request)
	if err != nil {
		return fmt.Errorf("failed to encode assessment request: %w", err)
	}
	resultsJSON, err := json.Marshal(record.Results)
	if err != nil {
		return fmt.Errorf("failed to encode assessment results: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 冪等性キーの重複はON CONFLICTで吸収し、挿入行がないことで検出する
	var insertedID string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO assessments (id, user_id, idempotency_key, request, results, primary_career, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		 ON CONFLICT (user_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		 RETURNING id`,
		record.ID, record.OwnerUserID, idempotencyKey, requestJSON, resultsJSON, record.PrimaryCareer, record.CreatedAt,
	).Scan(&insertedID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}

	for _, task := range tasks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO roadmap_tasks (id, user_id, assessment_id, title, category, status, position, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			task.ID, task.OwnerUserID, task.AssessmentID, task.Title, task.Category,
			string(task.Status), task.Position, task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert roadmap task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindByIDAndUser は所有者が一致する診断結果を取得する。
func (r *PostgresAssessmentRepo) FindByIDAndUser(ctx context.Context, id, userID string) (*model.AssessmentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return scanAssessmentRow(row)
}

// FindByIdempotencyKey はユーザーと冪等性キーで診断結果を検索する。
func (r *PostgresAssessmentRepo) FindByIdempotencyKey(ctx context.Context, userID, key string) (*model.AssessmentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key,
	)
	return scanAssessmentRow(row)
}

// ListByUser はユーザーの診断結果を作成日時の降順で返す。
func (r *PostgresAssessmentRepo) ListByUser(ctx context.Context, userID string) ([]*model.AssessmentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	records := make([]*model.AssessmentRecord, 0)
	for rows.Next() {
		rec, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assessments: %w", err)
	}
	return records, nil
}

// LatestByUser はユーザーの最新の診断結果を返す。
func (r *PostgresAssessmentRepo) LatestByUser(ctx context.Context, userID string) (*model.AssessmentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		userID,
	)
	return scanAssessmentRow(row)
}

// rowScanner は*sql.Rowと*sql.Rowsに共通のScanメソッド。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessmentRow(row *sql.Row) (*model.AssessmentRecord, error) {
	rec, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func scanAssessment(s rowScanner) (*model.AssessmentRecord, error) {
	rec := &model.AssessmentRecord{}
	var requestJSON, resultsJSON []byte
	err := s.Scan(&rec.ID, &rec.OwnerUserID, &rec.CreatedAt, &rec.PrimaryCareer, &requestJSON, &resultsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan assessment: %w", err)
	}
	if err := json.Unmarshal(requestJSON, &rec.Request); err != nil {
		return nil, fmt.Errorf("failed to decode assessment request: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &rec.Results); err != nil {
		return nil, fmt.Errorf("failed to decode assessment results: %w", err)
	}
	return rec, nil
}

// compile-time interface check
var _ AssessmentRepository = (*PostgresAssessmentRepo)(nil)
