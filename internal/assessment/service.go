// Package assessment は診断の送信・履歴参照とロードマップ管理のドメインロジックを提供する。
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/insightlab/insight/internal/metrics"
	"github.com/insightlab/insight/internal/model"
	"github.com/insightlab/insight/internal/repository"
	"github.com/insightlab/insight/internal/security"
)

// Oracle は診断リクエストをスコアリングするインターフェース。
type Oracle interface {
	Score(ctx context.Context, req *model.AssessmentRequest) (*model.AssessmentResult, error)
}

// Service は診断ワークフローのサービス層。
// 検証、サニタイズ、スコアリング、永続化を1つの送信操作として扱う。
type Service struct {
	repo      repository.AssessmentRepository
	oracle    Oracle
	sanitizer *security.TextSanitizer
	recorder  metrics.Recorder
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.AssessmentRepository, oracle Oracle, sanitizer *security.TextSanitizer, recorder metrics.Recorder) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	if recorder == nil {
		recorder = metrics.Discard
	}
	return &Service{
		repo:      repo,
		oracle:    oracle,
		sanitizer: sanitizer,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Submit は診断を検証・スコアリングして保存し、作成したレコードを返す。
// レコードには送信されたリクエストをそのまま保存する。
// idempotencyKeyが指定され、同じユーザーの既存レコードがある場合はスコアリングせずにそれを返す。
func (s *Service) Submit(ctx context.Context, userID string, req *model.AssessmentRequest, idempotencyKey string) (*model.AssessmentRecord, error) {
	if req == nil {
		s.recorder.RecordSubmission(metrics.SubmissionInvalid)
		return nil, model.NewInvalidSubmissionError("request is empty")
	}
	// 保存するのは送信されたままの入力。正規化とサニタイズはオラクルに渡す複製にだけ行う
	scored := req.Clone()
	scored.Normalize()
	s.sanitizer.Request(scored)
	if err := scored.Validate(); err != nil {
		s.recorder.RecordSubmission(metrics.SubmissionInvalid)
		return nil, err
	}

	if idempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, userID, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("冪等性キーの照合に失敗しました: %w", err)
		}
		if existing != nil {
			s.recorder.RecordSubmission(metrics.SubmissionDuplicate)
			return existing, nil
		}
	}

	result, err := s.oracle.Score(ctx, scored)
	if err != nil {
		s.recorder.RecordSubmission(metrics.SubmissionFailed)
		slog.Error("assessment scoring failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewScoringFailedError()
	}
	s.sanitizer.Result(result)

	// DBの精度に合わせ、返却値と保存値のcreatedAtを一致させる
	now := s.now().UTC().Truncate(time.Microsecond)
	record := &model.AssessmentRecord{
		ID:            uuid.New().String(),
		OwnerUserID:   userID,
		CreatedAt:     now,
		PrimaryCareer: result.PrimaryCareer(),
		Request:       *req.Clone(),
		Results:       *result,
	}
	tasks := DeriveTasks(record)

	err = s.repo.Create(ctx, record, idempotencyKey, tasks)
	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
		// 並行した同一キーの送信は先に確定したレコードに収束させる
		existing, findErr := s.repo.FindByIdempotencyKey(ctx, userID, idempotencyKey)
		if findErr != nil {
			return nil, fmt.Errorf("重複した診断の取得に失敗しました: %w", findErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("重複した診断が見つかりません: %w", err)
		}
		s.recorder.RecordSubmission(metrics.SubmissionDuplicate)
		return existing, nil
	}
	if err != nil {
		s.recorder.RecordSubmission(metrics.SubmissionFailed)
		return nil, fmt.Errorf("診断結果の保存に失敗しました: %w", err)
	}

	s.recorder.RecordSubmission(metrics.SubmissionCreated)
	slog.Info("assessment created",
		slog.String("user_id", userID),
		slog.String("assessment_id", record.ID),
		slog.Int("roadmap_tasks", len(tasks)),
	)
	return record, nil
}

// List はユーザーの診断履歴を新しい順に返す。履歴がない場合は空スライスを返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.AssessmentRecord, error) {
	records, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("診断履歴の取得に失敗しました: %w", err)
	}
	if records == nil {
		records = []*model.AssessmentRecord{}
	}
	return records, nil
}

// Latest はユーザーの最新の診断結果を返す。
func (s *Service) Latest(ctx context.Context, userID string) (*model.AssessmentRecord, error) {
	record, err := s.repo.LatestByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("最新の診断結果の取得に失敗しました: %w", err)
	}
	if record == nil {
		return nil, model.NewAssessmentNotFoundError("latest")
	}
	return record, nil
}

// Get は所有者が一致する診断結果を返す。
// 存在しない場合と他ユーザー所有の場合は同じNotFoundエラーになる。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.AssessmentRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewAssessmentNotFoundError(id)
	}
	record, err := s.repo.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("診断結果の取得に失敗しました: %w", err)
	}
	if record == nil {
		return nil, model.NewAssessmentNotFoundError(id)
	}
	return record, nil
}
