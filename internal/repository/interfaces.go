// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"

	"github.com/insightlab/insight/internal/model"
)

// ErrDuplicateIdempotencyKey は同じユーザーと冪等性キーの診断が既に存在することを表す。
var ErrDuplicateIdempotencyKey = errors.New("assessment with the same idempotency key already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithProviderLink はユーザーとIdP紐付けを同一トランザクションで作成する。
	CreateWithProviderLink(ctx context.Context, user *model.User, link *model.ProviderLink) error

	// UpdateProfile はIdPから取得した表示名・メール・アバターでユーザーを更新する。
	UpdateProfile(ctx context.Context, user *model.User) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.ProviderLink, error)
}

// AssessmentRepository は診断結果の永続化インターフェース。
// レコードは作成後に変更しない。
type AssessmentRepository interface {
	// Create は診断結果と導出したロードマップタスクを同一トランザクションで作成する。
	// idempotencyKeyが空でなく既に使用済みの場合はErrDuplicateIdempotencyKeyを返す。
	Create(ctx context.Context, record *model.AssessmentRecord, idempotencyKey string, tasks []*model.RoadmapTask) error

	// FindByIDAndUser は所有者が一致する診断結果を取得する。
	// 存在しない場合も他ユーザー所有の場合もnilを返す。
	FindByIDAndUser(ctx context.Context, id, userID string) (*model.AssessmentRecord, error)

	// FindByIdempotencyKey はユーザーと冪等性キーで診断結果を検索する。見つからない場合はnilを返す。
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*model.AssessmentRecord, error)

	// ListByUser はユーザーの診断結果を作成日時の降順で返す。
	ListByUser(ctx context.Context, userID string) ([]*model.AssessmentRecord, error)

	// LatestByUser はユーザーの最新の診断結果を返す。存在しない場合はnilを返す。
	LatestByUser(ctx context.Context, userID string) (*model.AssessmentRecord, error)
}

// RoadmapRepository はロードマップタスクの永続化インターフェース。
type RoadmapRepository interface {
	// ListLatestByUser はユーザーの最新の診断から導出されたタスクを並び順で返す。
	ListLatestByUser(ctx context.Context, userID string) ([]*model.RoadmapTask, error)

	// UpdateStatus は所有者が一致するタスクの状態を更新する。
	// 存在しない場合も他ユーザー所有の場合もnilを返す。
	UpdateStatus(ctx context.Context, id, userID string, status model.TaskStatus) (*model.RoadmapTask, error)
}
