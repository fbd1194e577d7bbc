// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 呼び出し側がerrors.Isで判定するためのエラー分類。
var (
	// ErrAuthRequired は認証ゲートがアクセスを拒否し、再認証も行われなかったことを表す。
	ErrAuthRequired = errors.New("authentication required")
	// ErrVerificationFailed はIdPが資格情報を拒否したか、プロフィールが不完全だったことを表す。
	ErrVerificationFailed = errors.New("identity verification failed")
	// ErrInvalidSubmission は送信前のローカル検証に失敗したことを表す。
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrNotFound はレコードが存在しないか、呼び出し元の所有でないことを表す。
	// 他ユーザーのレコードの存在を漏らさないため、両者は区別しない。
	ErrNotFound = errors.New("not found")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, assessment, roadmap, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードに対応する分類エラーとの比較を可能にする。
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthRequired:
		return e.Code == ErrCodeAuthRequired
	case ErrVerificationFailed:
		return e.Code == ErrCodeVerificationFailed
	case ErrInvalidSubmission:
		return e.Code == ErrCodeInvalidSubmission
	case ErrNotFound:
		return e.Code == ErrCodeAssessmentNotFound || e.Code == ErrCodeRoadmapTaskNotFound
	}
	return false
}

// 定義済みエラーコード
const (
	ErrCodeAuthRequired        = "AUTH_REQUIRED"
	ErrCodeVerificationFailed  = "VERIFICATION_FAILED"
	ErrCodeInvalidSubmission   = "INVALID_SUBMISSION"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeAssessmentNotFound  = "ASSESSMENT_NOT_FOUND"
	ErrCodeRoadmapTaskNotFound = "ROADMAP_TASK_NOT_FOUND"
	ErrCodeInvalidTaskStatus   = "INVALID_TASK_STATUS"
	ErrCodeScoringFailed       = "SCORING_FAILED"
	ErrCodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid         = "CSRF_TOKEN_INVALID"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewAuthRequiredError は未認証エラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "authentication required",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewVerificationFailedError は本人確認失敗エラーを生成する。
func NewVerificationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeVerificationFailed,
		Message:  "identity provider rejected the sign-in",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewInvalidSubmissionError は診断リクエストの検証エラーを生成する。
func NewInvalidSubmissionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSubmission,
		Message:  fmt.Sprintf("invalid assessment: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。学問分野は1つ以上選択が必要です。",
	}
}

// NewInvalidRequestError はリクエストボディの解析エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "failed to parse request body",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewAssessmentNotFoundError は診断結果が見つからない場合のエラーを生成する。
// 存在しない場合と他ユーザー所有の場合で同じエラーを返す。
func NewAssessmentNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAssessmentNotFound,
		Message:  fmt.Sprintf("assessment not found: %s", id),
		Category: "assessment",
		Action:   "診断履歴から選択し直してください。",
	}
}

// NewRoadmapTaskNotFoundError はロードマップタスクが見つからない場合のエラーを生成する。
func NewRoadmapTaskNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeRoadmapTaskNotFound,
		Message:  fmt.Sprintf("roadmap task not found: %s", id),
		Category: "roadmap",
		Action:   "ロードマップを再読み込みしてください。",
	}
}

// NewInvalidTaskStatusError は不正なタスク状態が指定された場合のエラーを生成する。
func NewInvalidTaskStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTaskStatus,
		Message:  fmt.Sprintf("invalid task status: %q", status),
		Category: "validation",
		Action:   "status には pending、in_progress、completed のいずれかを指定してください。",
	}
}

// NewScoringFailedError はスコアリング（生成AI呼び出し）の失敗エラーを生成する。
func NewScoringFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeScoringFailed,
		Message:  "failed to analyze the assessment",
		Category: "assessment",
		Action:   "しばらく待ってから再度送信してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "too many requests",
		Category: "system",
		Action:   "Retry-After ヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
