// Package auth はIdPによる本人確認とセッション発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insightlab/insight/internal/metrics"
	"github.com/insightlab/insight/internal/model"
	"github.com/insightlab/insight/internal/repository"
	"github.com/insightlab/insight/internal/session"
)

// ErrIncompleteProfile はIdPのプロフィールに必須項目が欠けていることを表す。
var ErrIncompleteProfile = errors.New("identity provider returned an incomplete profile")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// SessionTTL はセッションの有効期間。Cookieの Max-Age とストアの有効期限の両方に使う。
	SessionTTL time.Duration
}

// Service は本人確認とセッション管理のビジネスロジックを提供する。
type Service struct {
	oauth     OAuthProvider
	userRepo  repository.UserRepository
	identRepo repository.IdentityRepository
	sessions  session.Store
	metrics   metrics.Recorder
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。
// sessionsはconfig.SessionTTLと同じ有効期間で構成されていること。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessions session.Store,
	recorder metrics.Recorder,
	config ServiceConfig,
) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = session.DefaultTTL
	}
	if recorder == nil {
		recorder = metrics.Discard
	}
	return &Service{
		oauth:     oauth,
		userRepo:  userRepo,
		identRepo: identRepo,
		sessions:  sessions,
		metrics:   recorder,
		config:    config,
		now:       time.Now,
	}
}

// SessionTTL はセッションの有効期間を返す。
func (s *Service) SessionTTL() time.Duration {
	return s.config.SessionTTL
}

// BeginVerification はIdPの認証画面のURLを返す。
func (s *Service) BeginVerification(state string) string {
	return s.oauth.GetLoginURL(state)
}

// CompleteVerification は認可コードを本人確認済みのIdentityに交換する。
// IdPが拒否した場合とプロフィールが不完全な場合はmodel.ErrVerificationFailedを返す。
// 未登録のユーザーはusersとidentitiesを同時に作成し、登録済みのユーザーはプロフィールを更新する。
func (s *Service) CompleteVerification(ctx context.Context, code string) (*model.Identity, error) {
	if code == "" {
		s.metrics.RecordVerificationFailure("missing_code")
		return nil, fmt.Errorf("%w: authorization code is empty", model.ErrVerificationFailed)
	}

	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordVerificationFailure("provider_rejected")
		return nil, fmt.Errorf("%w: %w", model.ErrVerificationFailed, err)
	}
	if err := validateUserInfo(info); err != nil {
		s.metrics.RecordVerificationFailure("incomplete_profile")
		return nil, fmt.Errorf("%w: %w", model.ErrVerificationFailed, err)
	}

	link, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	now := s.now()
	user := &model.User{
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.AvatarURL,
		UpdatedAt: now,
	}

	if link != nil {
		user.ID = link.UserID
		if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to refresh user profile: %w", err)
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
	} else {
		user.ID = uuid.New().String()
		user.CreatedAt = now
		newLink := &model.ProviderLink{
			ID:             uuid.New().String(),
			UserID:         user.ID,
			Provider:       info.Provider,
			ProviderUserID: info.ProviderUserID,
			CreatedAt:      now,
		}
		if err := s.userRepo.CreateWithProviderLink(ctx, user, newLink); err != nil {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}
		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
	}

	identity := model.IdentityFromUser(user)
	return &identity, nil
}

// EstablishSession はIdentityに紐付くセッションを発行する。
func (s *Service) EstablishSession(ctx context.Context, identity *model.Identity) (*model.Session, error) {
	if identity == nil || identity.UserID == "" {
		return nil, fmt.Errorf("identity is required")
	}
	sess, err := s.sessions.Create(ctx, *identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.metrics.RecordSessionCreated()
	return sess, nil
}

// HandleCallback はOAuthコールバックを処理し、本人確認とセッション発行を行う。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	identity, err := s.CompleteVerification(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.EstablishSession(ctx, identity)
}

// Logout はセッションを破棄する。存在しないセッションの破棄も成功とする。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	s.metrics.RecordSessionDestroyed()
	slog.Info("user logged out")
	return nil
}

// CurrentIdentity はセッションに紐付くIdentityを返す。
// セッションが存在しないか期限切れの場合は (nil, nil) を返す。
func (s *Service) CurrentIdentity(ctx context.Context, sessionID string) (*model.Identity, error) {
	if sessionID == "" {
		return nil, nil
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	identity := sess.Identity
	return &identity, nil
}

// validateUserInfo はプロフィールの必須項目（subject、メール、表示名）を検証する。
func validateUserInfo(info *OAuthUserInfo) error {
	if info == nil {
		return ErrIncompleteProfile
	}
	var missing []string
	if strings.TrimSpace(info.ProviderUserID) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(info.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(info.Name) == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteProfile, strings.Join(missing, ", "))
	}
	return nil
}
