// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IDはIdPに依存しない安定した識別子で、Identity.UserIDとして公開される。
type User struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderLink は外部IdPのアカウントとユーザーの紐付け情報を表す。
// identitiesテーブルの1行に対応する。
type ProviderLink struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Identity は本人確認済みのユーザー情報を表す。
// セッションに紐付いた後は不変で、再認証によってのみ更新される。
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// IdentityFromUser はUserからIdentityを組み立てる。
func IdentityFromUser(u *User) Identity {
	return Identity{
		UserID:      u.ID,
		DisplayName: u.Name,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
	}
}

// Session はユーザーのログインセッションを表す。
// セッションストアのみが所有し、ID単位で作成・取得・破棄される。
type Session struct {
	ID        string
	Identity  Identity
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired は時刻nowの時点でセッションが期限切れかどうかを返す。
// ExpiresAtちょうどの時刻は期限切れとして扱う。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
