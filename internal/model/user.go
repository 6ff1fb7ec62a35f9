// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（アカウント）を表す。
// 外部IdPのユーザーID（Provider + ProviderUserID）と1対1で紐付き、作成後は変更されない。
type User struct {
	ID             int64
	Provider       string
	ProviderUserID string
	Email          string
	FirstName      string
	LastName       string
	CreatedAt      time.Time
}

// UserPatch は管理者によるユーザー情報の部分更新を表す。
// nilのフィールドは変更しない。
type UserPatch struct {
	Email     *string `json:"email,omitempty" validate:"omitnil,email"`
	FirstName *string `json:"first_name,omitempty" validate:"omitnil,min=1,max=255"`
	LastName  *string `json:"last_name,omitempty" validate:"omitnil,max=255"`
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p UserPatch) IsEmpty() bool {
	return p.Email == nil && p.FirstName == nil && p.LastName == nil
}

// TokenPair はログインまたはリフレッシュで発行されるトークンの組。
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}
