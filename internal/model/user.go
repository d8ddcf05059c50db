// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// Membership は会員種別を表す。
type Membership string

const (
	// MembershipBasic は新規登録時のデフォルト会員種別。
	MembershipBasic Membership = "basic"
	// MembershipPremium は上位会員種別。
	MembershipPremium Membership = "premium"
)

// Identity はIdPが管理するアカウントを表す。
// このシステムからはIdP呼び出し以外で変更しない。
type Identity struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`

	// Extra は上記以外のIdPのフィールド（aud, role, app_metadataなど）を未加工のまま保持する。
	Extra map[string]json.RawMessage `json:"-"`
}

// identityKeys はIdentityが構造体フィールドとして扱うJSONキー。
var identityKeys = []string{"id", "email", "user_metadata", "created_at"}

// UnmarshalJSON は既知のフィールドを読み込み、残りをExtraに保持する。
func (i *Identity) UnmarshalJSON(data []byte) error {
	type identityFields Identity
	var known identityFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var rest map[string]json.RawMessage
	if err := json.Unmarshal(data, &rest); err != nil {
		return err
	}
	for _, key := range identityKeys {
		delete(rest, key)
	}

	*i = Identity(known)
	if len(rest) > 0 {
		i.Extra = rest
	}
	return nil
}

// MetadataFullName はuser_metadataのfull_nameを返す。未設定または空の場合は空文字列を返す。
func (i *Identity) MetadataFullName() string {
	if i == nil || i.UserMetadata == nil {
		return ""
	}
	v, ok := i.UserMetadata["full_name"].(string)
	if !ok {
		return ""
	}
	return v
}

// ProviderSession はIdPが発行したアクセストークンとリフレッシュトークンの組。
// 有効期限はIdPが管理し、ローカルでは検証しない。
type ProviderSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// User はローカルのディレクトリレコード（会員プロフィール）を表す。
// AuthIDはIdPのユーザーIDで、ローカル主キーとは別のユニークキー。
type User struct {
	ID         string
	AuthID     string
	Email      string
	Name       string
	FullName   *string
	Membership Membership
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Borrowings はProfile取得時のみ埋められる。
	Borrowings []Borrowing
}
