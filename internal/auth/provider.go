package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/libmember/internal/model"
)

// SignUpResult はIdPのアカウント作成結果。
// メール確認が必要な設定ではSessionがnilになる。IdPによってはUserもnilになり得る。
type SignUpResult struct {
	User    *model.Identity
	Session *model.ProviderSession
}

// SignInResult はIdPの認証結果。
type SignInResult struct {
	User    *model.Identity
	Session *model.ProviderSession
}

// Provider はIdentity Providerクライアントのインターフェース。
// 実装はIdPが操作を拒否した場合に*ProviderErrorを返す。
type Provider interface {
	// SignUp はアカウントを作成する。metadataはIdPのuser_metadataとして保存される。
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error)
	// SignInWithPassword はメールアドレスとパスワードで認証し、セッションを発行する。
	SignInWithPassword(ctx context.Context, email, password string) (*SignInResult, error)
	// SignOut はアクセストークンに紐づくセッションを失効させる。空のトークンでは何もしない。
	SignOut(ctx context.Context, accessToken string) error
	// GetUser はアクセストークンを検証し、対応するIdentityを返す。
	GetUser(ctx context.Context, accessToken string) (*model.Identity, error)
}

// ProviderError はIdPが操作を拒否したことを表す。
// MessageはIdPのメッセージで、そのままクライアントに返してよい。
type ProviderError struct {
	Status  int
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider rejected request (status %d): %s", e.Status, e.Message)
}
