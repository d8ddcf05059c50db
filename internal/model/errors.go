// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Messageはそのままクライアントに返すため、内部情報を含めないこと。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeSignupRejected   = "SIGNUP_REJECTED"
	ErrCodeLoginRejected    = "LOGIN_REJECTED"
	ErrCodeLogoutRejected   = "LOGOUT_REJECTED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// 入力検証メッセージ。クライアントSDKやフロントエンドが表示する文言と一致させる。
const (
	MsgEmailPasswordRequired = "Email and password are required"
	MsgFullNameRequired      = "Full name is required"
	MsgPasswordTooShort      = "Password must be at least 6 characters long"
	MsgPasswordMismatch      = "Passwords do not match"
	MsgNoAuthorizationHeader = "No authorization header"
	MsgInvalidRequestBody    = "Invalid request body"
	MsgInternalServerError   = "Internal server error"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
	}
}

// NewSignupRejectedError はIdPがアカウント作成を拒否した場合のエラーを生成する。
// メッセージはIdPのものをそのまま使う。
func NewSignupRejectedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeSignupRejected,
		Message:  message,
		Category: "auth",
	}
}

// NewLoginRejectedError はIdPが認証情報を拒否した場合のエラーを生成する。
func NewLoginRejectedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeLoginRejected,
		Message:  message,
		Category: "auth",
	}
}

// NewLogoutRejectedError はIdPがサインアウトを拒否した場合のエラーを生成する。
func NewLogoutRejectedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeLogoutRejected,
		Message:  message,
		Category: "auth",
	}
}

// NewUnauthorizedError はトークンが無い、または無効な場合のエラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: "auth",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録すること。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  MsgInternalServerError,
		Category: "system",
	}
}
