// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/libmember/internal/auth"
	"github.com/hitoshi/libmember/internal/middleware"
	"github.com/hitoshi/libmember/internal/model"
)

// maxRequestBodySize は認証リクエストボディの上限。
const maxRequestBodySize = 64 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, in auth.SignUpInput) (*auth.Result, error)
	Login(ctx context.Context, email, password string) (*auth.Result, error)
	Logout(ctx context.Context, accessToken string) (*auth.Result, error)
	CurrentUser(ctx context.Context, accessToken string) (*auth.Result, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// signupRequest はアカウント作成リクエストのボディ。
type signupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	FullName        string `json:"fullName"`
	ConfirmPassword string `json:"confirmPassword"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup はアカウントを作成する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.SignUp(r.Context(), auth.SignUpInput{
		Email:           req.Email,
		Password:        req.Password,
		FullName:        req.FullName,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuthResponse(result))
}

// Login はメールアドレスとパスワードで認証する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// Logout はIdPのセッションを終了する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.AccessTokenFromContext(r.Context())

	result, err := h.service.Logout(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: result.Message})
}

// User はベアラートークンに対応するユーザーを貸出履歴付きで返す。
// GET /auth/user
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.AccessTokenFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized,
			model.NewUnauthorizedError(model.MsgNoAuthorizationHeader))
		return
	}

	result, err := h.service.CurrentUser(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userEnvelope{User: toUserPayload(result)})
}

// decodeJSONBody はリクエストボディをJSONとして読み込む。
// 空のボディは空オブジェクトとして扱い、後段の入力検証に任せる。
// 失敗した場合は400を書き込んでfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError(model.MsgInvalidRequestBody))
		return false
	}
	return true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層のエラーを適切なHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeSignupRejected, model.ErrCodeLogoutRejected:
		return http.StatusBadRequest
	case model.ErrCodeLoginRejected, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
