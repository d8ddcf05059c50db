package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/libmember/internal/model"
)

// レスポンスボディの読み取り上限
const maxProviderResponseSize = 1 << 20

// SupabaseConfig はSupabase Auth（GoTrue）プロバイダーの設定。
type SupabaseConfig struct {
	URL     string // プロジェクトURL（例: https://xyz.supabase.co）
	AnonKey string // apikeyヘッダーに付与する公開キー
	Timeout time.Duration

	// テスト用に差し替え可能なHTTPクライアント
	HTTPClient *http.Client
}

// SupabaseProvider はSupabase AuthのREST APIを呼び出すProvider実装。
type SupabaseProvider struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewSupabaseProvider はSupabaseProviderを生成する。
func NewSupabaseProvider(config SupabaseConfig) *SupabaseProvider {
	client := config.HTTPClient
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &SupabaseProvider{
		baseURL: strings.TrimRight(config.URL, "/") + "/auth/v1",
		anonKey: config.AnonKey,
		client:  client,
	}
}

// gotrueSession はトークンエンドポイントとautoconfirm時のsignupのレスポンス。
type gotrueSession struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	User         *model.Identity `json:"user"`
}

func (s *gotrueSession) toProviderSession() *model.ProviderSession {
	return &model.ProviderSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		ExpiresAt:    s.ExpiresAt,
	}
}

// gotrueError はGoTrueのエラーレスポンス。エンドポイントやバージョンで形が異なる。
type gotrueError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

func (e *gotrueError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignUp はアカウントを作成する。
// メール確認が無効（autoconfirm）の場合はセッション付き、有効な場合はユーザーのみが返る。
func (p *SupabaseProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	if metadata != nil {
		payload["data"] = metadata
	}

	body, err := p.do(ctx, http.MethodPost, "/signup", "", payload)
	if err != nil {
		return nil, err
	}

	var session gotrueSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to parse signup response: %w", err)
	}
	if session.AccessToken != "" {
		return &SignUpResult{User: session.User, Session: session.toProviderSession()}, nil
	}

	var identity model.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, fmt.Errorf("failed to parse signup user: %w", err)
	}
	if identity.ID == "" {
		return &SignUpResult{}, nil
	}
	return &SignUpResult{User: &identity}, nil
}

// SignInWithPassword はパスワードグラントでセッションを取得する。
func (p *SupabaseProvider) SignInWithPassword(ctx context.Context, email, password string) (*SignInResult, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}

	body, err := p.do(ctx, http.MethodPost, "/token?grant_type=password", "", payload)
	if err != nil {
		return nil, err
	}

	var session gotrueSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if session.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &SignInResult{User: session.User, Session: session.toProviderSession()}, nil
}

// SignOut はアクセストークンのセッションを失効させる。
func (p *SupabaseProvider) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	_, err := p.do(ctx, http.MethodPost, "/logout", accessToken, nil)
	return err
}

// GetUser はアクセストークンを検証し、ユーザーを取得する。
func (p *SupabaseProvider) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	body, err := p.do(ctx, http.MethodGet, "/user", accessToken, nil)
	if err != nil {
		return nil, err
	}

	var identity model.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("empty id in user response")
	}

	return &identity, nil
}

// do はGoTrueにリクエストを送り、2xxの場合はボディを返す。
// 2xx以外は*ProviderErrorに変換する。
func (p *SupabaseProvider) do(ctx context.Context, method, path, accessToken string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read identity provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Status:  resp.StatusCode,
			Message: providerErrorMessage(resp.StatusCode, body),
		}
	}

	return body, nil
}

// providerErrorMessage はエラーレスポンスからメッセージを取り出す。
// JSONでない場合はステータステキストを使う。
func providerErrorMessage(status int, body []byte) string {
	var e gotrueError
	if err := json.Unmarshal(body, &e); err == nil {
		if msg := e.text(); msg != "" {
			return msg
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("identity provider returned status %d", status)
}

// compile-time interface check
var _ Provider = (*SupabaseProvider)(nil)
