// Package authclient はlibmember認証APIのクライアントSDKを提供する。
// 成功したレスポンスのアクセストークン、リフレッシュトークン、ユーザー情報を
// SessionStoreに保存し、ログアウト時はサーバーの応答に関わらず3つのスロットをすべて消去する。
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// エラーメッセージ
const (
	MsgSignupFailed  = "Signup failed"
	MsgLoginFailed   = "Login failed"
	MsgLogoutFailed  = "Logout failed"
	MsgGetUserFailed = "Failed to get user"
	MsgNoToken       = "No token found"
)

// maxResponseSize はレスポンスボディの読み込み上限（1MB）。
const maxResponseSize = 1 << 20

// Client は認証APIのクライアント。
type Client struct {
	baseURL    string
	store      SessionStore
	httpClient *http.Client
}

// Option はClientのオプション。
type Option func(*Client)

// WithHTTPClient は使用するhttp.Clientを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New はClientを生成する。storeがnilの場合はMemoryStoreを使う。
func New(baseURL string, store SessionStore, opts ...Option) *Client {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type signupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	FullName        string `json:"fullName"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup はアカウントを作成する。confirmPasswordは空でなければ送信する。
func (c *Client) Signup(ctx context.Context, email, password, fullName, confirmPassword string) (*AuthResponse, error) {
	req := signupRequest{
		Email:           email,
		Password:        password,
		FullName:        fullName,
		ConfirmPassword: confirmPassword,
	}

	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", "", req, &resp, MsgSignupFailed); err != nil {
		return nil, err
	}
	if err := c.persist(resp.Session, resp.User); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login はメールアドレスとパスワードでログインする。
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{Email: email, Password: password}, &resp, MsgLoginFailed); err != nil {
		return nil, err
	}
	if err := c.persist(resp.Session, resp.User); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout はサーバーにログアウトを依頼し、結果に関わらず保存済みのセッションを消去する。
func (c *Client) Logout(ctx context.Context) (*MessageResponse, error) {
	token, _, err := c.store.Get(KeyAccessToken)
	if err != nil {
		token = ""
	}

	var resp MessageResponse
	reqErr := c.do(ctx, http.MethodPost, "/auth/logout", token, nil, &resp, MsgLogoutFailed)

	clearErr := c.clearSession()

	if reqErr != nil {
		return nil, reqErr
	}
	if clearErr != nil {
		return nil, clearErr
	}
	return &resp, nil
}

// CurrentUser は保存済みのアクセストークンで現在のユーザーを取得し、保存済みのユーザー情報を更新する。
// トークンが無い場合はリクエストを送らずにエラーを返す。
func (c *Client) CurrentUser(ctx context.Context) (*UserResponse, error) {
	token, ok, err := c.store.Get(KeyAccessToken)
	if err != nil {
		return nil, err
	}
	if !ok || token == "" {
		return nil, &APIError{Message: MsgNoToken}
	}

	var resp UserResponse
	if err := c.do(ctx, http.MethodGet, "/auth/user", token, nil, &resp, MsgGetUserFailed); err != nil {
		return nil, err
	}
	if resp.User != nil {
		if err := c.storeUser(resp.User); err != nil {
			return nil, err
		}
	}
	return &resp, nil
}

// StoredUser は最後に保存したユーザー情報を返す。通信はしない。保存されていない場合はnil。
func (c *Client) StoredUser() (*User, error) {
	raw, ok, err := c.store.Get(KeyUser)
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("failed to decode stored user: %w", err)
	}
	return &u, nil
}

// IsAuthenticated はアクセストークンが保存されているかを返す。通信はしない。
func (c *Client) IsAuthenticated() bool {
	token, ok, err := c.store.Get(KeyAccessToken)
	return err == nil && ok && token != ""
}

func (c *Client) persist(session *Session, user *User) error {
	if session != nil {
		if err := c.store.Set(KeyAccessToken, session.AccessToken); err != nil {
			return err
		}
		if err := c.store.Set(KeyRefreshToken, session.RefreshToken); err != nil {
			return err
		}
	}
	if user != nil {
		return c.storeUser(user)
	}
	return nil
}

func (c *Client) storeUser(user *User) error {
	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return c.store.Set(KeyUser, string(b))
}

// clearSession は3つのスロットを個別に削除する。途中で失敗しても残りの削除を続ける。
func (c *Client) clearSession() error {
	var errs []error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUser} {
		if err := c.store.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// do はJSONリクエストを送信し、2xxならoutにデコードする。
// 2xx以外はボディのerrorフィールド、無ければfallbackをメッセージとするAPIErrorを返す。
func (c *Client) do(ctx context.Context, method, path, token string, in, out any, fallback string) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", fallback, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", fallback, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data, fallback)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: failed to decode response: %w", fallback, err)
		}
	}
	return nil
}

func errorMessage(data []byte, fallback string) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fallback
	}
	return body.Error
}
