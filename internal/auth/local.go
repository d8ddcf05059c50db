package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/libmember/internal/model"
)

// LocalProviderが返すメッセージ。Supabase Authの文言に合わせる。
const (
	MsgUserAlreadyRegistered   = "User already registered"
	MsgInvalidLoginCredentials = "Invalid login credentials"
	MsgInvalidToken            = "Invalid or expired token"
	MsgPasswordTooLong         = "Password cannot be longer than 72 characters"
)

// maxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
const maxPasswordBytes = 72

// LocalConfig はLocalProviderの設定。
type LocalConfig struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int

	// テスト用に差し替え可能な時刻関数
	Now func() time.Time
}

// localAccount はLocalProviderが保持するアカウント。
type localAccount struct {
	identity     model.Identity
	passwordHash []byte
}

// localClaims はLocalProviderが発行するアクセストークンのクレーム。
type localClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// LocalProvider はプロセス内でアカウントを管理するProvider実装。
// 開発環境（IDENTITY_PROVIDER=local）とエンドツーエンドテストで使う。
// 再起動するとアカウントとセッションは失われる。
type LocalProvider struct {
	config LocalConfig

	mu       sync.Mutex
	byEmail  map[string]*localAccount
	byID     map[string]*localAccount
	revoked  map[string]time.Time // jti -> exp
	sessions map[string]string    // jti -> refresh token
	refresh  map[string]string    // refresh token -> user id
}

// NewLocalProvider はLocalProviderを生成する。
func NewLocalProvider(config LocalConfig) *LocalProvider {
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Hour
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &LocalProvider{
		config:   config,
		byEmail:  make(map[string]*localAccount),
		byID:     make(map[string]*localAccount),
		revoked:  make(map[string]time.Time),
		sessions: make(map[string]string),
		refresh:  make(map[string]string),
	}
}

// SignUp はアカウントを作成し、セッションを発行する（メール確認なし）。
func (p *LocalProvider) SignUp(_ context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	key := normalizeEmail(email)

	if len(password) > maxPasswordBytes {
		return nil, &ProviderError{Status: http.StatusUnprocessableEntity, Message: MsgPasswordTooLong}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byEmail[key]; exists {
		return nil, &ProviderError{Status: http.StatusUnprocessableEntity, Message: MsgUserAlreadyRegistered}
	}

	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	account := &localAccount{
		identity: model.Identity{
			ID:           uuid.New().String(),
			Email:        key,
			UserMetadata: meta,
			CreatedAt:    p.config.Now().UTC(),
		},
		passwordHash: hash,
	}
	p.byEmail[key] = account
	p.byID[account.identity.ID] = account

	session, err := p.issueSessionLocked(account)
	if err != nil {
		return nil, err
	}

	identity := account.identity
	return &SignUpResult{User: &identity, Session: session}, nil
}

// SignInWithPassword はパスワードを検証し、セッションを発行する。
func (p *LocalProvider) SignInWithPassword(_ context.Context, email, password string) (*SignInResult, error) {
	key := normalizeEmail(email)

	p.mu.Lock()
	account, ok := p.byEmail[key]
	p.mu.Unlock()

	if !ok {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: MsgInvalidLoginCredentials}
	}
	if bcrypt.CompareHashAndPassword(account.passwordHash, []byte(password)) != nil {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: MsgInvalidLoginCredentials}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	session, err := p.issueSessionLocked(account)
	if err != nil {
		return nil, err
	}

	identity := account.identity
	return &SignInResult{User: &identity, Session: session}, nil
}

// SignOut はアクセストークンを失効させ、対応するリフレッシュトークンを破棄する。
func (p *LocalProvider) SignOut(_ context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}

	claims, err := p.parse(accessToken)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneRevokedLocked()
	if claims.ExpiresAt != nil {
		p.revoked[claims.ID] = claims.ExpiresAt.Time
	}
	if rt, ok := p.sessions[claims.ID]; ok {
		delete(p.refresh, rt)
		delete(p.sessions, claims.ID)
	}
	return nil
}

// GetUser はアクセストークンを検証し、アカウントのIdentityを返す。
func (p *LocalProvider) GetUser(_ context.Context, accessToken string) (*model.Identity, error) {
	claims, err := p.parse(accessToken)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, revoked := p.revoked[claims.ID]; revoked {
		return nil, &ProviderError{Status: http.StatusUnauthorized, Message: MsgInvalidToken}
	}
	account, ok := p.byID[claims.Subject]
	if !ok {
		return nil, &ProviderError{Status: http.StatusUnauthorized, Message: MsgInvalidToken}
	}

	identity := account.identity
	return &identity, nil
}

// issueSessionLocked はアクセストークンとリフレッシュトークンを発行する。p.muを保持して呼ぶこと。
func (p *LocalProvider) issueSessionLocked(account *localAccount) (*model.ProviderSession, error) {
	now := p.config.Now().UTC()
	expiresAt := now.Add(p.config.TokenTTL)
	jti := uuid.New().String()

	claims := localClaims{
		Email: account.identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   account.identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.config.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	p.sessions[jti] = refreshToken
	p.refresh[refreshToken] = account.identity.ID

	return &model.ProviderSession{
		AccessToken:  signed,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(p.config.TokenTTL.Seconds()),
		ExpiresAt:    expiresAt.Unix(),
	}, nil
}

// parse はアクセストークンの署名と有効期限を検証する。
func (p *LocalProvider) parse(accessToken string) (*localClaims, error) {
	var claims localClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(token *jwt.Token) (any, error) {
		return p.config.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.config.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, &ProviderError{Status: http.StatusUnauthorized, Message: MsgInvalidToken}
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, &ProviderError{Status: http.StatusUnauthorized, Message: MsgInvalidToken}
	}
	return &claims, nil
}

// pruneRevokedLocked は有効期限を過ぎた失効済みjtiを削除する。p.muを保持して呼ぶこと。
func (p *LocalProvider) pruneRevokedLocked() {
	now := p.config.Now()
	for jti, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, jti)
		}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateRefreshToken は暗号的に安全な不透明トークンを生成する。
func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ Provider = (*LocalProvider)(nil)
