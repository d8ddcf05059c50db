// Package auth はIdentity Providerとの認証フローと、ディレクトリレコードとの同期を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/libmember/internal/metrics"
	"github.com/hitoshi/libmember/internal/model"
)

// パスワードの最小文字数
const minPasswordLength = 6

// 成功時のメッセージ
const (
	MsgUserCreated       = "User created successfully"
	MsgUserCreatedNoSync = "User created in auth, but database sync failed"
	MsgSyncWarning       = "Please contact support if you experience issues"
	MsgLoginSuccessful   = "Login successful"
	MsgLogoutSuccessful  = "Logout successful"
)

// メトリクスの操作ラベル
const (
	opSignup = "signup"
	opLogin  = "login"
	opLogout = "logout"
	opUser   = "user"
)

// Directory はディレクトリレコードの整合処理のインターフェース。
type Directory interface {
	EnsureForSignup(ctx context.Context, identity *model.Identity, fullName string) (*model.User, error)
	EnsureForLogin(ctx context.Context, identity *model.Identity, requestEmail string) (*model.User, error)
	Profile(ctx context.Context, authID string) (*model.User, error)
	EnqueueHeal(ctx context.Context, identity *model.Identity, fullName string, cause error) error
}

// SignUpInput はアカウント作成の入力。ConfirmPasswordは空なら照合しない。
type SignUpInput struct {
	Email           string
	Password        string
	FullName        string
	ConfirmPassword string
}

// Result は認証操作の結果。
// Identityはサインアップ時にIdPがユーザーを返さなかった場合nil。
// DirectoryUserはディレクトリ書き込みに失敗した場合や未作成の場合nil。
type Result struct {
	Message       string
	Identity      *model.Identity
	DirectoryUser *model.User
	Session       *model.ProviderSession
	Warning       string
}

// Service は認証に関するビジネスロジックを提供する。
// リクエスト間で共有する可変状態は持たない。
type Service struct {
	provider  Provider
	directory Directory
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。collectorはnilでもよい。
func NewService(provider Provider, directory Directory, collector metrics.MetricsCollector) *Service {
	return &Service{
		provider:  provider,
		directory: directory,
		metrics:   collector,
	}
}

// validateSignUp はIdP呼び出し前の入力検証。最初に失敗した検査のエラーを返す。
func validateSignUp(in SignUpInput) *model.APIError {
	if in.Email == "" || in.Password == "" {
		return model.NewValidationError(model.MsgEmailPasswordRequired)
	}
	if strings.TrimSpace(in.FullName) == "" {
		return model.NewValidationError(model.MsgFullNameRequired)
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return model.NewValidationError(model.MsgPasswordTooShort)
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return model.NewValidationError(model.MsgPasswordMismatch)
	}
	return nil
}

// SignUp はIdPにアカウントを作成し、ディレクトリレコードを作成する。
// ディレクトリへの書き込みに失敗してもアカウント作成は成功として扱い、
// 警告付きの結果を返したうえで同期ジョブに登録する。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*Result, error) {
	if verr := validateSignUp(in); verr != nil {
		s.recordOutcome(opSignup, metrics.OutcomeInvalid)
		return nil, verr
	}

	fullName := strings.TrimSpace(in.FullName)

	start := time.Now()
	res, err := s.provider.SignUp(ctx, in.Email, in.Password, map[string]any{"full_name": fullName})
	s.recordLatency(opSignup, time.Since(start))
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			s.recordOutcome(opSignup, metrics.OutcomeRejected)
			return nil, model.NewSignupRejectedError(perr.Message)
		}
		s.recordOutcome(opSignup, metrics.OutcomeError)
		return nil, fmt.Errorf("identity provider signup failed: %w", err)
	}

	result := &Result{
		Message:  MsgUserCreated,
		Identity: res.User,
		Session:  res.Session,
	}

	if res.User == nil {
		s.recordOutcome(opSignup, metrics.OutcomeSuccess)
		return result, nil
	}

	dbUser, err := s.directory.EnsureForSignup(ctx, res.User, fullName)
	if err != nil {
		slog.Error("サインアップ時のディレクトリ同期に失敗しました",
			slog.String("auth_id", res.User.ID),
			slog.String("error", err.Error()),
		)
		s.recordDirectoryFailure(opSignup)

		if qerr := s.directory.EnqueueHeal(ctx, res.User, fullName, err); qerr != nil {
			slog.Error("同期ジョブの登録に失敗しました",
				slog.String("auth_id", res.User.ID),
				slog.String("error", qerr.Error()),
			)
		}

		result.Message = MsgUserCreatedNoSync
		result.Warning = MsgSyncWarning
		s.recordOutcome(opSignup, metrics.OutcomeSuccess)
		return result, nil
	}

	result.DirectoryUser = dbUser
	slog.Info("新規アカウントを作成しました",
		slog.String("auth_id", res.User.ID),
		slog.String("user_id", dbUser.ID),
	)
	s.recordOutcome(opSignup, metrics.OutcomeSuccess)
	return result, nil
}

// Login はIdPで認証し、ディレクトリレコードを取得する。無ければ作成する（自己修復）。
// ディレクトリの失敗はログに残して握りつぶし、DirectoryUserをnilにして返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	if email == "" || password == "" {
		s.recordOutcome(opLogin, metrics.OutcomeInvalid)
		return nil, model.NewValidationError(model.MsgEmailPasswordRequired)
	}

	start := time.Now()
	res, err := s.provider.SignInWithPassword(ctx, email, password)
	s.recordLatency(opLogin, time.Since(start))
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			s.recordOutcome(opLogin, metrics.OutcomeRejected)
			return nil, model.NewLoginRejectedError(perr.Message)
		}
		s.recordOutcome(opLogin, metrics.OutcomeError)
		return nil, fmt.Errorf("identity provider sign-in failed: %w", err)
	}

	result := &Result{
		Message:  MsgLoginSuccessful,
		Identity: res.User,
		Session:  res.Session,
	}

	if res.User != nil {
		dbUser, err := s.directory.EnsureForLogin(ctx, res.User, email)
		if err != nil {
			slog.Warn("ログイン時のディレクトリ同期に失敗しました",
				slog.String("auth_id", res.User.ID),
				slog.String("error", err.Error()),
			)
			s.recordDirectoryFailure(opLogin)
		} else {
			result.DirectoryUser = dbUser
		}
	}

	s.recordOutcome(opLogin, metrics.OutcomeSuccess)
	return result, nil
}

// Logout はIdPにサインアウトを依頼する。トークンの失効はIdPの責務。
func (s *Service) Logout(ctx context.Context, accessToken string) (*Result, error) {
	start := time.Now()
	err := s.provider.SignOut(ctx, accessToken)
	s.recordLatency(opLogout, time.Since(start))
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			s.recordOutcome(opLogout, metrics.OutcomeRejected)
			return nil, model.NewLogoutRejectedError(perr.Message)
		}
		s.recordOutcome(opLogout, metrics.OutcomeError)
		return nil, fmt.Errorf("identity provider sign-out failed: %w", err)
	}

	s.recordOutcome(opLogout, metrics.OutcomeSuccess)
	return &Result{Message: MsgLogoutSuccessful}, nil
}

// CurrentUser はアクセストークンからIdentityを解決し、貸出履歴付きのディレクトリレコードを返す。
// ディレクトリレコードが無い場合はログインと同じ規則で作成する。
// ディレクトリの失敗は握りつぶし、DirectoryUserをnilにして返す。
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*Result, error) {
	if accessToken == "" {
		s.recordOutcome(opUser, metrics.OutcomeInvalid)
		return nil, model.NewUnauthorizedError(model.MsgNoAuthorizationHeader)
	}

	start := time.Now()
	identity, err := s.provider.GetUser(ctx, accessToken)
	s.recordLatency(opUser, time.Since(start))
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			s.recordOutcome(opUser, metrics.OutcomeRejected)
			return nil, model.NewUnauthorizedError(perr.Message)
		}
		s.recordOutcome(opUser, metrics.OutcomeError)
		return nil, fmt.Errorf("identity provider get user failed: %w", err)
	}

	result := &Result{Identity: identity}
	if identity != nil {
		result.DirectoryUser = s.loadProfile(ctx, identity)
	}

	s.recordOutcome(opUser, metrics.OutcomeSuccess)
	return result, nil
}

// loadProfile は貸出履歴付きのディレクトリレコードを取得する。失敗時はnilを返す。
func (s *Service) loadProfile(ctx context.Context, identity *model.Identity) *model.User {
	profile, err := s.directory.Profile(ctx, identity.ID)
	if err != nil {
		slog.Warn("プロフィールの取得に失敗しました",
			slog.String("auth_id", identity.ID),
			slog.String("error", err.Error()),
		)
		s.recordDirectoryFailure(opUser)
		return nil
	}
	if profile != nil {
		return profile
	}

	created, err := s.directory.EnsureForLogin(ctx, identity, identity.Email)
	if err != nil {
		slog.Warn("ディレクトリレコードの自己修復に失敗しました",
			slog.String("auth_id", identity.ID),
			slog.String("error", err.Error()),
		)
		s.recordDirectoryFailure(opUser)
		return nil
	}
	if created.Borrowings == nil {
		created.Borrowings = []model.Borrowing{}
	}
	return created
}

func (s *Service) recordOutcome(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAuthOutcome(operation, outcome)
	}
}

func (s *Service) recordLatency(operation string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordProviderLatency(operation, d)
	}
}

func (s *Service) recordDirectoryFailure(operation string) {
	if s.metrics != nil {
		s.metrics.RecordDirectorySyncFailure(operation)
	}
}
