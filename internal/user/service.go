// Package user はディレクトリレコード（会員プロフィール）の整合処理を提供する。
//
// IdPへの書き込みとディレクトリへの書き込みはトランザクションで束ねられないため、
// ここでの作成はすべてauth_idをキーにした冪等なUpsertで行う。
// サインアップ時に失敗した分は同期ジョブに積み、reconcileワーカーが後から修復する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/libmember/internal/model"
	"github.com/hitoshi/libmember/internal/repository"
	"github.com/hitoshi/libmember/internal/security"
)

// 同期ジョブの登録理由
const (
	ReasonSignup = "signup"
	ReasonLogin  = "login"
)

// Service はディレクトリレコードのサービス層。
type Service struct {
	userRepo  repository.UserRepository
	jobRepo   repository.SyncJobRepository
	sanitizer security.NameSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// jobRepoがnilの場合、EnqueueHealはエラーを返す。
func NewService(
	userRepo repository.UserRepository,
	jobRepo repository.SyncJobRepository,
	sanitizer security.NameSanitizer,
) *Service {
	return &Service{
		userRepo:  userRepo,
		jobRepo:   jobRepo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// DeriveName は氏名の最初の空白区切りトークンを表示名として返す。
func DeriveName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// EmailLocalPart はメールアドレスの@より前を返す。@がなければ全体を返す。
func EmailLocalPart(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	return local
}

// signupNames はサインアップ時の表示名と氏名を決める。
func (s *Service) signupNames(identity *model.Identity, fullName string) (string, *string) {
	cleaned := s.sanitizer.Sanitize(strings.TrimSpace(fullName))
	if cleaned == "" {
		return EmailLocalPart(identity.Email), nil
	}
	return DeriveName(cleaned), &cleaned
}

// EnsureForSignup はサインアップ直後のIdentityに対してディレクトリレコードを作成する。
// 表示名は氏名の最初のトークン、氏名はトリム済みの入力値。
// 既にレコードがある場合はそれを変更せずに返す。
func (s *Service) EnsureForSignup(ctx context.Context, identity *model.Identity, fullName string) (*model.User, error) {
	name, full := s.signupNames(identity, fullName)
	return s.upsert(ctx, identity.ID, identity.Email, name, full)
}

// EnsureForLogin はログイン時にディレクトリレコードを取得し、無ければ作成する（自己修復）。
// 作成時の氏名はIdPのmetadataのfull_name、表示名はfull_nameか、無ければリクエストのメールアドレスのローカル部。
func (s *Service) EnsureForLogin(ctx context.Context, identity *model.Identity, requestEmail string) (*model.User, error) {
	existing, err := s.userRepo.FindByAuthID(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("ディレクトリレコードの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	var full *string
	name := s.sanitizer.Sanitize(identity.MetadataFullName())
	if name != "" {
		full = &name
	} else {
		name = EmailLocalPart(requestEmail)
	}

	email := identity.Email
	if email == "" {
		email = requestEmail
	}

	user, err := s.upsert(ctx, identity.ID, email, name, full)
	if err != nil {
		return nil, err
	}

	slog.Info("ディレクトリレコードを自己修復しました",
		slog.String("auth_id", identity.ID),
		slog.String("user_id", user.ID),
	)
	return user, nil
}

// Profile は貸出履歴付きのディレクトリレコードを返す。存在しない場合はnilを返す。
func (s *Service) Profile(ctx context.Context, authID string) (*model.User, error) {
	user, err := s.userRepo.FindProfileByAuthID(ctx, authID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return user, nil
}

// EnqueueHeal はサインアップ時に作成できなかったディレクトリレコードを同期ジョブに登録する。
// 名前の決め方はEnsureForSignupと同じ。
func (s *Service) EnqueueHeal(ctx context.Context, identity *model.Identity, fullName string, cause error) error {
	if s.jobRepo == nil {
		return fmt.Errorf("同期ジョブのリポジトリが設定されていません")
	}

	name, full := s.signupNames(identity, fullName)
	now := s.now()

	reason := ReasonSignup
	if cause != nil {
		reason = ReasonSignup + ": " + cause.Error()
	}

	job := &model.SyncJob{
		ID:            uuid.New().String(),
		AuthID:        identity.ID,
		Email:         identity.Email,
		Name:          name,
		FullName:      full,
		Reason:        reason,
		Status:        model.SyncJobStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.jobRepo.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("同期ジョブの登録に失敗しました: %w", err)
	}

	slog.Info("同期ジョブを登録しました",
		slog.String("auth_id", identity.ID),
		slog.String("job_id", job.ID),
	)
	return nil
}

// Heal は同期ジョブの内容でディレクトリレコードを作成する。reconcileワーカーから呼ばれる。
func (s *Service) Heal(ctx context.Context, job *model.SyncJob) (*model.User, error) {
	return s.upsert(ctx, job.AuthID, job.Email, job.Name, job.FullName)
}

// upsert はauth_idをキーにディレクトリレコードを冪等に作成する。
func (s *Service) upsert(ctx context.Context, authID, email, name string, fullName *string) (*model.User, error) {
	now := s.now()
	record := &model.User{
		ID:         uuid.New().String(),
		AuthID:     authID,
		Email:      email,
		Name:       name,
		FullName:   fullName,
		Membership: model.MembershipBasic,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	stored, err := s.userRepo.UpsertByAuthID(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("ディレクトリレコードの作成に失敗しました: %w", err)
	}
	return stored, nil
}
