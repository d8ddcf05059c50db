package handler

import (
	"encoding/json"
	"time"

	"github.com/hitoshi/libmember/internal/auth"
	"github.com/hitoshi/libmember/internal/model"
)

// messageResponse はメッセージのみのレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// authResponse はサインアップとログインのレスポンス。
type authResponse struct {
	Message string                 `json:"message"`
	User    *userPayload           `json:"user"`
	Session *model.ProviderSession `json:"session"`
	Warning string                 `json:"warning,omitempty"`
}

// userEnvelope はGET /auth/userのレスポンス。
type userEnvelope struct {
	User *userPayload `json:"user"`
}

// userPayload はIdentityのフィールドにディレクトリレコードを加えたもの。
// IdPが返したその他のフィールドもそのまま含める。
type userPayload struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	UserMetadata map[string]any  `json:"user_metadata"`
	CreatedAt    time.Time       `json:"created_at"`
	DBUser       *dbUserResponse `json:"dbUser"`

	extra map[string]json.RawMessage
}

// MarshalJSON はIdPのフィールドに既知のフィールドを上書きして出力する。
func (p userPayload) MarshalJSON() ([]byte, error) {
	type payloadFields userPayload
	known, err := json.Marshal(payloadFields(p))
	if err != nil || len(p.extra) == 0 {
		return known, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(p.extra)+len(fields))
	for k, v := range p.extra {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// dbUserResponse はディレクトリレコードのAPI表現。
type dbUserResponse struct {
	ID         string               `json:"id"`
	AuthID     string               `json:"authId"`
	Email      string               `json:"email"`
	Name       string               `json:"name"`
	FullName   *string              `json:"fullName"`
	Membership string               `json:"membership"`
	CreatedAt  time.Time            `json:"createdAt"`
	Borrowings *[]borrowingResponse `json:"borrowings,omitempty"`
}

type borrowingResponse struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"`
	BorrowedAt time.Time    `json:"borrowedAt"`
	DueDate    time.Time    `json:"dueDate"`
	ReturnedAt *time.Time   `json:"returnedAt"`
	Book       bookResponse `json:"book"`
}

type bookResponse struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	ISBN   string         `json:"isbn"`
	Author authorResponse `json:"author"`
}

type authorResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func toAuthResponse(result *auth.Result) authResponse {
	return authResponse{
		Message: result.Message,
		User:    toUserPayload(result),
		Session: result.Session,
		Warning: result.Warning,
	}
}

// toUserPayload はIdentityが無い場合nilを返す。
func toUserPayload(result *auth.Result) *userPayload {
	if result.Identity == nil {
		return nil
	}
	metadata := result.Identity.UserMetadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &userPayload{
		ID:           result.Identity.ID,
		Email:        result.Identity.Email,
		UserMetadata: metadata,
		CreatedAt:    result.Identity.CreatedAt,
		DBUser:       toDBUserResponse(result.DirectoryUser),
		extra:        result.Identity.Extra,
	}
}

func toDBUserResponse(u *model.User) *dbUserResponse {
	if u == nil {
		return nil
	}
	resp := &dbUserResponse{
		ID:         u.ID,
		AuthID:     u.AuthID,
		Email:      u.Email,
		Name:       u.Name,
		FullName:   u.FullName,
		Membership: string(u.Membership),
		CreatedAt:  u.CreatedAt,
	}
	// 貸出履歴はプロフィール取得時のみ含める
	if u.Borrowings != nil {
		borrowings := make([]borrowingResponse, len(u.Borrowings))
		for i, b := range u.Borrowings {
			borrowings[i] = borrowingResponse{
				ID:         b.ID,
				Status:     string(b.Status),
				BorrowedAt: b.BorrowedAt,
				DueDate:    b.DueDate,
				ReturnedAt: b.ReturnedAt,
				Book: bookResponse{
					ID:    b.Book.ID,
					Title: b.Book.Title,
					ISBN:  b.Book.ISBN,
					Author: authorResponse{
						ID:   b.Book.Author.ID,
						Name: b.Book.Author.Name,
					},
				},
			}
		}
		resp.Borrowings = &borrowings
	}
	return resp
}
