package authclient

import (
	"fmt"
	"time"
)

// Session はサーバーが返すIdPセッション。
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// User はIdentityにディレクトリレコード（dbUser）を加えたもの。
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	DBUser       *DBUser        `json:"dbUser"`
}

// DBUser はディレクトリレコード。DBUserが未作成の場合はnull。
type DBUser struct {
	ID         string      `json:"id"`
	AuthID     string      `json:"authId"`
	Email      string      `json:"email"`
	Name       string      `json:"name"`
	FullName   *string     `json:"fullName"`
	Membership string      `json:"membership"`
	CreatedAt  time.Time   `json:"createdAt"`
	Borrowings []Borrowing `json:"borrowings,omitempty"`
}

type Borrowing struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	BorrowedAt time.Time  `json:"borrowedAt"`
	DueDate    time.Time  `json:"dueDate"`
	ReturnedAt *time.Time `json:"returnedAt"`
	Book       Book       `json:"book"`
}

type Book struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	ISBN   string `json:"isbn"`
	Author Author `json:"author"`
}

type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AuthResponse はサインアップとログインのレスポンス。
type AuthResponse struct {
	Message string   `json:"message"`
	User    *User    `json:"user"`
	Session *Session `json:"session"`
	Warning string   `json:"warning,omitempty"`
}

// MessageResponse はログアウトのレスポンス。
type MessageResponse struct {
	Message string `json:"message"`
}

// UserResponse はGET /auth/userのレスポンス。
type UserResponse struct {
	User *User `json:"user"`
}

// APIError はサーバーが2xx以外を返した場合のエラー。
// Statusが0の場合はリクエストを送信していない。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}
