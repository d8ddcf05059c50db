package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/libmember/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したディレクトリレコードのリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const selectUserColumns = `SELECT id, auth_id, email, name, full_name, membership, created_at, updated_at FROM users`

// FindByAuthID はIdPのユーザーIDでディレクトリレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByAuthID(ctx context.Context, authID string) (*model.User, error) {
	user := &model.User{}
	var fullName sql.NullString

	err := r.db.QueryRowContext(ctx,
		selectUserColumns+` WHERE auth_id = $1`,
		authID,
	).Scan(
		&user.ID, &user.AuthID, &user.Email, &user.Name,
		&fullName, &user.Membership, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by auth ID: %w", err)
	}

	user.FullName = nullStringPtr(fullName)
	return user, nil
}

// FindProfileByAuthID はディレクトリレコードを貸出履歴付きで取得する。
// 貸出履歴はborrowed_at降順で、書籍と著者をJOINして返す。
func (r *PostgresUserRepo) FindProfileByAuthID(ctx context.Context, authID string) (*model.User, error) {
	user, err := r.FindByAuthID(ctx, authID)
	if err != nil || user == nil {
		return user, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.user_id, b.book_id, b.status, b.borrowed_at, b.due_date, b.returned_at,
		        bk.id, bk.title, bk.isbn, bk.author_id,
		        a.id, a.name
		 FROM borrowings b
		 INNER JOIN books bk ON bk.id = b.book_id
		 INNER JOIN authors a ON a.id = bk.author_id
		 WHERE b.user_id = $1
		 ORDER BY b.borrowed_at DESC`,
		user.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query borrowings: %w", err)
	}
	defer rows.Close()

	user.Borrowings = []model.Borrowing{}
	for rows.Next() {
		var b model.Borrowing
		var returnedAt sql.NullTime
		var isbn sql.NullString

		if err := rows.Scan(
			&b.ID, &b.UserID, &b.BookID, &b.Status, &b.BorrowedAt, &b.DueDate, &returnedAt,
			&b.Book.ID, &b.Book.Title, &isbn, &b.Book.AuthorID,
			&b.Book.Author.ID, &b.Book.Author.Name,
		); err != nil {
			return nil, fmt.Errorf("failed to scan borrowing: %w", err)
		}

		if returnedAt.Valid {
			b.ReturnedAt = &returnedAt.Time
		}
		b.Book.ISBN = isbn.String
		user.Borrowings = append(user.Borrowings, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate borrowings: %w", err)
	}

	return user, nil
}

// UpsertByAuthID はauth_idをキーにディレクトリレコードを冪等に作成する。
// INSERT ON CONFLICT DO NOTHING の後に読み直すため、同一IdentityへのUpsertが
// 並行しても1件に収束し、常に実際に保存されているレコードを返す。
func (r *PostgresUserRepo) UpsertByAuthID(ctx context.Context, user *model.User) (*model.User, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, auth_id, email, name, full_name, membership, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (auth_id) DO NOTHING`,
		user.ID, user.AuthID, user.Email, user.Name, user.FullName,
		user.Membership, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	stored, err := r.FindByAuthID(ctx, user.AuthID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("user disappeared after upsert: auth_id=%s", user.AuthID)
	}

	return stored, nil
}

// nullStringPtr はsql.NullStringを*stringに変換する。
func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
