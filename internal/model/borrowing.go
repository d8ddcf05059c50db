package model

import "time"

// BorrowingStatus は貸出状態を表す。
type BorrowingStatus string

const (
	BorrowingStatusBorrowed BorrowingStatus = "borrowed"
	BorrowingStatusReturned BorrowingStatus = "returned"
	BorrowingStatusOverdue  BorrowingStatus = "overdue"
)

// Author は著者を表す。
type Author struct {
	ID   string
	Name string
}

// Book は蔵書を表す。
type Book struct {
	ID       string
	Title    string
	ISBN     string
	AuthorID string
	Author   Author
}

// Borrowing は貸出履歴を表す。このサービスからは読み取り専用。
type Borrowing struct {
	ID         string
	UserID     string
	BookID     string
	Status     BorrowingStatus
	BorrowedAt time.Time
	DueDate    time.Time
	ReturnedAt *time.Time
	Book       Book
}
