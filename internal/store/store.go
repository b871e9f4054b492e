// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("record already exists")
	ErrNegativeCopies = errors.New("copy count cannot be negative")
	ErrUnknownTable   = errors.New("unknown table")
	ErrUnknownColumn  = errors.New("unknown column")
	ErrClosed         = errors.New("store is closed")
)

// Table names a record collection.
type Table string

const (
	TableUsers         Table = "users"
	TableBooks         Table = "books"
	TableBorrowRecords Table = "borrow_records"
)

// Predicate is a column -> value equality filter. All entries must match.
type Predicate map[string]any

// UserRecord is the persisted form of a library user.
type UserRecord struct {
	ID   int    `db:"id"`
	Name string `db:"name"`
	Role string `db:"role"`
}

// BookRecord is the persisted form of a catalog entry.
type BookRecord struct {
	ID     int    `db:"id"`
	Title  string `db:"title"`
	Author string `db:"author"`
	Copies int    `db:"copies"`
}

// BorrowRecord states that a student currently holds one copy of a book.
type BorrowRecord struct {
	UserID int `db:"user_id"`
	BookID int `db:"book_id"`
}

// Event is a lending journal entry, written in the same transaction as the
// change it describes.
type Event struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	AggregateID   int             `json:"aggregate_id" db:"aggregate_id"`
	EventType     string          `json:"event_type" db:"event_type"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Queries is the record-level contract shared by a store and its transactions.
type Queries interface {
	CreateUser(ctx context.Context, u UserRecord) error
	CreateBook(ctx context.Context, b BookRecord) error
	GetBook(ctx context.Context, id int) (BookRecord, error)
	UpdateBookCopies(ctx context.Context, id, newCount int) error
	CreateBorrowRecord(ctx context.Context, r BorrowRecord) error
	DeleteBorrowRecord(ctx context.Context, r BorrowRecord) error
	Count(ctx context.Context, table Table, where Predicate) (int, error)
	ScanUsers(ctx context.Context) ([]UserRecord, error)
	ScanBooks(ctx context.Context) ([]BookRecord, error)
	ScanBorrowRecords(ctx context.Context) ([]BorrowRecord, error)
	AppendEvent(ctx context.Context, e Event) error
}

// Store is the durable source of truth for users, books and borrow records.
type Store interface {
	Queries
	// WithinTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(q Queries) error) error
	Events(ctx context.Context, aggregateType string, aggregateID int) ([]Event, error)
	Close() error
}

var columns = map[Table]map[string]bool{
	TableUsers:         {"id": true, "name": true, "role": true},
	TableBooks:         {"id": true, "title": true, "author": true, "copies": true},
	TableBorrowRecords: {"user_id": true, "book_id": true},
}

func validatePredicate(table Table, where Predicate) error {
	cols, ok := columns[table]
	if !ok {
		return ErrUnknownTable
	}
	for col := range where {
		if !cols[col] {
			return errors.Join(ErrUnknownColumn, errors.New(string(table)+"."+col))
		}
	}
	return nil
}
