// internal/circulation/domain.go
package circulation

import (
	"errors"

	"libralend/internal/catalog"
	"libralend/internal/directory"
)

// Failures that abort an operation before anything is changed.
var (
	ErrInvalidUser      = errors.New("invalid user")
	ErrInvalidBook      = errors.New("invalid book")
	ErrBookNotAvailable = errors.New("book not available")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidCopies    = errors.New("number of copies cannot be negative")
	ErrInvalidRole      = errors.New("invalid role")
)

// ErrStorage wraps any failure reported by the persistent store. The current
// operation is aborted; the session stays usable.
var ErrStorage = errors.New("storage error")

// Outcome is the business result of an operation that did not fail.
type Outcome string

const (
	OutcomeNone               Outcome = ""
	OutcomeUserAdded          Outcome = "user_added"
	OutcomeDuplicateUser      Outcome = "duplicate_user"
	OutcomeBookAdded          Outcome = "book_added"
	OutcomeCopiesMerged       Outcome = "copies_merged"
	OutcomeTitleConflict      Outcome = "title_conflict"
	OutcomeBorrowed           Outcome = "borrowed"
	OutcomeAlreadyBorrowed    Outcome = "already_borrowed"
	OutcomeOnlyStudentsBorrow Outcome = "only_students_can_borrow"
	OutcomeReturned           Outcome = "returned"
	OutcomeNotBorrowed        Outcome = "not_borrowed"
)

// Applied reports whether the outcome changed persisted state.
func (o Outcome) Applied() bool {
	switch o {
	case OutcomeUserAdded, OutcomeBookAdded, OutcomeCopiesMerged, OutcomeBorrowed, OutcomeReturned:
		return true
	default:
		return false
	}
}

// Message is the user-facing text for the outcome.
func (o Outcome) Message() string {
	switch o {
	case OutcomeUserAdded:
		return "User added."
	case OutcomeDuplicateUser:
		return "User ID already exists!"
	case OutcomeBookAdded:
		return "Success: New book added to library."
	case OutcomeCopiesMerged:
		return "Success: Book matched (ID & Title). Copies increased."
	case OutcomeTitleConflict:
		return "Error: Conflict! Book ID is already assigned to a different title."
	case OutcomeBorrowed:
		return "Book borrowed."
	case OutcomeAlreadyBorrowed:
		return "Student already has this book."
	case OutcomeOnlyStudentsBorrow:
		return "Only students can borrow."
	case OutcomeReturned:
		return "Book returned."
	case OutcomeNotBorrowed:
		return "Student does not have this book."
	default:
		return ""
	}
}

// UserView is a user together with the books they currently hold.
type UserView struct {
	directory.User
	Borrowed []int `json:"borrowed,omitempty"`
}

// Snapshot is a read-only view of the whole library, freshly loaded from the store.
type Snapshot struct {
	Books []catalog.Book `json:"books"`
	Users []UserView     `json:"users"`
}

// UserAddedEvent is journaled when a user is created.
type UserAddedEvent struct {
	UserID int    `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// BookAddedEvent is journaled when a new catalog entry is created.
type BookAddedEvent struct {
	BookID  int    `json:"book_id"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Copies  int    `json:"copies"`
	AddedBy int    `json:"added_by"`
}

// CopiesMergedEvent is journaled when copies are added to an existing entry.
type CopiesMergedEvent struct {
	BookID   int `json:"book_id"`
	Added    int `json:"added"`
	NewTotal int `json:"new_total"`
	AddedBy  int `json:"added_by"`
}

// BookBorrowedEvent is journaled when a student takes a copy.
type BookBorrowedEvent struct {
	UserID          int `json:"user_id"`
	BookID          int `json:"book_id"`
	RemainingCopies int `json:"remaining_copies"`
}

// BookReturnedEvent is journaled when a student brings a copy back.
type BookReturnedEvent struct {
	UserID          int `json:"user_id"`
	BookID          int `json:"book_id"`
	RemainingCopies int `json:"remaining_copies"`
}
