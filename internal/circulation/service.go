// internal/circulation/service.go
package circulation

import (
	"context"

	"libralend/internal/directory"
	"libralend/internal/store"
)

// Service defines the lending engine. It is the only component that writes
// to the catalog, the directory and the persistent store.
type Service interface {
	AddUser(ctx context.Context, id int, name string, role directory.Role) (Outcome, error)
	AddBook(ctx context.Context, actingUserID, bookID int, title, author string, copies int) (Outcome, error)
	BorrowBook(ctx context.Context, studentID, bookID int) (Outcome, error)
	ReturnBook(ctx context.Context, studentID, bookID int) (Outcome, error)
	ListState(ctx context.Context) (Snapshot, error)
	BookHistory(ctx context.Context, bookID int) ([]store.Event, error)
}
