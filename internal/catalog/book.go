// internal/catalog/book.go
package catalog

import (
	"fmt"

	"libralend/internal/store"
)

// Book is a catalog entry with its current number of copies on the shelf.
type Book struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Copies int    `json:"copies"`
}

// BookFromRecord converts a persisted book.
func BookFromRecord(r store.BookRecord) Book {
	return Book{ID: r.ID, Title: r.Title, Author: r.Author, Copies: r.Copies}
}

// Available reports whether at least one copy can be lent.
func (b Book) Available() bool {
	return b.Copies > 0
}

func (b Book) String() string {
	return fmt.Sprintf("ID: %d | Title: %s | Author: %s | Copies: %d", b.ID, b.Title, b.Author, b.Copies)
}
