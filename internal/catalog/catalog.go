// internal/catalog/catalog.go
package catalog

import (
	"errors"
	"sort"

	"libralend/internal/store"
)

var (
	ErrUnknownBook    = errors.New("unknown book")
	ErrNegativeCopies = errors.New("copy count would become negative")
)

// Catalog is the in-memory mirror of the persisted book inventory.
// It is not safe for concurrent use; the lending engine serializes access.
type Catalog struct {
	books map[int]Book
}

func New() *Catalog {
	return &Catalog{books: make(map[int]Book)}
}

// FindBook looks a book up by id. A missing book is reported with ok == false.
func (c *Catalog) FindBook(id int) (Book, bool) {
	b, ok := c.books[id]
	return b, ok
}

// IsAvailable is true iff the book exists and has at least one copy.
func (c *Catalog) IsAvailable(id int) bool {
	b, ok := c.books[id]
	return ok && b.Available()
}

// ApplyDelta adjusts the cached copy count. The store is not touched.
func (c *Catalog) ApplyDelta(id, delta int) error {
	b, ok := c.books[id]
	if !ok {
		return ErrUnknownBook
	}
	if b.Copies+delta < 0 {
		return ErrNegativeCopies
	}
	b.Copies += delta
	c.books[id] = b
	return nil
}

// Reload replaces the whole cache with the supplied records.
func (c *Catalog) Reload(records []store.BookRecord) {
	books := make(map[int]Book, len(records))
	for _, r := range records {
		books[r.ID] = BookFromRecord(r)
	}
	c.books = books
}

// Books returns every cached book ordered by id.
func (c *Catalog) Books() []Book {
	out := make([]Book, 0, len(c.books))
	for _, b := range c.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Len() int {
	return len(c.books)
}
