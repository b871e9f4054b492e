// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryState struct {
	users   map[int]UserRecord
	books   map[int]BookRecord
	borrows map[BorrowRecord]struct{}
	events  []Event
}

func newMemoryState() memoryState {
	return memoryState{
		users:   map[int]UserRecord{},
		books:   map[int]BookRecord{},
		borrows: map[BorrowRecord]struct{}{},
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		users:   make(map[int]UserRecord, len(s.users)),
		books:   make(map[int]BookRecord, len(s.books)),
		borrows: make(map[BorrowRecord]struct{}, len(s.borrows)),
		events:  append([]Event(nil), s.events...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k := range s.borrows {
		c.borrows[k] = struct{}{}
	}
	return c
}

// MemoryStore keeps all records in process memory. Transactions work on a
// clone of the state that replaces the live state on commit.
type MemoryStore struct {
	mu     sync.Mutex
	state  memoryState
	closed bool
	now    func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: newMemoryState(),
		now:   time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(&memoryQueries{state: &work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// view runs a read or single write directly against the live state.
func (m *MemoryStore) view(fn func(q *memoryQueries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memoryQueries{state: &m.state, now: m.now})
}

func (m *MemoryStore) CreateUser(ctx context.Context, u UserRecord) error {
	return m.view(func(q *memoryQueries) error { return q.CreateUser(ctx, u) })
}

func (m *MemoryStore) CreateBook(ctx context.Context, b BookRecord) error {
	return m.view(func(q *memoryQueries) error { return q.CreateBook(ctx, b) })
}

func (m *MemoryStore) GetBook(ctx context.Context, id int) (rec BookRecord, err error) {
	err = m.view(func(q *memoryQueries) error {
		rec, err = q.GetBook(ctx, id)
		return err
	})
	return rec, err
}

func (m *MemoryStore) UpdateBookCopies(ctx context.Context, id, newCount int) error {
	return m.view(func(q *memoryQueries) error { return q.UpdateBookCopies(ctx, id, newCount) })
}

func (m *MemoryStore) CreateBorrowRecord(ctx context.Context, r BorrowRecord) error {
	return m.view(func(q *memoryQueries) error { return q.CreateBorrowRecord(ctx, r) })
}

func (m *MemoryStore) DeleteBorrowRecord(ctx context.Context, r BorrowRecord) error {
	return m.view(func(q *memoryQueries) error { return q.DeleteBorrowRecord(ctx, r) })
}

func (m *MemoryStore) Count(ctx context.Context, table Table, where Predicate) (n int, err error) {
	err = m.view(func(q *memoryQueries) error {
		n, err = q.Count(ctx, table, where)
		return err
	})
	return n, err
}

func (m *MemoryStore) ScanUsers(ctx context.Context) (out []UserRecord, err error) {
	err = m.view(func(q *memoryQueries) error {
		out, err = q.ScanUsers(ctx)
		return err
	})
	return out, err
}

func (m *MemoryStore) ScanBooks(ctx context.Context) (out []BookRecord, err error) {
	err = m.view(func(q *memoryQueries) error {
		out, err = q.ScanBooks(ctx)
		return err
	})
	return out, err
}

func (m *MemoryStore) ScanBorrowRecords(ctx context.Context) (out []BorrowRecord, err error) {
	err = m.view(func(q *memoryQueries) error {
		out, err = q.ScanBorrowRecords(ctx)
		return err
	})
	return out, err
}

func (m *MemoryStore) AppendEvent(ctx context.Context, e Event) error {
	return m.view(func(q *memoryQueries) error { return q.AppendEvent(ctx, e) })
}

func (m *MemoryStore) Events(_ context.Context, aggregateType string, aggregateID int) ([]Event, error) {
	out := []Event{}
	err := m.view(func(q *memoryQueries) error {
		for _, e := range q.state.events {
			if e.AggregateType == aggregateType && e.AggregateID == aggregateID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryQueries struct {
	state *memoryState
	now   func() time.Time
}

func (q *memoryQueries) CreateUser(_ context.Context, u UserRecord) error {
	if _, ok := q.state.users[u.ID]; ok {
		return fmt.Errorf("user %d: %w", u.ID, ErrDuplicate)
	}
	q.state.users[u.ID] = u
	return nil
}

func (q *memoryQueries) CreateBook(_ context.Context, b BookRecord) error {
	if b.Copies < 0 {
		return ErrNegativeCopies
	}
	if _, ok := q.state.books[b.ID]; ok {
		return fmt.Errorf("book %d: %w", b.ID, ErrDuplicate)
	}
	q.state.books[b.ID] = b
	return nil
}

func (q *memoryQueries) GetBook(_ context.Context, id int) (BookRecord, error) {
	b, ok := q.state.books[id]
	if !ok {
		return BookRecord{}, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return b, nil
}

func (q *memoryQueries) UpdateBookCopies(_ context.Context, id, newCount int) error {
	if newCount < 0 {
		return ErrNegativeCopies
	}
	b, ok := q.state.books[id]
	if !ok {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	b.Copies = newCount
	q.state.books[id] = b
	return nil
}

func (q *memoryQueries) CreateBorrowRecord(_ context.Context, r BorrowRecord) error {
	if _, ok := q.state.borrows[r]; ok {
		return fmt.Errorf("borrow record (%d, %d): %w", r.UserID, r.BookID, ErrDuplicate)
	}
	q.state.borrows[r] = struct{}{}
	return nil
}

func (q *memoryQueries) DeleteBorrowRecord(_ context.Context, r BorrowRecord) error {
	if _, ok := q.state.borrows[r]; !ok {
		return fmt.Errorf("borrow record (%d, %d): %w", r.UserID, r.BookID, ErrNotFound)
	}
	delete(q.state.borrows, r)
	return nil
}

func (q *memoryQueries) Count(_ context.Context, table Table, where Predicate) (int, error) {
	if err := validatePredicate(table, where); err != nil {
		return 0, err
	}

	n := 0
	switch table {
	case TableUsers:
		for _, u := range q.state.users {
			if matches(where, map[string]any{"id": u.ID, "name": u.Name, "role": u.Role}) {
				n++
			}
		}
	case TableBooks:
		for _, b := range q.state.books {
			if matches(where, map[string]any{"id": b.ID, "title": b.Title, "author": b.Author, "copies": b.Copies}) {
				n++
			}
		}
	case TableBorrowRecords:
		for r := range q.state.borrows {
			if matches(where, map[string]any{"user_id": r.UserID, "book_id": r.BookID}) {
				n++
			}
		}
	}
	return n, nil
}

func matches(where Predicate, row map[string]any) bool {
	for col, want := range where {
		if row[col] != want {
			return false
		}
	}
	return true
}

func (q *memoryQueries) ScanUsers(context.Context) ([]UserRecord, error) {
	out := make([]UserRecord, 0, len(q.state.users))
	for _, u := range q.state.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *memoryQueries) ScanBooks(context.Context) ([]BookRecord, error) {
	out := make([]BookRecord, 0, len(q.state.books))
	for _, b := range q.state.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *memoryQueries) ScanBorrowRecords(context.Context) ([]BorrowRecord, error) {
	out := make([]BorrowRecord, 0, len(q.state.borrows))
	for r := range q.state.borrows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].BookID < out[j].BookID
	})
	return out, nil
}

func (q *memoryQueries) AppendEvent(_ context.Context, e Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.now().UTC()
	}
	q.state.events = append(q.state.events, e)
	return nil
}
