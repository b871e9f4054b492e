// internal/chaos/store.go
package chaos

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libralend/internal/store"
)

// ErrInjected is the default fault returned by an armed operation.
var ErrInjected = errors.New("chaos: injected storage fault")

// Operation names that faults can be attached to.
const (
	OpBegin              = "Begin"
	OpCommit             = "Commit"
	OpCreateUser         = "CreateUser"
	OpCreateBook         = "CreateBook"
	OpGetBook            = "GetBook"
	OpUpdateBookCopies   = "UpdateBookCopies"
	OpCreateBorrowRecord = "CreateBorrowRecord"
	OpDeleteBorrowRecord = "DeleteBorrowRecord"
	OpCount              = "Count"
	OpScanUsers          = "ScanUsers"
	OpScanBooks          = "ScanBooks"
	OpScanBorrowRecords  = "ScanBorrowRecords"
	OpAppendEvent        = "AppendEvent"
	OpEvents             = "Events"
)

type fault struct {
	err       error
	remaining int // <= 0 means until cleared
}

// FaultyStore wraps a store.Store and fails selected operations on demand.
// Faults inside WithinTx abort the transaction, so the wrapped store rolls
// back exactly as it would on a real driver error. OpCommit fails after the
// transaction body succeeded, which the wrapped store also rolls back.
type FaultyStore struct {
	inner  store.Store
	tracer trace.Tracer

	mu     sync.Mutex
	faults map[string]*fault
	hits   map[string]int
}

var _ store.Store = (*FaultyStore)(nil)

func Wrap(inner store.Store) *FaultyStore {
	return &FaultyStore{
		inner:  inner,
		tracer: otel.Tracer("libralend/chaos"),
		faults: make(map[string]*fault),
		hits:   make(map[string]int),
	}
}

// Inject fails op with err until Clear is called. A nil err uses ErrInjected.
func (s *FaultyStore) Inject(op string, err error) {
	s.arm(op, err, 0)
}

// InjectOnce fails only the next call of op.
func (s *FaultyStore) InjectOnce(op string, err error) {
	s.arm(op, err, 1)
}

func (s *FaultyStore) arm(op string, err error, times int) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{err: err, remaining: times}
}

// Clear disarms every fault.
func (s *FaultyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]*fault)
}

// Hits reports how many times a fault fired for op.
func (s *FaultyStore) Hits(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[op]
}

func (s *FaultyStore) trip(ctx context.Context, op string) error {
	s.mu.Lock()
	f, ok := s.faults[op]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(s.faults, op)
		}
	}
	s.hits[op]++
	err := f.err
	s.mu.Unlock()

	_, span := s.tracer.Start(ctx, "chaos.inject_fault",
		trace.WithAttributes(attribute.String("chaos.operation", op)),
	)
	span.RecordError(err)
	span.End()
	return err
}

func (s *FaultyStore) WithinTx(ctx context.Context, fn func(q store.Queries) error) error {
	if err := s.trip(ctx, OpBegin); err != nil {
		return err
	}
	return s.inner.WithinTx(ctx, func(q store.Queries) error {
		if err := fn(&faultyQueries{owner: s, q: q}); err != nil {
			return err
		}
		return s.trip(ctx, OpCommit)
	})
}

func (s *FaultyStore) Events(ctx context.Context, aggregateType string, aggregateID int) ([]store.Event, error) {
	if err := s.trip(ctx, OpEvents); err != nil {
		return nil, err
	}
	return s.inner.Events(ctx, aggregateType, aggregateID)
}

func (s *FaultyStore) Close() error {
	return s.inner.Close()
}

func (s *FaultyStore) queries() *faultyQueries {
	return &faultyQueries{owner: s, q: s.inner}
}

func (s *FaultyStore) CreateUser(ctx context.Context, u store.UserRecord) error {
	return s.queries().CreateUser(ctx, u)
}

func (s *FaultyStore) CreateBook(ctx context.Context, b store.BookRecord) error {
	return s.queries().CreateBook(ctx, b)
}

func (s *FaultyStore) GetBook(ctx context.Context, id int) (store.BookRecord, error) {
	return s.queries().GetBook(ctx, id)
}

func (s *FaultyStore) UpdateBookCopies(ctx context.Context, id, newCount int) error {
	return s.queries().UpdateBookCopies(ctx, id, newCount)
}

func (s *FaultyStore) CreateBorrowRecord(ctx context.Context, r store.BorrowRecord) error {
	return s.queries().CreateBorrowRecord(ctx, r)
}

func (s *FaultyStore) DeleteBorrowRecord(ctx context.Context, r store.BorrowRecord) error {
	return s.queries().DeleteBorrowRecord(ctx, r)
}

func (s *FaultyStore) Count(ctx context.Context, table store.Table, where store.Predicate) (int, error) {
	return s.queries().Count(ctx, table, where)
}

func (s *FaultyStore) ScanUsers(ctx context.Context) ([]store.UserRecord, error) {
	return s.queries().ScanUsers(ctx)
}

func (s *FaultyStore) ScanBooks(ctx context.Context) ([]store.BookRecord, error) {
	return s.queries().ScanBooks(ctx)
}

func (s *FaultyStore) ScanBorrowRecords(ctx context.Context) ([]store.BorrowRecord, error) {
	return s.queries().ScanBorrowRecords(ctx)
}

func (s *FaultyStore) AppendEvent(ctx context.Context, e store.Event) error {
	return s.queries().AppendEvent(ctx, e)
}

type faultyQueries struct {
	owner *FaultyStore
	q     store.Queries
}

func (f *faultyQueries) CreateUser(ctx context.Context, u store.UserRecord) error {
	if err := f.owner.trip(ctx, OpCreateUser); err != nil {
		return err
	}
	return f.q.CreateUser(ctx, u)
}

func (f *faultyQueries) CreateBook(ctx context.Context, b store.BookRecord) error {
	if err := f.owner.trip(ctx, OpCreateBook); err != nil {
		return err
	}
	return f.q.CreateBook(ctx, b)
}

func (f *faultyQueries) GetBook(ctx context.Context, id int) (store.BookRecord, error) {
	if err := f.owner.trip(ctx, OpGetBook); err != nil {
		return store.BookRecord{}, err
	}
	return f.q.GetBook(ctx, id)
}

func (f *faultyQueries) UpdateBookCopies(ctx context.Context, id, newCount int) error {
	if err := f.owner.trip(ctx, OpUpdateBookCopies); err != nil {
		return err
	}
	return f.q.UpdateBookCopies(ctx, id, newCount)
}

func (f *faultyQueries) CreateBorrowRecord(ctx context.Context, r store.BorrowRecord) error {
	if err := f.owner.trip(ctx, OpCreateBorrowRecord); err != nil {
		return err
	}
	return f.q.CreateBorrowRecord(ctx, r)
}

func (f *faultyQueries) DeleteBorrowRecord(ctx context.Context, r store.BorrowRecord) error {
	if err := f.owner.trip(ctx, OpDeleteBorrowRecord); err != nil {
		return err
	}
	return f.q.DeleteBorrowRecord(ctx, r)
}

func (f *faultyQueries) Count(ctx context.Context, table store.Table, where store.Predicate) (int, error) {
	if err := f.owner.trip(ctx, OpCount); err != nil {
		return 0, err
	}
	return f.q.Count(ctx, table, where)
}

func (f *faultyQueries) ScanUsers(ctx context.Context) ([]store.UserRecord, error) {
	if err := f.owner.trip(ctx, OpScanUsers); err != nil {
		return nil, err
	}
	return f.q.ScanUsers(ctx)
}

func (f *faultyQueries) ScanBooks(ctx context.Context) ([]store.BookRecord, error) {
	if err := f.owner.trip(ctx, OpScanBooks); err != nil {
		return nil, err
	}
	return f.q.ScanBooks(ctx)
}

func (f *faultyQueries) ScanBorrowRecords(ctx context.Context) ([]store.BorrowRecord, error) {
	if err := f.owner.trip(ctx, OpScanBorrowRecords); err != nil {
		return nil, err
	}
	return f.q.ScanBorrowRecords(ctx)
}

func (f *faultyQueries) AppendEvent(ctx context.Context, e store.Event) error {
	if err := f.owner.trip(ctx, OpAppendEvent); err != nil {
		return err
	}
	return f.q.AppendEvent(ctx, e)
}
