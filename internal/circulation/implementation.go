// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libralend/internal/catalog"
	"libralend/internal/directory"
	"libralend/internal/store"
)

// Option configures the lending engine.
type Option func(*service)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *service) {
		if mp != nil {
			s.meterProvider = mp
		}
	}
}

// service implements the Service interface.
//
// Cache contract, per operation:
//   - AddUser updates the directory incrementally.
//   - AddBook reloads the catalog from the store after a committed write.
//   - BorrowBook and ReturnBook apply their deltas to both caches after commit.
//   - ListState reloads both caches.
//
// A failed transaction never touches the caches. If an incremental update
// cannot be applied the caches are marked stale and reloaded before the next
// operation.
type service struct {
	mu            sync.Mutex
	store         store.Store
	catalog       *catalog.Catalog
	directory     *directory.Directory
	stale         bool
	logger        *slog.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	outcomes      metric.Int64Counter
}

// NewService creates the lending engine and loads both caches from the store.
func NewService(ctx context.Context, st store.Store, opts ...Option) (Service, error) {
	s := &service{
		store:         st,
		catalog:       catalog.New(),
		directory:     directory.New(),
		logger:        slog.Default(),
		tracer:        otel.Tracer("libralend/circulation"),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	counter, err := s.meterProvider.Meter("libralend/circulation").Int64Counter(
		"library.lending.outcomes",
		metric.WithDescription("Lending operations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outcome counter: %w", err)
	}
	s.outcomes = counter

	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// AddUser registers a librarian or a student.
func (s *service) AddUser(ctx context.Context, id int, name string, role directory.Role) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.add_user",
		trace.WithAttributes(attribute.Int("user.id", id), attribute.String("user.role", role.String())),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !role.Valid() {
		return s.reject(ctx, span, "add_user", ErrInvalidRole)
	}
	if err := s.ensureFresh(ctx); err != nil {
		return s.storageFailure(ctx, span, "add_user", err)
	}

	outcome := OutcomeUserAdded
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		n, err := q.Count(ctx, store.TableUsers, store.Predicate{"id": id})
		if err != nil {
			return err
		}
		if n > 0 {
			outcome = OutcomeDuplicateUser
			return nil
		}
		if err := q.CreateUser(ctx, store.UserRecord{ID: id, Name: name, Role: role.String()}); err != nil {
			return err
		}
		return appendEvent(ctx, q, store.AggregateUser, id, store.EventUserAdded,
			UserAddedEvent{UserID: id, Name: name, Role: role.String()})
	})
	switch {
	case errors.Is(err, store.ErrDuplicate):
		outcome = OutcomeDuplicateUser
	case err != nil:
		return s.storageFailure(ctx, span, "add_user", err)
	}

	if outcome.Applied() {
		if err := s.directory.Add(directory.User{ID: id, Name: name, Role: role}); err != nil {
			s.markStale(ctx, "directory add", err)
		}
	}
	return s.done(ctx, span, "add_user", outcome), nil
}

// AddBook creates a catalog entry or merges copies into an existing entry
// with the same title. A different title under the same id is a conflict.
func (s *service) AddBook(ctx context.Context, actingUserID, bookID int, title, author string, copies int) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.add_book",
		trace.WithAttributes(
			attribute.Int("user.id", actingUserID),
			attribute.Int("book.id", bookID),
			attribute.Int("book.copies", copies),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFresh(ctx); err != nil {
		return s.storageFailure(ctx, span, "add_book", err)
	}

	actor, ok := s.directory.FindUser(actingUserID)
	if !ok || !actor.Role.CanManageCatalog() {
		return s.reject(ctx, span, "add_book", ErrPermissionDenied)
	}
	if copies < 0 {
		return s.reject(ctx, span, "add_book", ErrInvalidCopies)
	}

	var outcome Outcome
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		existing, err := q.GetBook(ctx, bookID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			rec := store.BookRecord{ID: bookID, Title: title, Author: author, Copies: copies}
			if err := q.CreateBook(ctx, rec); err != nil {
				return err
			}
			outcome = OutcomeBookAdded
			return appendEvent(ctx, q, store.AggregateBook, bookID, store.EventBookAdded,
				BookAddedEvent{BookID: bookID, Title: title, Author: author, Copies: copies, AddedBy: actingUserID})

		case err != nil:
			return err

		case existing.Title != title:
			s.logger.InfoContext(ctx, "book id bound to another title",
				"book_id", bookID, "existing_title", existing.Title, "requested_title", title)
			outcome = OutcomeTitleConflict
			return nil

		default:
			total := existing.Copies + copies
			if err := q.UpdateBookCopies(ctx, bookID, total); err != nil {
				return err
			}
			outcome = OutcomeCopiesMerged
			return appendEvent(ctx, q, store.AggregateBook, bookID, store.EventCopiesMerged,
				CopiesMergedEvent{BookID: bookID, Added: copies, NewTotal: total, AddedBy: actingUserID})
		}
	})
	if err != nil {
		return s.storageFailure(ctx, span, "add_book", err)
	}

	if outcome.Applied() {
		if err := s.reloadCatalog(ctx); err != nil {
			s.markStale(ctx, "catalog reload", err)
		}
	}
	return s.done(ctx, span, "add_book", outcome), nil
}

// BorrowBook lends one copy of a book to a student.
func (s *service) BorrowBook(ctx context.Context, studentID, bookID int) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow_book",
		trace.WithAttributes(attribute.Int("user.id", studentID), attribute.Int("book.id", bookID)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFresh(ctx); err != nil {
		return s.storageFailure(ctx, span, "borrow_book", err)
	}

	role, ok := s.directory.RoleOf(studentID)
	if !ok {
		return s.reject(ctx, span, "borrow_book", ErrInvalidUser)
	}
	if _, ok := s.catalog.FindBook(bookID); !ok {
		return s.reject(ctx, span, "borrow_book", ErrInvalidBook)
	}
	if !s.catalog.IsAvailable(bookID) {
		return s.reject(ctx, span, "borrow_book", ErrBookNotAvailable)
	}

	var (
		outcome   Outcome
		remaining int
	)
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		book, err := q.GetBook(ctx, bookID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidBook
		}
		if err != nil {
			return err
		}
		if book.Copies <= 0 {
			return ErrBookNotAvailable
		}

		held, err := q.Count(ctx, store.TableBorrowRecords, store.Predicate{"user_id": studentID, "book_id": bookID})
		if err != nil {
			return err
		}
		if held > 0 {
			outcome = OutcomeAlreadyBorrowed
			return nil
		}
		if !role.CanBorrow() {
			outcome = OutcomeOnlyStudentsBorrow
			return nil
		}

		if err := q.CreateBorrowRecord(ctx, store.BorrowRecord{UserID: studentID, BookID: bookID}); err != nil {
			return err
		}
		remaining = book.Copies - 1
		if err := q.UpdateBookCopies(ctx, bookID, remaining); err != nil {
			return err
		}
		outcome = OutcomeBorrowed
		return appendEvent(ctx, q, store.AggregateBook, bookID, store.EventBookBorrowed,
			BookBorrowedEvent{UserID: studentID, BookID: bookID, RemainingCopies: remaining})
	})
	switch {
	case errors.Is(err, ErrInvalidBook):
		s.markStale(ctx, "book missing from store", err)
		return s.reject(ctx, span, "borrow_book", ErrInvalidBook)
	case errors.Is(err, ErrBookNotAvailable):
		return s.reject(ctx, span, "borrow_book", ErrBookNotAvailable)
	case err != nil:
		return s.storageFailure(ctx, span, "borrow_book", err)
	}

	if outcome.Applied() {
		if err := s.directory.RecordBorrow(studentID, bookID); err != nil {
			s.markStale(ctx, "directory borrow", err)
		}
		if err := s.catalog.ApplyDelta(bookID, -1); err != nil {
			s.markStale(ctx, "catalog borrow", err)
		}
		span.SetAttributes(attribute.Int("book.remaining", remaining))
	}
	return s.done(ctx, span, "borrow_book", outcome), nil
}

// ReturnBook takes a borrowed copy back from a student.
func (s *service) ReturnBook(ctx context.Context, studentID, bookID int) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_book",
		trace.WithAttributes(attribute.Int("user.id", studentID), attribute.Int("book.id", bookID)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFresh(ctx); err != nil {
		return s.storageFailure(ctx, span, "return_book", err)
	}

	role, ok := s.directory.RoleOf(studentID)
	if !ok {
		return s.reject(ctx, span, "return_book", ErrInvalidUser)
	}
	if _, ok := s.catalog.FindBook(bookID); !ok {
		return s.reject(ctx, span, "return_book", ErrInvalidBook)
	}

	var (
		outcome   Outcome
		remaining int
	)
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		held, err := q.Count(ctx, store.TableBorrowRecords, store.Predicate{"user_id": studentID, "book_id": bookID})
		if err != nil {
			return err
		}
		if held == 0 {
			outcome = OutcomeNotBorrowed
			return nil
		}
		if !role.CanBorrow() {
			outcome = OutcomeOnlyStudentsBorrow
			return nil
		}

		book, err := q.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if err := q.DeleteBorrowRecord(ctx, store.BorrowRecord{UserID: studentID, BookID: bookID}); err != nil {
			return err
		}
		remaining = book.Copies + 1
		if err := q.UpdateBookCopies(ctx, bookID, remaining); err != nil {
			return err
		}
		outcome = OutcomeReturned
		return appendEvent(ctx, q, store.AggregateBook, bookID, store.EventBookReturned,
			BookReturnedEvent{UserID: studentID, BookID: bookID, RemainingCopies: remaining})
	})
	if err != nil {
		return s.storageFailure(ctx, span, "return_book", err)
	}

	if outcome.Applied() {
		if !s.directory.RecordReturn(studentID, bookID) {
			s.markStale(ctx, "directory return", errors.New("book missing from borrowed set"))
		}
		if err := s.catalog.ApplyDelta(bookID, 1); err != nil {
			s.markStale(ctx, "catalog return", err)
		}
		span.SetAttributes(attribute.Int("book.remaining", remaining))
	}
	return s.done(ctx, span, "return_book", outcome), nil
}

// ListState reloads both caches from the store and returns a snapshot.
func (s *service) ListState(ctx context.Context) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.list_state")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reload(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		return Snapshot{}, err
	}

	users := s.directory.Users()
	snap := Snapshot{
		Books: s.catalog.Books(),
		Users: make([]UserView, 0, len(users)),
	}
	for _, u := range users {
		view := UserView{User: u}
		if u.Role.CanBorrow() {
			view.Borrowed = s.directory.Borrowed(u.ID)
		}
		snap.Users = append(snap.Users, view)
	}

	span.SetAttributes(attribute.Int("books", len(snap.Books)), attribute.Int("users", len(snap.Users)))
	return snap, nil
}

// BookHistory returns the journal entries recorded for a book.
func (s *service) BookHistory(ctx context.Context, bookID int) ([]store.Event, error) {
	events, err := s.store.Events(ctx, store.AggregateBook, bookID)
	if err != nil {
		return nil, errors.Join(ErrStorage, err)
	}
	return events, nil
}

func (s *service) reload(ctx context.Context) error {
	if err := s.reloadCatalog(ctx); err != nil {
		return err
	}

	users, err := s.store.ScanUsers(ctx)
	if err != nil {
		return errors.Join(ErrStorage, fmt.Errorf("scan users: %w", err))
	}
	borrows, err := s.store.ScanBorrowRecords(ctx)
	if err != nil {
		return errors.Join(ErrStorage, fmt.Errorf("scan borrow records: %w", err))
	}
	orphans, err := s.directory.Reload(users, borrows)
	if err != nil {
		return errors.Join(ErrStorage, err)
	}
	for _, o := range orphans {
		s.logger.WarnContext(ctx, "borrow record without a student", "user_id", o.UserID, "book_id", o.BookID)
	}

	s.stale = false
	s.logger.DebugContext(ctx, "caches reloaded", "books", s.catalog.Len(), "users", s.directory.Len())
	return nil
}

func (s *service) reloadCatalog(ctx context.Context) error {
	books, err := s.store.ScanBooks(ctx)
	if err != nil {
		return errors.Join(ErrStorage, fmt.Errorf("scan books: %w", err))
	}
	s.catalog.Reload(books)
	return nil
}

func (s *service) ensureFresh(ctx context.Context) error {
	if !s.stale {
		return nil
	}
	s.logger.InfoContext(ctx, "reloading stale caches")
	return s.reload(ctx)
}

func (s *service) markStale(ctx context.Context, what string, err error) {
	s.logger.WarnContext(ctx, "cache out of sync with store", "step", what, "error", err)
	s.stale = true
}

func (s *service) done(ctx context.Context, span trace.Span, op string, outcome Outcome) Outcome {
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", string(outcome)),
	))
	s.logger.InfoContext(ctx, "lending operation completed",
		"operation", op, "outcome", string(outcome), "applied", outcome.Applied())
	return outcome
}

func (s *service) reject(ctx context.Context, span trace.Span, op string, err error) (Outcome, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", "rejected"),
	))
	s.logger.InfoContext(ctx, "lending operation rejected", "operation", op, "error", err)
	return OutcomeNone, err
}

func (s *service) storageFailure(ctx context.Context, span trace.Span, op string, err error) (Outcome, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "storage failure")
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", "storage_error"),
	))
	s.logger.ErrorContext(ctx, "lending operation failed", "operation", op, "error", err)
	if errors.Is(err, ErrStorage) {
		return OutcomeNone, err
	}
	return OutcomeNone, errors.Join(ErrStorage, err)
}

func appendEvent(ctx context.Context, q store.Queries, aggregateType string, aggregateID int, eventType string, data any) error {
	event, err := store.NewEvent(aggregateType, aggregateID, eventType, data)
	if err != nil {
		return err
	}
	return q.AppendEvent(ctx, event)
}
