// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	uniqueViolation = "23505"

	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

var dialect = goqu.Dialect("postgres")

// PostgresConfig describes how to reach the database and size the pool.
type PostgresConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PostgresStore persists records in PostgreSQL.
type PostgresStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
	logger *slog.Logger
	pgQueries
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects, verifies the connection and applies pending migrations.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPQ
	}
	if driver != DriverPQ && driver != DriverPGX {
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db.DB, logger); err != nil {
		db.Close()
		return nil, err
	}

	return NewPostgresStore(db, logger), nil
}

// NewPostgresStore wraps an already migrated connection pool.
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	tracer := otel.Tracer("libralend/store")
	return &PostgresStore{
		db:        db,
		tracer:    tracer,
		logger:    logger,
		pgQueries: pgQueries{ext: db, tracer: tracer},
	}
}

// WithinTx runs fn inside a serializable transaction.
func (p *PostgresStore) WithinTx(ctx context.Context, fn func(q Queries) error) error {
	ctx, span := p.tracer.Start(ctx, "store.tx")
	defer span.End()

	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgQueries{ext: tx, tracer: p.tracer}); err != nil {
		span.SetAttributes(attribute.Bool("tx.rolled_back", true))
		return err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Events returns the journal entries of one aggregate in append order.
func (p *PostgresStore) Events(ctx context.Context, aggregateType string, aggregateID int) ([]Event, error) {
	ctx, span := p.tracer.Start(ctx, "store.events",
		trace.WithAttributes(
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("aggregate.id", aggregateID),
		),
	)
	defer span.End()

	query, args, err := dialect.From("events").
		Select("id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at").
		Where(goqu.Ex{"aggregate_type": aggregateType, "aggregate_id": aggregateID}).
		Order(goqu.C("seq").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}

	var rows []struct {
		ID            string    `db:"id"`
		AggregateType string    `db:"aggregate_type"`
		AggregateID   int       `db:"aggregate_id"`
		EventType     string    `db:"event_type"`
		Payload       []byte    `db:"payload"`
		CreatedAt     time.Time `db:"created_at"`
	}
	if err := sqlx.SelectContext(ctx, p.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		e := Event{
			AggregateType: r.AggregateType,
			AggregateID:   r.AggregateID,
			EventType:     r.EventType,
			Payload:       append([]byte(nil), r.Payload...),
			CreatedAt:     r.CreatedAt,
		}
		if err := e.ID.UnmarshalText([]byte(r.ID)); err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		out = append(out, e)
	}
	span.SetAttributes(attribute.Int("events.loaded", len(out)))
	return out, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// pgQueries runs statements against either the pool or an open transaction.
type pgQueries struct {
	ext    sqlx.ExtContext
	tracer trace.Tracer
}

func (q *pgQueries) exec(ctx context.Context, op string, ds interface {
	ToSQL() (string, []interface{}, error)
}, attrs ...attribute.KeyValue) (sql.Result, error) {
	ctx, span := q.tracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...))
	defer span.End()

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}

	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return nil, mapError(err)
	}
	return res, nil
}

func (q *pgQueries) CreateUser(ctx context.Context, u UserRecord) error {
	ds := dialect.Insert("users").
		Rows(goqu.Record{"id": u.ID, "name": u.Name, "role": u.Role}).
		Prepared(true)
	if _, err := q.exec(ctx, "create_user", ds, attribute.Int("user.id", u.ID)); err != nil {
		return fmt.Errorf("create user %d: %w", u.ID, err)
	}
	return nil
}

func (q *pgQueries) CreateBook(ctx context.Context, b BookRecord) error {
	if b.Copies < 0 {
		return ErrNegativeCopies
	}
	ds := dialect.Insert("books").
		Rows(goqu.Record{"id": b.ID, "title": b.Title, "author": b.Author, "copies": b.Copies}).
		Prepared(true)
	if _, err := q.exec(ctx, "create_book", ds, attribute.Int("book.id", b.ID)); err != nil {
		return fmt.Errorf("create book %d: %w", b.ID, err)
	}
	return nil
}

func (q *pgQueries) GetBook(ctx context.Context, id int) (BookRecord, error) {
	ctx, span := q.tracer.Start(ctx, "store.get_book", trace.WithAttributes(attribute.Int("book.id", id)))
	defer span.End()

	query, args, err := dialect.From("books").
		Select("id", "title", "author", "copies").
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return BookRecord{}, fmt.Errorf("build get_book: %w", err)
	}

	var b BookRecord
	if err := sqlx.GetContext(ctx, q.ext, &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BookRecord{}, fmt.Errorf("book %d: %w", id, ErrNotFound)
		}
		span.RecordError(err)
		return BookRecord{}, fmt.Errorf("get book %d: %w", id, err)
	}
	return b, nil
}

func (q *pgQueries) UpdateBookCopies(ctx context.Context, id, newCount int) error {
	if newCount < 0 {
		return ErrNegativeCopies
	}
	ds := dialect.Update("books").
		Set(goqu.Record{"copies": newCount}).
		Where(goqu.C("id").Eq(id)).
		Prepared(true)
	res, err := q.exec(ctx, "update_book_copies", ds,
		attribute.Int("book.id", id),
		attribute.Int("book.copies", newCount),
	)
	if err != nil {
		return fmt.Errorf("update copies of book %d: %w", id, err)
	}
	return expectOneRow(res, fmt.Sprintf("book %d", id))
}

func (q *pgQueries) CreateBorrowRecord(ctx context.Context, r BorrowRecord) error {
	ds := dialect.Insert("borrow_records").
		Rows(goqu.Record{"user_id": r.UserID, "book_id": r.BookID}).
		Prepared(true)
	if _, err := q.exec(ctx, "create_borrow_record", ds,
		attribute.Int("user.id", r.UserID),
		attribute.Int("book.id", r.BookID),
	); err != nil {
		return fmt.Errorf("create borrow record (%d, %d): %w", r.UserID, r.BookID, err)
	}
	return nil
}

func (q *pgQueries) DeleteBorrowRecord(ctx context.Context, r BorrowRecord) error {
	ds := dialect.Delete("borrow_records").
		Where(goqu.Ex{"user_id": r.UserID, "book_id": r.BookID}).
		Prepared(true)
	res, err := q.exec(ctx, "delete_borrow_record", ds,
		attribute.Int("user.id", r.UserID),
		attribute.Int("book.id", r.BookID),
	)
	if err != nil {
		return fmt.Errorf("delete borrow record (%d, %d): %w", r.UserID, r.BookID, err)
	}
	return expectOneRow(res, fmt.Sprintf("borrow record (%d, %d)", r.UserID, r.BookID))
}

func (q *pgQueries) Count(ctx context.Context, table Table, where Predicate) (int, error) {
	if err := validatePredicate(table, where); err != nil {
		return 0, err
	}

	ctx, span := q.tracer.Start(ctx, "store.count", trace.WithAttributes(attribute.String("table", string(table))))
	defer span.End()

	ds := dialect.From(string(table)).Select(goqu.COUNT(goqu.Star()))
	if len(where) > 0 {
		ds = ds.Where(goqu.Ex(where))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var n int
	if err := sqlx.GetContext(ctx, q.ext, &n, query, args...); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (q *pgQueries) ScanUsers(ctx context.Context) ([]UserRecord, error) {
	var out []UserRecord
	err := q.scan(ctx, "scan_users", &out,
		dialect.From("users").Select("id", "name", "role").Order(goqu.C("id").Asc()))
	return out, err
}

func (q *pgQueries) ScanBooks(ctx context.Context) ([]BookRecord, error) {
	var out []BookRecord
	err := q.scan(ctx, "scan_books", &out,
		dialect.From("books").Select("id", "title", "author", "copies").Order(goqu.C("id").Asc()))
	return out, err
}

func (q *pgQueries) ScanBorrowRecords(ctx context.Context) ([]BorrowRecord, error) {
	var out []BorrowRecord
	err := q.scan(ctx, "scan_borrow_records", &out,
		dialect.From("borrow_records").Select("user_id", "book_id").
			Order(goqu.C("user_id").Asc(), goqu.C("book_id").Asc()))
	return out, err
}

func (q *pgQueries) scan(ctx context.Context, op string, dest any, ds *goqu.SelectDataset) error {
	ctx, span := q.tracer.Start(ctx, "store."+op)
	defer span.End()

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	if err := sqlx.SelectContext(ctx, q.ext, dest, query, args...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (q *pgQueries) AppendEvent(ctx context.Context, e Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	ds := dialect.Insert("events").
		Rows(goqu.Record{
			"id":             e.ID.String(),
			"aggregate_type": e.AggregateType,
			"aggregate_id":   e.AggregateID,
			"event_type":     e.EventType,
			"payload":        string(e.Payload),
			"created_at":     e.CreatedAt,
		}).
		Prepared(true)
	if _, err := q.exec(ctx, "append_event", ds,
		attribute.String("event.type", e.EventType),
		attribute.Int("aggregate.id", e.AggregateID),
	); err != nil {
		return fmt.Errorf("append event %s: %w", e.EventType, err)
	}
	return nil
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// mapError translates driver-specific constraint violations into store errors.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Join(ErrDuplicate, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}
