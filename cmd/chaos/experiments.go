// cmd/chaos/experiments.go
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"libralend/internal/chaos"
	"libralend/internal/circulation"
	"libralend/internal/directory"
)

const (
	librarianID  = 1
	firstStudent = 100
	students     = 20

	bookID    = 500
	bookStock = 3

	scarceBookID = 501
)

// lab is the library every experiment runs against.
type lab struct {
	faulty *chaos.FaultyStore
	svc    circulation.Service
	stock  map[int]int
}

func newLab(ctx context.Context, faulty *chaos.FaultyStore, svc circulation.Service) (*lab, error) {
	l := &lab{faulty: faulty, svc: svc, stock: map[int]int{bookID: bookStock, scarceBookID: 1}}

	if _, err := svc.AddUser(ctx, librarianID, "Chaos Librarian", directory.RoleLibrarian); err != nil {
		return nil, err
	}
	for i := 0; i < students; i++ {
		if _, err := svc.AddUser(ctx, firstStudent+i, fmt.Sprintf("Student %d", i), directory.RoleStudent); err != nil {
			return nil, err
		}
	}
	if _, err := svc.AddBook(ctx, librarianID, bookID, "Distributed Systems", "Tanenbaum", bookStock); err != nil {
		return nil, err
	}
	if _, err := svc.AddBook(ctx, librarianID, scarceBookID, "The Mythical Man-Month", "Brooks", 1); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *lab) register(engine *chaos.Engine) {
	engine.Register(l.borrowWriteFailure())
	engine.Register(l.returnCommitFailure())
	engine.Register(l.journalFailureOnAddBook())
	engine.Register(l.concurrentBorrowRace())
}

// conservation checks that copies on the shelf plus copies on loan equal
// the stock each book was created with.
func (l *lab) conservation() chaos.Probe {
	return chaos.Probe{
		Name: "copies-conserved",
		Check: func(ctx context.Context) error {
			snap, err := l.svc.ListState(ctx)
			if err != nil {
				return err
			}
			onLoan := map[int]int{}
			for _, u := range snap.Users {
				for _, id := range u.Borrowed {
					onLoan[id]++
				}
			}
			for _, b := range snap.Books {
				if b.Copies < 0 {
					return fmt.Errorf("book %d has %d copies", b.ID, b.Copies)
				}
				want, ok := l.stock[b.ID]
				if !ok {
					continue
				}
				if got := b.Copies + onLoan[b.ID]; got != want {
					return fmt.Errorf("book %d: %d on shelf + %d on loan, stock %d", b.ID, b.Copies, onLoan[b.ID], want)
				}
			}
			return nil
		},
	}
}

func (l *lab) clear() chaos.Action {
	return chaos.Action{
		Name: "clear-faults",
		Execute: func(context.Context) error {
			l.faulty.Clear()
			return nil
		},
	}
}

func (l *lab) arm(op string) chaos.Action {
	return chaos.Action{
		Name: "inject-" + op,
		Execute: func(context.Context) error {
			l.faulty.Inject(op, nil)
			return nil
		},
	}
}

func expectStorageError(name string, call func(context.Context) (circulation.Outcome, error)) chaos.Action {
	return chaos.Action{
		Name: name,
		Execute: func(ctx context.Context) error {
			outcome, err := call(ctx)
			if errors.Is(err, circulation.ErrStorage) {
				return nil
			}
			return fmt.Errorf("expected storage error, got outcome %q err %v", outcome, err)
		},
	}
}

func (l *lab) borrowWriteFailure() chaos.Experiment {
	return chaos.Experiment{
		Name:        "borrow-copy-update-failure",
		Hypothesis:  "A borrow whose copy update fails leaves no loan behind",
		SteadyState: []chaos.Probe{l.conservation()},
		Method: []chaos.Action{
			l.arm(chaos.OpUpdateBookCopies),
			expectStorageError("borrow", func(ctx context.Context) (circulation.Outcome, error) {
				return l.svc.BorrowBook(ctx, firstStudent, bookID)
			}),
		},
		Rollback: []chaos.Action{l.clear()},
	}
}

func (l *lab) returnCommitFailure() chaos.Experiment {
	return chaos.Experiment{
		Name:        "return-commit-failure",
		Hypothesis:  "A return that fails to commit keeps the loan on the student",
		SteadyState: []chaos.Probe{l.conservation()},
		Method: []chaos.Action{
			{
				Name: "borrow",
				Execute: func(ctx context.Context) error {
					_, err := l.svc.BorrowBook(ctx, firstStudent+1, bookID)
					return err
				},
			},
			l.arm(chaos.OpCommit),
			expectStorageError("return", func(ctx context.Context) (circulation.Outcome, error) {
				return l.svc.ReturnBook(ctx, firstStudent+1, bookID)
			}),
		},
		Rollback: []chaos.Action{l.clear()},
	}
}

func (l *lab) journalFailureOnAddBook() chaos.Experiment {
	const ghostID = 999
	return chaos.Experiment{
		Name:       "journal-failure-on-add-book",
		Hypothesis: "A book whose journal entry cannot be written is never created",
		SteadyState: []chaos.Probe{
			l.conservation(),
			{
				Name: "no-ghost-book",
				Check: func(ctx context.Context) error {
					snap, err := l.svc.ListState(ctx)
					if err != nil {
						return err
					}
					for _, b := range snap.Books {
						if b.ID == ghostID {
							return fmt.Errorf("book %d exists without a journal entry", ghostID)
						}
					}
					return nil
				},
			},
		},
		Method: []chaos.Action{
			l.arm(chaos.OpAppendEvent),
			expectStorageError("add-book", func(ctx context.Context) (circulation.Outcome, error) {
				return l.svc.AddBook(ctx, librarianID, ghostID, "Ghost", "Nobody", 4)
			}),
		},
		Rollback: []chaos.Action{l.clear()},
	}
}

func (l *lab) concurrentBorrowRace() chaos.Experiment {
	return chaos.Experiment{
		Name:        "concurrent-borrow-race",
		Hypothesis:  "Concurrent borrows of a single copy lend it exactly once",
		SteadyState: []chaos.Probe{l.conservation()},
		Method: []chaos.Action{
			{
				Name: "race",
				Execute: func(ctx context.Context) error {
					var (
						wg      sync.WaitGroup
						mu      sync.Mutex
						winners int
					)
					for i := 0; i < students; i++ {
						wg.Add(1)
						go func(id int) {
							defer wg.Done()
							outcome, err := l.svc.BorrowBook(ctx, id, scarceBookID)
							if err == nil && outcome == circulation.OutcomeBorrowed {
								mu.Lock()
								winners++
								mu.Unlock()
							}
						}(firstStudent + i)
					}
					wg.Wait()
					if winners != 1 {
						return fmt.Errorf("%d students borrowed the only copy", winners)
					}
					return nil
				},
			},
		},
	}
}
