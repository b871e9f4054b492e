// internal/directory/directory.go
package directory

import (
	"errors"
	"fmt"
	"sort"

	"libralend/internal/store"
)

var (
	ErrUnknownUser    = errors.New("unknown user")
	ErrDuplicateUser  = errors.New("user id already exists")
	ErrNotStudent     = errors.New("user is not a student")
	ErrAlreadyHolding = errors.New("student already holds this book")
)

// Directory mirrors persisted users and, for each student, the set of book
// ids currently borrowed. It is not safe for concurrent use.
type Directory struct {
	users    map[int]User
	borrowed map[int]map[int]struct{}
}

func New() *Directory {
	return &Directory{
		users:    make(map[int]User),
		borrowed: make(map[int]map[int]struct{}),
	}
}

// FindUser looks a user up by id.
func (d *Directory) FindUser(id int) (User, bool) {
	u, ok := d.users[id]
	return u, ok
}

// RoleOf returns the role of a known user.
func (d *Directory) RoleOf(id int) (Role, bool) {
	u, ok := d.users[id]
	if !ok {
		return 0, false
	}
	return u.Role, true
}

// Add inserts a new user into the cache.
func (d *Directory) Add(u User) error {
	if !u.Role.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownRole, int(u.Role))
	}
	if _, ok := d.users[u.ID]; ok {
		return ErrDuplicateUser
	}
	d.users[u.ID] = u
	if u.Role.CanBorrow() {
		d.borrowed[u.ID] = make(map[int]struct{})
	}
	return nil
}

// RecordBorrow adds bookID to the student's borrowed set.
func (d *Directory) RecordBorrow(studentID, bookID int) error {
	u, ok := d.users[studentID]
	if !ok {
		return ErrUnknownUser
	}
	if !u.Role.CanBorrow() {
		return ErrNotStudent
	}
	set := d.borrowed[studentID]
	if _, held := set[bookID]; held {
		return ErrAlreadyHolding
	}
	set[bookID] = struct{}{}
	return nil
}

// RecordReturn removes bookID from the student's borrowed set and reports
// whether it was there.
func (d *Directory) RecordReturn(studentID, bookID int) bool {
	set, ok := d.borrowed[studentID]
	if !ok {
		return false
	}
	if _, held := set[bookID]; !held {
		return false
	}
	delete(set, bookID)
	return true
}

// Reload rebuilds users and borrowed sets from persisted records. Borrow
// records that do not belong to a known student are returned as orphans and
// left out of the cache. The cache is unchanged when an error is returned.
func (d *Directory) Reload(users []store.UserRecord, borrows []store.BorrowRecord) ([]store.BorrowRecord, error) {
	next := New()
	for _, r := range users {
		role, err := ParseRole(r.Role)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", r.ID, err)
		}
		if err := next.Add(User{ID: r.ID, Name: r.Name, Role: role}); err != nil {
			return nil, fmt.Errorf("user %d: %w", r.ID, err)
		}
	}

	var orphans []store.BorrowRecord
	for _, r := range borrows {
		if err := next.RecordBorrow(r.UserID, r.BookID); err != nil {
			orphans = append(orphans, r)
		}
	}

	d.users = next.users
	d.borrowed = next.borrowed
	return orphans, nil
}

// Users returns every cached user ordered by id.
func (d *Directory) Users() []User {
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Borrowed returns the student's borrowed book ids in ascending order.
// Librarians and unknown users have none.
func (d *Directory) Borrowed(studentID int) []int {
	set := d.borrowed[studentID]
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (d *Directory) Len() int {
	return len(d.users)
}
