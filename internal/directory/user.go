// internal/directory/user.go
package directory

import (
	"errors"
	"fmt"
)

var ErrUnknownRole = errors.New("unknown role")

// Role is the closed set of user kinds. The zero value is not a valid role.
type Role int

const (
	RoleLibrarian Role = iota + 1
	RoleStudent
)

// ParseRole accepts the persisted role names.
func ParseRole(s string) (Role, error) {
	switch s {
	case "Librarian":
		return RoleLibrarian, nil
	case "Student":
		return RoleStudent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleLibrarian:
		return "Librarian"
	case RoleStudent:
		return "Student"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// CanBorrow reports whether users of this role may hold books.
func (r Role) CanBorrow() bool {
	switch r {
	case RoleStudent:
		return true
	case RoleLibrarian:
		return false
	default:
		return false
	}
}

// CanManageCatalog reports whether users of this role may add books.
func (r Role) CanManageCatalog() bool {
	switch r {
	case RoleLibrarian:
		return true
	case RoleStudent:
		return false
	default:
		return false
	}
}

func (r Role) Valid() bool {
	return r == RoleLibrarian || r == RoleStudent
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User is a library user. Role is fixed at creation.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (u User) String() string {
	return fmt.Sprintf("[%s] ID: %d | Name: %s", u.Role, u.ID, u.Name)
}
