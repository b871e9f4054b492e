package directory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/store"
)

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, RoleStudent.CanBorrow())
	assert.False(t, RoleStudent.CanManageCatalog())
	assert.False(t, RoleLibrarian.CanBorrow())
	assert.True(t, RoleLibrarian.CanManageCatalog())

	var zero Role
	assert.False(t, zero.Valid())
	assert.False(t, zero.CanBorrow())
	assert.False(t, zero.CanManageCatalog())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Student")
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, r)

	r, err = ParseRole("Librarian")
	require.NoError(t, err)
	assert.Equal(t, RoleLibrarian, r)

	_, err = ParseRole("student")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestRoleJSON(t *testing.T) {
	data, err := json.Marshal(User{ID: 1, Name: "Ann", Role: RoleLibrarian})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"Ann","role":"Librarian"}`, string(data))

	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"id":2,"name":"Bo","role":"Student"}`), &u))
	assert.Equal(t, RoleStudent, u.Role)

	assert.Error(t, json.Unmarshal([]byte(`{"id":2,"role":"Admin"}`), &u))
}

func TestDirectoryAddAndBorrow(t *testing.T) {
	d := New()
	require.NoError(t, d.Add(User{ID: 1, Name: "Ann", Role: RoleLibrarian}))
	require.NoError(t, d.Add(User{ID: 2, Name: "Bo", Role: RoleStudent}))
	assert.ErrorIs(t, d.Add(User{ID: 2, Name: "Dup", Role: RoleStudent}), ErrDuplicateUser)
	assert.ErrorIs(t, d.Add(User{ID: 3, Name: "X"}), ErrUnknownRole)

	role, ok := d.RoleOf(1)
	require.True(t, ok)
	assert.Equal(t, RoleLibrarian, role)
	_, ok = d.RoleOf(9)
	assert.False(t, ok)

	require.NoError(t, d.RecordBorrow(2, 10))
	assert.ErrorIs(t, d.RecordBorrow(2, 10), ErrAlreadyHolding)
	assert.ErrorIs(t, d.RecordBorrow(1, 10), ErrNotStudent)
	assert.ErrorIs(t, d.RecordBorrow(9, 10), ErrUnknownUser)
	assert.Equal(t, []int{10}, d.Borrowed(2))

	assert.True(t, d.RecordReturn(2, 10))
	assert.False(t, d.RecordReturn(2, 10), "second return reports not found")
	assert.False(t, d.RecordReturn(1, 10))
	assert.Empty(t, d.Borrowed(2))
}

func TestDirectoryReload(t *testing.T) {
	d := New()
	require.NoError(t, d.Add(User{ID: 50, Name: "Stale", Role: RoleStudent}))

	orphans, err := d.Reload(
		[]store.UserRecord{
			{ID: 1, Name: "Ann", Role: "Librarian"},
			{ID: 2, Name: "Bo", Role: "Student"},
		},
		[]store.BorrowRecord{
			{UserID: 2, BookID: 30},
			{UserID: 2, BookID: 10},
			{UserID: 1, BookID: 10},
			{UserID: 77, BookID: 10},
		},
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []store.BorrowRecord{{UserID: 1, BookID: 10}, {UserID: 77, BookID: 10}}, orphans)

	_, ok := d.FindUser(50)
	assert.False(t, ok, "reload drops users no longer persisted")
	assert.Equal(t, []int{10, 30}, d.Borrowed(2))
	assert.Equal(t, 2, d.Len())

	users := d.Users()
	require.Len(t, users, 2)
	assert.Equal(t, "[Librarian] ID: 1 | Name: Ann", users[0].String())
}

func TestDirectoryReloadFailureKeepsCache(t *testing.T) {
	d := New()
	require.NoError(t, d.Add(User{ID: 1, Name: "Ann", Role: RoleLibrarian}))

	_, err := d.Reload([]store.UserRecord{{ID: 2, Name: "Bad", Role: "Janitor"}}, nil)
	require.ErrorIs(t, err, ErrUnknownRole)

	_, ok := d.FindUser(1)
	assert.True(t, ok)
}
