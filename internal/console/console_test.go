package console

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/circulation"
	"libralend/internal/store"
)

func runSession(t *testing.T, input string) (string, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	svc, err := circulation.NewService(context.Background(), mem,
		circulation.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, New(svc, strings.NewReader(input), &out).Run(context.Background()))
	return out.String(), mem
}

func TestConsoleSession(t *testing.T) {
	input := strings.Join([]string{
		"1", "1", "Lena Librarian",
		"2", "5", "Sam Student",
		"3", "1", "100", "2", "Dune", "Frank Herbert",
		"4", "5 100",
		"4", "5 100",
		"6",
		"5", "5", "100",
		"7",
	}, "\n") + "\n"

	out, mem := runSession(t, input)

	assert.Contains(t, out, "User added.")
	assert.Contains(t, out, "Success: New book added to library.")
	assert.Contains(t, out, "Book borrowed.")
	assert.Contains(t, out, "Student already has this book.")
	assert.Contains(t, out, "ID: 100 | Title: Dune | Author: Frank Herbert | Copies: 1")
	assert.Contains(t, out, "[Student] ID: 5 | Name: Sam Student")
	assert.Contains(t, out, "   Borrowed Book IDs: 100\n")
	assert.Contains(t, out, "Book returned.")

	b, err := mem.GetBook(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Copies)
}

func TestConsoleReportsErrorsAndContinues(t *testing.T) {
	input := strings.Join([]string{
		"2", "5", "Sam",
		"3", "5", "100", "1", "Dune", "Herbert",
		"4", "5 404",
		"6",
	}, "\n") + "\n"

	out, _ := runSession(t, input)

	assert.Contains(t, out, "Error: permission denied")
	assert.Contains(t, out, "Error: invalid book")
	assert.Contains(t, out, "No books in library.")
	assert.Contains(t, out, "   Borrowed Book IDs: None")
}

func TestConsoleRepromptsOnBadInput(t *testing.T) {
	input := "abc\n9\n1\nxyz\n6\n"

	out, _ := runSession(t, input)

	// abc, 9, 1 (then a bad id), 6, then end of input.
	assert.Equal(t, 5, strings.Count(out, "Choice: "))
	assert.Contains(t, out, "Invalid input.")
	assert.Contains(t, out, "No registered users.")
}

func TestConsoleExitsOnEOFMidPrompt(t *testing.T) {
	out, _ := runSession(t, "3\n1\n")
	assert.True(t, strings.HasSuffix(out, "Book ID: "))
}

func TestConsoleStopsOnCancelledContext(t *testing.T) {
	svc, err := circulation.NewService(context.Background(), store.NewMemoryStore())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = New(svc, strings.NewReader("6\n"), &bytes.Buffer{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
