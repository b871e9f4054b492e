package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/store"
)

func TestCatalogReloadAndFind(t *testing.T) {
	c := New()
	c.Reload([]store.BookRecord{
		{ID: 7, Title: "Dune", Author: "Herbert", Copies: 2},
		{ID: 3, Title: "Emma", Author: "Austen", Copies: 0},
	})

	b, ok := c.FindBook(7)
	require.True(t, ok)
	assert.Equal(t, "Dune", b.Title)
	assert.True(t, c.IsAvailable(7))
	assert.False(t, c.IsAvailable(3), "zero copies is not available")
	assert.False(t, c.IsAvailable(99), "unknown book is not available")

	_, ok = c.FindBook(99)
	assert.False(t, ok)

	books := c.Books()
	require.Len(t, books, 2)
	assert.Equal(t, 3, books[0].ID)
	assert.Equal(t, 7, books[1].ID)
}

func TestCatalogReloadReplacesEverything(t *testing.T) {
	c := New()
	c.Reload([]store.BookRecord{{ID: 1, Title: "A", Copies: 1}})
	c.Reload([]store.BookRecord{{ID: 2, Title: "B", Copies: 1}})

	_, ok := c.FindBook(1)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestCatalogApplyDelta(t *testing.T) {
	c := New()
	c.Reload([]store.BookRecord{{ID: 1, Title: "A", Copies: 1}})

	require.NoError(t, c.ApplyDelta(1, -1))
	b, _ := c.FindBook(1)
	assert.Equal(t, 0, b.Copies)

	assert.ErrorIs(t, c.ApplyDelta(1, -1), ErrNegativeCopies)
	b, _ = c.FindBook(1)
	assert.Equal(t, 0, b.Copies, "refused delta must not change the count")

	require.NoError(t, c.ApplyDelta(1, 2))
	b, _ = c.FindBook(1)
	assert.Equal(t, 2, b.Copies)

	assert.ErrorIs(t, c.ApplyDelta(42, 1), ErrUnknownBook)
}

func TestBookString(t *testing.T) {
	b := Book{ID: 10, Title: "Dune", Author: "Herbert", Copies: 3}
	assert.Equal(t, "ID: 10 | Title: Dune | Author: Herbert | Copies: 3", b.String())
}
