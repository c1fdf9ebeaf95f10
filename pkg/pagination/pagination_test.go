package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
	assert.Equal(t, 8, LimitWithBuffer(7))
}

func TestCursorRoundTripIsUTC(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	at := time.Date(2026, 3, 1, 9, 30, 0, 123, jakarta)

	token := EncodeCursor(Cursor{CreatedAt: at, ID: "ORD-1"})
	assert.NotContains(t, token, "=")

	got, err := ParseCursor(token)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(at))
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.Equal(t, "ORD-1", got.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	got, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, token := range []string{"%%%", "bm90LWpzb24", EncodeCursor(Cursor{ID: "x"})} {
		_, err := ParseCursor(token)
		assert.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}

func TestTrim(t *testing.T) {
	at := time.Unix(1700000000, 0)
	rows := []int{1, 2, 3}
	cursorOf := func(v int) Cursor { return Cursor{CreatedAt: at, ID: string(rune('a' + v))} }

	page, next := Trim(rows, 3, cursorOf)
	assert.Len(t, page, 3)
	assert.Empty(t, next)

	page, next = Trim(rows, 2, cursorOf)
	assert.Equal(t, []int{1, 2}, page)
	c, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, "c", c.ID)
}
