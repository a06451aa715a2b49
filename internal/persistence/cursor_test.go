package persistence

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := models.Cursor{UpdatedAt: time.Date(2026, 3, 4, 5, 6, 7, 891011000, time.UTC), ID: "w1"}

	got, err := DecodeCursor(EncodeCursor(c))
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(c.UpdatedAt))
	assert.Equal(t, "w1", got.ID)
}

func TestZeroCursorIsEmptyToken(t *testing.T) {
	assert.Equal(t, "", EncodeCursor(models.Cursor{}))

	got, err := DecodeCursor("  ")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not base64":    "%%%",
		"missing sep":   base64.RawURLEncoding.EncodeToString([]byte("2026-01-01T00:00:00Z")),
		"bad timestamp": base64.RawURLEncoding.EncodeToString([]byte("yesterday|w1")),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCursor(token)
			if !errors.Is(err, models.ErrInvalidCursor) {
				t.Fatalf("DecodeCursor(%q) error = %v; want ErrInvalidCursor", token, err)
			}
		})
	}
}
