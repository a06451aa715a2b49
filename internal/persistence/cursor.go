// Package persistence contains helpers shared by the store and the transport layer.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
)

// EncodeCursor serialises the cursor to an opaque token.
// The zero cursor encodes to the empty string.
func EncodeCursor(c models.Cursor) string {
	if c.IsZero() {
		return ""
	}
	raw := fmt.Sprintf("%s|%s", c.UpdatedAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor.
// An empty token decodes to the zero cursor.
func DecodeCursor(token string) (models.Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return models.Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return models.Cursor{}, fmt.Errorf("%w: %v", models.ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return models.Cursor{}, fmt.Errorf("%w: malformed token", models.ErrInvalidCursor)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return models.Cursor{}, fmt.Errorf("%w: %v", models.ErrInvalidCursor, err)
	}
	return models.Cursor{UpdatedAt: ts.UTC(), ID: parts[1]}, nil
}
