// Package pagination provides cursor-based pagination utilities.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned by Decode for anything it did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor represents a position in a paginated result set: the last row the
// previous page returned.
type Cursor struct {
	Pos int
	ID  string
}

// Encode returns an opaque cursor string from a position and ID.
func Encode(pos int, id string) string {
	raw := strconv.Itoa(pos) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	pos, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.Atoi(pos)
	if err != nil || n < 0 {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Pos: n, ID: id}, nil
}

// ComputePage takes a slice of items (fetched with limit+1), the requested limit,
// and a function to extract (position, id) from the last item.
// Returns the trimmed items, next cursor, and has_more flag.
func ComputePage[T any](items []T, limit int, extractKey func(T) (int, string)) ([]T, string, bool) {
	if limit <= 0 || len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	pos, id := extractKey(items[len(items)-1])
	return items, Encode(pos, id), true
}
