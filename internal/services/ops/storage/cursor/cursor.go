// Package cursor provides opaque pagination token encoding/decoding.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor marks the last row of a page in (created_at DESC, id DESC) order.
type Cursor struct {
	// CreatedAt is the last row's creation time in Unix milliseconds.
	CreatedAt int64 `json:"ts"`
	// ID breaks ties between rows created in the same millisecond.
	ID string `json:"id"`
	// QueryHash invalidates tokens when the query they came from changes.
	QueryHash string `json:"qh,omitempty"`
}

// Encode encodes a cursor to an opaque base64 string.
func Encode(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// Decode decodes an opaque base64 string to a cursor.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("empty token")
	}

	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode base64: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal cursor: %w", err)
	}
	if c.ID == "" || c.CreatedAt <= 0 {
		return Cursor{}, fmt.Errorf("incomplete cursor")
	}
	return c, nil
}

// HashQuery computes a short hash of the query parts for cursor validation.
func HashQuery(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:8])
}

// Validate checks that c was produced for the query with hash.
func Validate(c Cursor, hash string) error {
	if c.QueryHash != hash {
		return fmt.Errorf("query changed since cursor was created")
	}
	return nil
}
