package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"courier/pkg/apperr"
)

// Cursor is the composite (ts, id) ordering key of a message. Timestamps
// from concurrent sends can tie, so the id is always carried as tiebreak;
// a bare timestamp is never a valid cursor.
type Cursor struct {
	TS int64
	ID string
}

const cursorVersion = "c1"

// Encode renders the cursor as an opaque token safe to hand to clients.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%s:%d:%s", cursorVersion, c.TS, c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. Clients cannot construct
// valid cursors by hand; anything malformed is rejected as VALIDATION.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, apperr.New(apperr.Validation, "malformed cursor")
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 || parts[0] != cursorVersion || parts[2] == "" {
		return Cursor{}, apperr.New(apperr.Validation, "malformed cursor")
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || ts < 0 {
		return Cursor{}, apperr.New(apperr.Validation, "malformed cursor")
	}
	return Cursor{TS: ts, ID: parts[2]}, nil
}

// Before reports whether c orders strictly before the (ts, id) key.
func (c Cursor) Before(ts int64, id string) bool {
	if c.TS != ts {
		return c.TS < ts
	}
	return c.ID < id
}

// IsZero reports whether the cursor is unset ("from the beginning").
func (c Cursor) IsZero() bool { return c.TS == 0 && c.ID == "" }
