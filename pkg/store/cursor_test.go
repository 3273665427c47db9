package store

import (
	"testing"

	"courier/pkg/apperr"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{TS: 1725000000123456789, ID: "msg-abc-42"}
	tok := c.Encode()
	got, err := DecodeCursor(tok)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if got != c {
		t.Fatalf("round trip: %+v vs %+v", got, c)
	}
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	for _, tok := range []string{
		"",
		"not base64 !!",
		"YWJj",         // decodes but wrong shape
		"YzE6eDp5",     // c1:x:y, non-numeric ts
		"djI6MTIzOmFi", // wrong version prefix
	} {
		if _, err := DecodeCursor(tok); apperr.CodeOf(err) != apperr.Validation {
			t.Fatalf("token %q: expected VALIDATION, got %v", tok, err)
		}
	}
}

func TestCursorBeforeOrdersByTSThenID(t *testing.T) {
	c := Cursor{TS: 100, ID: "msg-b"}
	if !c.Before(101, "msg-a") {
		t.Fatalf("later ts should win")
	}
	if !c.Before(100, "msg-c") {
		t.Fatalf("equal ts should break ties by id")
	}
	if c.Before(100, "msg-b") {
		t.Fatalf("equal position is not after")
	}
	if c.Before(99, "msg-z") {
		t.Fatalf("earlier ts is not after")
	}
}
