package session

import (
	"testing"

	"github.com/google/uuid"
)

// FuzzParseToken feeds arbitrary strings to the refresh token parser.
// Invalid input must fail cleanly; accepted input must survive a format/parse cycle.
func FuzzParseToken(f *testing.F) {
	f.Add("")
	f.Add(".")
	f.Add("abc")
	f.Add("00000000-0000-0000-0000-000000000000.secret")
	f.Add("not-a-uuid.c2VjcmV0")
	f.Add(uuid.NewString() + ".")
	f.Add(uuid.NewString() + ".a.b")
	f.Add(uuid.NewString() + ".aGVsbG8=")

	if secret, err := newSecret(); err == nil {
		f.Add(FormatToken(uuid.New(), secret))
	}

	f.Fuzz(func(t *testing.T, input string) {
		id, secret, err := ParseToken(input)
		if err != nil {
			if err != ErrMalformedToken {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		if id == uuid.Nil || secret == "" {
			t.Fatalf("accepted %q with empty part", input)
		}

		id2, secret2, err := ParseToken(FormatToken(id, secret))
		if err != nil {
			t.Fatalf("reparse failed: %v", err)
		}
		if id2 != id || secret2 != secret {
			t.Fatalf("reparse mismatch: %s/%q vs %s/%q", id2, secret2, id, secret)
		}
	})
}
