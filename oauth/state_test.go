package oauth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

var stateKey = []byte(strings.Repeat("s", 32))

func TestStateRoundTrip(t *testing.T) {
	signer, err := NewStateSigner(stateKey, 0, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	tok, err := signer.Mint("return-to=/home")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	payload, err := signer.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if payload.ClientState != "return-to=/home" || payload.Nonce == "" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	other, err := signer.Mint("return-to=/home")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if other == tok {
		t.Fatal("expected distinct nonces per state")
	}
}

func TestStateExpiryWindow(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	signer, err := NewStateSigner(stateKey, 0, clock)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	tok, err := signer.Mint("")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	within, _ := NewStateSigner(stateKey, 0, func() time.Time { return now.Add(9 * time.Minute) })
	if _, err := within.Verify(tok); err != nil {
		t.Fatalf("expected state inside window to verify: %v", err)
	}

	stale, _ := NewStateSigner(stateKey, 0, func() time.Time { return now.Add(10*time.Minute + 2*time.Second) })
	if _, err := stale.Verify(tok); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected stale state to fail, got %v", err)
	}

	past, _ := NewStateSigner(stateKey, 0, func() time.Time { return now.Add(-5 * time.Minute) })
	if _, err := past.Verify(tok); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected future-dated state to fail, got %v", err)
	}
}

func TestStateTamperRejected(t *testing.T) {
	signer, err := NewStateSigner(stateKey, 0, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	tok, err := signer.Mint("abc")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	payload, sig, _ := strings.Cut(tok, ".")

	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"ts":9999999999,"nonce":"x","client_state":"evil"}`))

	otherKey, _ := NewStateSigner([]byte(strings.Repeat("o", 32)), 0, nil)
	foreign, _ := otherKey.Mint("abc")

	cases := map[string]string{
		"empty":           "",
		"no separator":    payload,
		"swapped payload": forged + "." + sig,
		"bad sig chars":   payload + ".!!!",
		"flipped sig":     payload + "." + flip(sig),
		"foreign key":     foreign,
		"empty sig":       payload + ".",
	}
	for name, input := range cases {
		if _, err := signer.Verify(input); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%s: expected ErrInvalidState, got %v", name, err)
		}
	}
}

func flip(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}

func TestStateRejectsShortKeyAndLargeClientState(t *testing.T) {
	if _, err := NewStateSigner([]byte("short"), 0, nil); err == nil {
		t.Fatal("expected short key to be rejected")
	}
	signer, _ := NewStateSigner(stateKey, 0, nil)
	if _, err := signer.Mint(strings.Repeat("x", 513)); err == nil {
		t.Fatal("expected oversized client state to be rejected")
	}
}
