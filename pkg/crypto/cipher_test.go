package crypto

import (
	"strings"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	c, err := NewCipher(key, 1)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	secret := "api-secret-material"
	sealed, err := c.Seal(secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, "sec[v1]:") {
		t.Fatalf("missing version prefix: %s", sealed)
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != secret {
		t.Fatalf("round trip mismatch: %q != %q", opened, secret)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	c, _ := NewCipher(key, 1)

	sealed, err := c.Seal("secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Flip a character in the base64 payload.
	tampered := []byte(sealed)
	last := len(tampered) - 1
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}
	if _, err := c.Open(string(tampered)); err == nil {
		t.Fatal("expected error opening tampered ciphertext")
	}
}

func TestNewCipherRejectsShortKey(t *testing.T) {
	if _, err := NewCipher([]byte("short"), 1); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"sec[v1]:abc", 1},
		{"sec[v3]:xyz", 3},
		{"ENC[v1]:abc", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := ParseVersion(tt.in); got != tt.want {
			t.Fatalf("ParseVersion(%q) = %d, expected %d", tt.in, got, tt.want)
		}
	}
}
