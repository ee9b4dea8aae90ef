package fxbroker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenSourceCachesUntilRenewWindow(t *testing.T) {
	exchanges := 0
	ts := newTokenSource(func(ctx context.Context) (string, time.Time, error) {
		exchanges++
		return "tok-1", time.Now().Add(time.Hour), nil
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		tok, err := ts.get(ctx)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if tok != "tok-1" {
			t.Fatalf("token = %q", tok)
		}
	}
	if exchanges != 1 {
		t.Fatalf("exchange called %d times, want 1", exchanges)
	}
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	exchanges := 0
	ts := newTokenSource(func(ctx context.Context) (string, time.Time, error) {
		exchanges++
		// Expiry inside the renew window forces a refresh on every get.
		return "tok", time.Now().Add(renewWindow / 2), nil
	})

	ctx := context.Background()
	if _, err := ts.get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := ts.get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	if exchanges != 2 {
		t.Fatalf("exchange called %d times, want refresh near expiry", exchanges)
	}
}

func TestTokenSourceInvalidateForcesExchange(t *testing.T) {
	exchanges := 0
	ts := newTokenSource(func(ctx context.Context) (string, time.Time, error) {
		exchanges++
		return "tok", time.Now().Add(time.Hour), nil
	})

	ctx := context.Background()
	if _, err := ts.get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	ts.invalidate()
	if _, err := ts.get(ctx); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if exchanges != 2 {
		t.Fatalf("exchange called %d times, want 2 after invalidate", exchanges)
	}
}

func TestTokenSourceExchangeFailure(t *testing.T) {
	wantErr := errors.New("credentials rejected")
	ts := newTokenSource(func(ctx context.Context) (string, time.Time, error) {
		return "", time.Time{}, wantErr
	})
	if _, err := ts.get(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want exchange failure to surface", err)
	}
}

func TestWholeLotRounding(t *testing.T) {
	c := New(Config{Username: "u", Password: "p"})
	if got := c.QtyPrecision("EURUSD"); got != 0 {
		t.Fatalf("precision = %d, forex broker trades whole lots", got)
	}
}
