package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastTransport(venue string) *Transport {
	return &Transport{
		Venue:       venue,
		Client:      &http.Client{Timeout: time.Second},
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := fastTransport("testvenue")
	body, _, err := tr.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %s", body)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDoExhaustsAttemptsOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := fastTransport("testvenue")
	_, _, err := tr.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want all 3 attempts", calls.Load())
	}
	if Kind(err) != KindVenueTransient {
		t.Fatalf("kind = %q, want venue_transient", Kind(err))
	}
}

func TestDoNeverRetries4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"insufficient balance"}`))
	}))
	defer srv.Close()

	tr := fastTransport("testvenue")
	_, _, err := tr.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, business rejections must not be retried", calls.Load())
	}
	if Kind(err) != KindVenueRejected {
		t.Fatalf("kind = %q, want venue_rejected", Kind(err))
	}
}

func TestDoRetries429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := fastTransport("testvenue")
	_, _, err := tr.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err != nil {
		t.Fatalf("429 then 200 should succeed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestDoAuthFailureSurfacesImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := fastTransport("testvenue")
	_, _, err := tr.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	var ve *VenueError
	if !errors.As(err, &ve) {
		t.Fatalf("expected VenueError, got %v", err)
	}
	if ve.Kind != KindAuth {
		t.Fatalf("kind = %q, want auth", ve.Kind)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, auth errors must not be retried", calls.Load())
	}
}

func TestDoRebuildsRequestEveryAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var builds int
	tr := fastTransport("testvenue")
	_, _, err := tr.Do(context.Background(), func() (*http.Request, error) {
		builds++
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if builds != 3 {
		t.Fatalf("build called %d times, want once per attempt", builds)
	}
}
