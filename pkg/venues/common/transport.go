package common

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Transport wraps an http.Client with the retry, pacing and error
// translation policy every adapter applies on outbound calls: bounded retry
// with exponential backoff on the transient class only, a per-call timeout,
// and a rate.Limiter bounding outbound throughput per venue.
type Transport struct {
	Venue       string
	Client      *http.Client
	Limiter     *rate.Limiter
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewTransport builds a Transport with the default policy: 3 attempts,
// 500ms base delay doubling per attempt, 10s call timeout.
func NewTransport(venue string, perSecond float64, burst int) *Transport {
	return &Transport{
		Venue:       venue,
		Client:      &http.Client{Timeout: 10 * time.Second},
		Limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Do executes a request built by build, applying the transport policy.
// build is invoked once per attempt so request bodies and signatures are
// fresh on every retry. The response body is returned on 2xx; anything else
// becomes a VenueError whose kind drives whether another attempt happens.
func (t *Transport) Do(ctx context.Context, build func() (*http.Request, error)) ([]byte, *http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < t.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := t.BaseDelay << (attempt - 1)
			log.Printf("%s: retrying in %v (attempt %d/%d): %v", t.Venue, delay, attempt+1, t.MaxAttempts, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, &VenueError{Kind: KindVenueTransient, Venue: t.Venue, Reason: "request canceled", Err: ctx.Err()}
			}
		}

		if t.Limiter != nil {
			if err := t.Limiter.Wait(ctx); err != nil {
				return nil, nil, &VenueError{Kind: KindVenueTransient, Venue: t.Venue, Reason: "rate limiter wait", Err: err}
			}
		}

		req, err := build()
		if err != nil {
			return nil, nil, &VenueError{Kind: KindValidation, Venue: t.Venue, Reason: "build request", Err: err}
		}
		req = req.WithContext(ctx)

		res, err := t.Client.Do(req)
		if err != nil {
			lastErr = &VenueError{Kind: KindVenueTransient, Venue: t.Venue, Reason: "network error", Err: err}
			continue
		}

		body, readErr := io.ReadAll(res.Body)
		res.Body.Close()
		if readErr != nil {
			lastErr = &VenueError{Kind: KindVenueTransient, Venue: t.Venue, Reason: "read response", Err: readErr}
			continue
		}

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return body, res, nil
		}

		verr := &VenueError{
			Kind:       classifyStatus(res.StatusCode),
			Venue:      t.Venue,
			Reason:     string(truncate(body, 256)),
			NativeCode: res.Status,
		}
		if verr.Kind != KindVenueTransient {
			return nil, res, verr
		}
		lastErr = verr
	}
	return nil, nil, lastErr
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
