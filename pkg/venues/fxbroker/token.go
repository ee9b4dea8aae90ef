package fxbroker

import (
	"context"
	"sync"
	"time"
)

// renewWindow is how long before expiry a token is proactively refreshed.
const renewWindow = 2 * time.Minute

// tokenSource caches an access token and refreshes it before expiry. The
// exchange function is only ever invoked by one goroutine at a time.
type tokenSource struct {
	exchange func(ctx context.Context) (string, time.Time, error)

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(exchange func(ctx context.Context) (string, time.Time, error)) *tokenSource {
	return &tokenSource{exchange: exchange}
}

func (ts *tokenSource) get(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Until(ts.expires) > renewWindow {
		return ts.token, nil
	}

	token, expires, err := ts.exchange(ctx)
	if err != nil {
		return "", err
	}
	ts.token = token
	ts.expires = expires
	return token, nil
}

func (ts *tokenSource) invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expires = time.Time{}
	ts.mu.Unlock()
}
