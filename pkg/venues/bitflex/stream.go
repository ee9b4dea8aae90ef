package bitflex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// CreateListenKey opens a user-data stream session and returns its key.
// Listen-key endpoints authenticate with the API key header only.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, _, err := c.transport.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/listenKey", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-BFX-APIKEY", c.cfg.APIKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends the stream session before the venue expires it.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	_, _, err := c.transport.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPut, c.baseURL+"/api/v1/listenKey?listenKey="+listenKey, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-BFX-APIKEY", c.cfg.APIKey)
		return req, nil
	})
	return err
}

// StreamHost returns the websocket host for the user-data stream.
func (c *Client) StreamHost() string {
	if c.cfg.Sandbox {
		return "stream-testnet.bitflex.com"
	}
	return "stream.bitflex.com"
}
