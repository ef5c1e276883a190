package queueclient

import (
	"context"
	"io"
	"net/http"
)

// Healthz performs a raw GET to /healthz and returns the response body as
// a string — the liveness/gauge-snapshot endpoint doesn't fit the typed
// payload API above.
func (c *Client) Healthz(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	return string(body), err
}
