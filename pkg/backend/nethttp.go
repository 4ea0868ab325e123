package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// netHTTPDoer sends requests through a standard *http.Client.
type netHTTPDoer struct {
	hc    *http.Client
	token string
}

func (d *netHTTPDoer) do(ctx context.Context, method, rawurl string, body []byte) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawurl, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	resp, err := d.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

// NewHTTPClient builds a Client over net/http. token may be empty; a nil
// httpClient gets a default with a request timeout.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return newClient(baseURL, &netHTTPDoer{hc: httpClient, token: token})
}
