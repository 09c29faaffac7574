package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 1 << 20

type StatusCodeError struct {
	Code int
	Body string
}

func NewStatusCodeError(code int, body []byte) *StatusCodeError {
	if len(body) > 256 {
		body = body[:256]
	}
	return &StatusCodeError{Code: code, Body: string(body)}
}

func (e *StatusCodeError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}

type client struct {
	httpClient *http.Client
}

func newClient(timeout time.Duration) *client {
	return &client{httpClient: &http.Client{Timeout: timeout}}
}

func basicAuth(serverKey string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(serverKey+":"))
}

// do sends a JSON request and returns the raw response body. Any non-2xx
// status becomes a *StatusCodeError. The caller decodes raw into out when out
// is non-nil.
func (c *client) do(ctx context.Context, method, url string, header http.Header, payload any, out any) (raw []byte, err error) {
	var body io.Reader
	var encoded []byte
	if payload != nil {
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	return c.doRaw(ctx, method, url, header, body, out)
}

func (c *client) doRaw(ctx context.Context, method, url string, header http.Header, body io.Reader, out any) (raw []byte, err error) {
	req, reqErr := http.NewRequestWithContext(ctx, method, url, body)
	if reqErr != nil {
		return nil, fmt.Errorf("create request: %w", reqErr)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("do request: %w", doErr)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return nil, fmt.Errorf("read response: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, NewStatusCodeError(resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, out); jsonErr != nil {
			return raw, fmt.Errorf("parse response: %w", jsonErr)
		}
	}
	return raw, nil
}

// rawJSON keeps the provider body only when it is valid JSON.
func rawJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
