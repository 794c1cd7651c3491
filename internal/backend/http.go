package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// defaultHTTPTimeout bounds a single provider round trip.
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseSize caps how much audio or JSON we read from a provider.
	maxResponseSize = 32 << 20

	// maxErrorBody caps how much of an error body is kept in messages.
	maxErrorBody = 512

	userAgent = "homespeak"
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// errorParser extracts a message and an optional kind override from an
// error response body.
type errorParser func(status int, body []byte) (message string, kind Kind)

// do sends req and returns the response body of a 2xx reply. Anything else
// becomes a *Error.
func do(client *http.Client, backend string, req *http.Request, parse errorParser) ([]byte, http.Header, error) {
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, transportError(backend, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, transportError(backend, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := statusError(backend, resp.StatusCode, "")
		if parse != nil {
			msg, kind := parse(resp.StatusCode, body)
			e.Message = msg
			if kind != "" {
				e.Kind = kind
			}
		}
		if e.Message == "" {
			e.Message = truncate(strings.TrimSpace(string(body)), maxErrorBody)
		}
		return nil, nil, e
	}

	return body, resp.Header, nil
}

// decodeJSON decodes a provider JSON body, reporting failures as malformed
// provider output.
func decodeJSON(backend string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &Error{Backend: backend, Kind: KindProvider, Message: "invalid response body", Err: err}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
