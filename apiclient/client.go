// Package apiclient implements the single HTTP contract used for every call
// to the upstream management API. All callers go through it so that success
// payloads and failures always come back in the same shape, and so that
// authentication failures are tagged uniformly for the session layer.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// ErrUnreachable wraps transport-level failures where no HTTP response was
// received at all. The resulting *Error carries status 0.
var ErrUnreachable = errors.New("cannot reach API server")

// excerptLimit bounds how much of a non-JSON error body we keep.
const excerptLimit = 512

// Error is the normalized failure produced for every unsuccessful call.
// Status is the upstream HTTP status, or 0 when no response was received.
// Body holds the parsed JSON error payload when the upstream sent one, or a
// map with a single "detail" key holding a text excerpt otherwise.
type Error struct {
	Status    int
	Body      any
	AuthError bool
	cause     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("api: request failed: %v", e.cause)
	}
	return fmt.Sprintf("api: upstream status %d", e.Status)
}

func (e *Error) Unwrap() error { return e.cause }

// IsAuthError reports whether err carries the authentication-failure tag.
func IsAuthError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.AuthError
}

// StatusOf extracts the HTTP status from a normalized error. It returns 0
// for network failures and for errors that did not come from this package.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Client talks to the upstream API. Requests always include cookies (the jar
// is shared across calls) and, when a token is supplied, a bearer header.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a client rooted at baseURL. The trailing slash is trimmed so
// that paths can always be joined with a leading slash.
func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{
			Jar:     jar,
			Timeout: 15 * time.Second,
		},
	}
}

// Get issues a GET and returns the normalized payload.
func (c *Client) Get(ctx context.Context, path, token string) (any, error) {
	_, payload, err := c.Exchange(ctx, http.MethodGet, path, token, nil)
	return payload, err
}

// Post issues a POST with a JSON body and returns the normalized payload.
func (c *Client) Post(ctx context.Context, path, token string, body any) (any, error) {
	_, payload, err := c.Exchange(ctx, http.MethodPost, path, token, body)
	return payload, err
}

// Put issues a PUT with a JSON body and returns the normalized payload.
func (c *Client) Put(ctx context.Context, path, token string, body any) (any, error) {
	_, payload, err := c.Exchange(ctx, http.MethodPut, path, token, body)
	return payload, err
}

// Delete issues a DELETE and returns the normalized payload.
func (c *Client) Delete(ctx context.Context, path, token string) (any, error) {
	_, payload, err := c.Exchange(ctx, http.MethodDelete, path, token, nil)
	return payload, err
}

// Exchange performs the request and applies the normalization contract:
//
//   - non-2xx: a *Error with the numeric status, the best-effort parsed body
//     and the auth tag set for 401;
//   - transport failure: a *Error with status 0 wrapping the cause;
//   - 204 or an empty body: nil payload, no error;
//   - 2xx JSON: the payload's "data" field when present, else the raw payload.
//
// The upstream status is returned alongside so that proxy handlers can
// forward it verbatim.
func (c *Client) Exchange(ctx context.Context, method, path, token string, body any) (int, any, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("api: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, token, contentType, reader)
}

// ForwardRaw sends the body stream to the upstream unchanged, keeping the
// caller's content type. File uploads (multipart forms) go through here;
// the response is normalized exactly like Exchange's.
func (c *Client) ForwardRaw(ctx context.Context, method, path, token, contentType string, body io.Reader) (int, any, error) {
	return c.send(ctx, method, path, token, contentType, body)
}

func (c *Client) send(ctx context.Context, method, path, token, contentType string, body io.Reader) (int, any, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, &Error{Status: 0, cause: fmt.Errorf("%w: %v", ErrUnreachable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &Error{Status: 0, cause: fmt.Errorf("%w: %v", ErrUnreachable, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, &Error{
			Status:    resp.StatusCode,
			Body:      parseBody(resp.Header.Get("Content-Type"), raw),
			AuthError: resp.StatusCode == http.StatusUnauthorized,
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil, nil
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Upstream claimed success with a non-JSON body. Keep an excerpt so
		// the caller still sees something meaningful.
		return resp.StatusCode, map[string]any{"detail": excerpt(raw)}, nil
	}
	return resp.StatusCode, unwrap(payload), nil
}

// unwrap returns payload's "data" field if present, else payload unchanged.
// Upstream endpoints wrap their results inconsistently.
func unwrap(payload any) any {
	if m, ok := payload.(map[string]any); ok {
		if data, ok := m["data"]; ok {
			return data
		}
	}
	return payload
}

// parseBody decodes an error body as JSON when the content type says JSON
// (or when it parses anyway), falling back to a truncated text excerpt under
// the "detail" key.
func parseBody(contentType string, raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" || strings.Contains(mediaType, "json") {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return parsed
		}
	}
	return map[string]any{"detail": excerpt(raw)}
}

func excerpt(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if len(text) > excerptLimit {
		text = text[:excerptLimit]
	}
	return text
}
