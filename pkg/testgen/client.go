// Package testgen is a Go client for the test generation API. Generation
// calls return a channel of stream events that is closed after the terminal
// event.
package testgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned by GetResult for an unknown key.
var ErrNotFound = errors.New("result not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client talks to a testgen-api server. A stream event larger than the
// configured limit (DefaultMaxEventBytes unless WithMaxEventBytes is given)
// ends the stream with a synthesized error event.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	maxEventBytes int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxEventBytes raises or lowers the per-event size limit. Images events
// carry every processed image inline, so documents with many large images
// need more than the default.
func WithMaxEventBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxEventBytes = n
		}
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Transport: http.DefaultTransport}, // no overall timeout: streams run for minutes
		maxEventBytes: DefaultMaxEventBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateFromFeishu streams generation for a Feishu document URL or token.
func (c *Client) GenerateFromFeishu(ctx context.Context, locator string) (<-chan Event, error) {
	return c.streamJSON(ctx, "/api/v1/cases/feishu", map[string]string{"url": locator})
}

// GenerateFromText streams generation for raw PRD text.
func (c *Client) GenerateFromText(ctx context.Context, content, name string) (<-chan Event, error) {
	return c.streamJSON(ctx, "/api/v1/cases/text", map[string]string{"content": content, "name": name})
}

// GenerateFromFile uploads a PRD file and streams generation for it.
func (c *Client) GenerateFromFile(ctx context.Context, filename, contentType string, r io.Reader) (<-chan Event, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/cases/file", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.stream(ctx, req)
}

// SaveResult stores a JSON document and returns its key.
func (c *Client) SaveResult(ctx context.Context, payload json.RawMessage) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/results", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("save result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}

	var out struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode save response: %w", err)
	}
	return out.Key, nil
}

// GetResult loads a stored JSON document by key.
func (c *Client) GetResult(ctx context.Context, key string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/results/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	default:
		return nil, decodeAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return json.RawMessage(body), nil
}

func (c *Client) streamJSON(ctx context.Context, path string, body any) (<-chan Event, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.stream(ctx, req)
}

// stream sends req and relays its events. Rejections before the stream
// starts are returned as errors; a stream that breaks off without a terminal
// event is closed with a synthesized error event.
func (c *Client) stream(ctx context.Context, req *http.Request) (<-chan Event, error) {
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		parser := NewStreamParserSize(resp.Body, c.maxEventBytes)
		for {
			ev, err := parser.Next()
			if err != nil {
				msg := "stream ended without a terminal event"
				if !errors.Is(err, io.EOF) {
					msg = "stream interrupted: " + err.Error()
				}
				send(Event{Type: EventError, Message: msg, Timestamp: time.Now().UTC()})
				return
			}
			if !send(*ev) || ev.Terminal() {
				return
			}
		}
	}()

	return events, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		} else if body.Error != "" {
			apiErr.Message = body.Error
		}
		apiErr.Detail = body.Detail
	}
	return apiErr
}
