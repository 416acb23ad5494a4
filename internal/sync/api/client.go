// Package api implements the HTTP boundary to the chat service: message
// inserts correlated by temp id and the list endpoint used for initial
// loads and the degraded polling path.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ferndale-health/stitch/internal/core/chat"
)

const defaultTimeout = 20 * time.Second

// ErrPermanent tags failures that must not be retried automatically
// (validation rejections, auth failures). The message is marked failed
// immediately and a manual retry offered instead.
var ErrPermanent = errors.New("permanent send failure")

// APIError represents a non-2xx response from the chat service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("chat api error: %s (%d): %s", e.Code, e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("chat api error: %s (%d)", e.Code, e.Status)
	case e.Message != "":
		return fmt.Sprintf("chat api error (%d): %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("chat api error (%d)", e.Status)
	}
}

// Permanent reports whether the response indicates a failure that retrying
// cannot fix. Timeouts and rate limits stay retryable.
func (e *APIError) Permanent() bool {
	if e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests {
		return false
	}
	return e.Status >= 400 && e.Status < 500
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the chat service API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a Client for the given base URL.
func NewClient(baseURL, apiKey string) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: normalized,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}, nil
}

// NormalizeBaseURL validates a server URL and strips trailing slashes.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("server url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("server url must include scheme (https://)")
	}
	return strings.TrimRight(value, "/"), nil
}

// InsertRequest describes one message write. TempID travels in the request
// so a duplicate delivery of the network call reconciles to the same row.
type InsertRequest struct {
	ChatID   string    `json:"-"`
	Content  string    `json:"content"`
	Role     chat.Role `json:"role"`
	Type     chat.Type `json:"type"`
	Sequence int       `json:"sequence"`
	TempID   string    `json:"temp_id"`
}

// InsertMessage persists one message and returns the server-confirmed row.
// The server's id, created_at and sequence are authoritative and may differ
// from the optimistic guess.
func (c *Client) InsertMessage(ctx context.Context, req InsertRequest) (chat.Message, error) {
	if req.ChatID == "" {
		return chat.Message{}, fmt.Errorf("%w: chat id is required", ErrPermanent)
	}

	var row chat.Message
	path := fmt.Sprintf("/v1/chats/%s/messages", url.PathEscape(req.ChatID))
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := c.doJSON(ctx, http.MethodPost, path, nil, headers, req, &row); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			return chat.Message{}, fmt.Errorf("%w: %w", ErrPermanent, apiErr)
		}
		return chat.Message{}, err
	}

	if row.Metadata.TempID == "" {
		row.Metadata.TempID = req.TempID
	}
	return row, nil
}

// ListMessages fetches a chat's messages, optionally only those created
// after since. Serves the initial load and the slow-polling fallback.
func (c *Client) ListMessages(ctx context.Context, chatID string, since time.Time) ([]chat.Message, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	var resp struct {
		Messages []chat.Message `json:"messages"`
	}
	path := fmt.Sprintf("/v1/chats/%s/messages", url.PathEscape(chatID))
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ListChats fetches the conversation summaries visible to this key.
func (c *Client) ListChats(ctx context.Context) ([]chat.Chat, error) {
	var resp struct {
		Chats []chat.Chat `json:"chats"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chats", nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// Health probes the service. Used by the doctor command.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/v1/health", nil, nil, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, headers map[string]string, reqBody, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload apiErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	return json.Unmarshal(respData, respBody)
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	endpoint := base.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}
