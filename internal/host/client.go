package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/soldercli/solder/internal/config"
)

// maxResponseBody bounds how much of a host response is read.
const maxResponseBody = 4096

// Client is the HTTP implementation of Store against the tracker REST API:
//
//	GET  {base}/api/issues/{id}/sync-ref
//	PUT  {base}/api/issues/{id}/sync-ref   {"external_key": ..., "note": ...}
//	POST {base}/api/issues/{id}/notes      {"text": ...}
//
// Request deadlines come from the caller's context.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a tracker API client from a configuration snapshot.
func NewClient(settings config.TrackerSettings) (*Client, error) {
	if settings.BaseURL == "" || settings.Token == "" {
		return nil, fmt.Errorf("tracker configuration incomplete: TRACKER_API_URL and TRACKER_API_TOKEN are required")
	}

	// Bearer token via the oauth2 transport
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: settings.Token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	return &Client{
		baseURL:    strings.TrimRight(settings.BaseURL, "/"),
		httpClient: tc,
	}, nil
}

// GetExternalKey implements Store.
func (c *Client) GetExternalKey(ctx context.Context, objectID int64) (string, error) {
	var out struct {
		ExternalKey string `json:"external_key"`
	}
	path := fmt.Sprintf("/api/issues/%d/sync-ref", objectID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("get external key for %d: %w", objectID, err)
	}
	return out.ExternalKey, nil
}

// SetExternalKeyAndNote implements Store.
func (c *Client) SetExternalKeyAndNote(ctx context.Context, objectID int64, key, note string) error {
	body := map[string]string{
		"external_key": key,
		"note":         note,
	}
	path := fmt.Sprintf("/api/issues/%d/sync-ref", objectID)
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("set external key for %d: %w", objectID, err)
	}
	return nil
}

// AppendNote implements Store.
func (c *Client) AppendNote(ctx context.Context, objectID int64, text string) error {
	body := map[string]string{
		"text": text,
	}
	path := fmt.Sprintf("/api/issues/%d/notes", objectID)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("append note for %d: %w", objectID, err)
	}
	return nil
}

// do executes one request and decodes the response into out when given.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracker request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
