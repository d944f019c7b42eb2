package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/browniz421/twinsync/internal/twin"
)

const (
	// DefaultTimeout bounds a single API request.
	DefaultTimeout = 10 * time.Second

	apiPrefix       = "/api/v1"
	maxResponseSize = 10 << 20 // 10 MB
)

// Client talks to the hub's twin API over HTTP.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a client for the hub at baseURL, e.g.
// "http://localhost:8080". A timeout of zero uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:        strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Twins lists every twin on the hub.
func (c *Client) Twins(ctx context.Context) ([]twin.Twin, error) {
	var out struct {
		Twins []twin.Twin `json:"twins"`
	}
	if err := c.do(ctx, http.MethodGet, "/twins", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Twins, nil
}

// GetTwin fetches the twin for deviceID.
func (c *Client) GetTwin(ctx context.Context, deviceID string) (*twin.Twin, error) {
	var t twin.Twin
	if err := c.do(ctx, http.MethodGet, twinPath(deviceID), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Register creates an empty twin for deviceID. Registering an existing
// device returns its twin.
func (c *Client) Register(ctx context.Context, deviceID string) (*twin.Twin, error) {
	var t twin.Twin
	if err := c.do(ctx, http.MethodPut, twinPath(deviceID), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Deregister removes the twin for deviceID.
func (c *Client) Deregister(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodDelete, twinPath(deviceID), nil, nil, nil)
}

// UpdateDesired sends a desired-properties merge patch. A JSON null
// desired resets the desired properties.
//
// Parameters:
//   - ctx: Context for cancellation
//   - deviceID: Twin to update
//   - desired: Merge patch for properties.desired, or JSON null
//
// Returns:
//   - *twin.Twin: The twin after the patch was applied
//   - error: ErrNotFound, ErrInvalidRequest, ErrNotDelivered or ErrRequestFailed
func (c *Client) UpdateDesired(ctx context.Context, deviceID string, desired json.RawMessage) (*twin.Twin, error) {
	return c.updateDesired(ctx, deviceID, desired, nil)
}

// UpdateDesiredIf is UpdateDesired conditional on the current desired
// version. A mismatch returns ErrConflict.
func (c *Client) UpdateDesiredIf(ctx context.Context, deviceID string, desired json.RawMessage, version int64) (*twin.Twin, error) {
	header := http.Header{}
	header.Set("If-Match", `"`+strconv.FormatInt(version, 10)+`"`)
	return c.updateDesired(ctx, deviceID, desired, header)
}

func (c *Client) updateDesired(ctx context.Context, deviceID string, desired json.RawMessage, header http.Header) (*twin.Twin, error) {
	if len(desired) == 0 {
		desired = json.RawMessage("null")
	}
	body, err := json.Marshal(twin.Patch{Properties: twin.PatchProperties{Desired: desired}})
	if err != nil {
		return nil, fmt.Errorf("encoding patch: %w", err)
	}

	var t twin.Twin
	if err := c.do(ctx, http.MethodPatch, twinPath(deviceID), header, body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// History returns up to limit recent patches for deviceID, newest first.
// A limit of zero uses the hub's default.
func (c *Client) History(ctx context.Context, deviceID string, limit int) ([]twin.HistoryEntry, error) {
	path := twinPath(deviceID) + "/history"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var out struct {
		Entries []twin.HistoryEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// HealthCheck verifies the hub answers its health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// do sends a request and decodes a successful JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// responseError maps an API error response onto the package sentinels.
func responseError(status int, body []byte) error {
	var apiErr struct {
		Message string `json:"message"`
	}
	message := http.StatusText(status)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		message = apiErr.Message
	}

	var sentinel error
	switch status {
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		sentinel = ErrConflict
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		sentinel = ErrInvalidRequest
	case http.StatusBadGateway:
		sentinel = ErrNotDelivered
	default:
		sentinel = ErrRequestFailed
	}
	return fmt.Errorf("%w: HTTP %d: %s", sentinel, status, message)
}

func twinPath(deviceID string) string {
	return "/twins/" + url.PathEscape(deviceID)
}
