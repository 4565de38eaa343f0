// Package edge is the RPC client for the per-venue edge gateways. Every
// outbound call carries a mandatory deadline and returns either decoded JSON
// or one of three error kinds: Timeout, RemoteError, or Transport.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
)

// Deadlines per operation class. Reads are quick; LAN scans walk a subnet;
// set-address induces a sensor reboot and the response may never arrive.
const (
	ReadDeadline   = 10 * time.Second
	ApplyDeadline  = 15 * time.Second
	ScanDeadline   = 30 * time.Second
	RebootDeadline = 45 * time.Second
)

// Error kinds.
var (
	ErrTimeout   = errors.New("edge request timed out")
	ErrTransport = errors.New("edge transport error")
)

// RemoteError is a non-2xx response from the gateway.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

// Client issues requests to an edge gateway's HTTP API.
type Client struct {
	http httputil.HTTPClient
	port int
}

// NewClient creates a client for gateways listening on the given port.
// Passing a nil HTTP client uses a plain stdlib client; connection timeouts
// come from per-request contexts, not the transport.
func NewClient(hc httputil.HTTPClient, port int) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(&http.Client{})
	}
	return &Client{http: hc, port: port}
}

// BaseURL returns the gateway API root for a mesh address.
func (c *Client) BaseURL(meshAddress string) string {
	return fmt.Sprintf("http://%s/api/edge", net.JoinHostPort(meshAddress, fmt.Sprint(c.port)))
}

// do performs one request with the given deadline and decodes nothing: the
// raw body is returned for the caller to interpret.
func (c *Client) do(ctx context.Context, meshAddress, method, path string, body interface{}, deadline time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := httputil.NewJSONRequest(ctx, method, c.BaseURL(meshAddress)+path, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: reading %s", ErrTimeout, path)
		}
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ScanResult is the gateway's answer to a targeted LAN probe.
type ScanResult struct {
	Found   bool   `json:"found"`
	Address string `json:"address"`
	Model   string `json:"model"`
	Serial  string `json:"serial,omitempty"`
}

// ScanLidar probes one specific sensor address through the gateway.
func (c *Client) ScanLidar(ctx context.Context, meshAddress, sensorAddress string) (*ScanResult, error) {
	raw, err := c.do(ctx, meshAddress, http.MethodPost, "/lidar/scan",
		map[string]string{"ip": sensorAddress}, ScanDeadline)
	if err != nil {
		return nil, err
	}
	var result ScanResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding scan result: %v", ErrTransport, err)
	}
	return &result, nil
}

// Inventory returns the gateway's view of its attached sensors, verbatim.
func (c *Client) Inventory(ctx context.Context, meshAddress string) (json.RawMessage, error) {
	return c.do(ctx, meshAddress, http.MethodGet, "/lidar/inventory", nil, ReadDeadline)
}

// GetConfig fetches one sensor's on-gateway configuration.
func (c *Client) GetConfig(ctx context.Context, meshAddress, sensorAddress string) (json.RawMessage, error) {
	return c.do(ctx, meshAddress, http.MethodGet, "/lidar/get-config/"+url.PathEscape(sensorAddress), nil, ReadDeadline)
}

// StatusResult is the gateway runtime status.
type StatusResult struct {
	Online  bool            `json:"online"`
	Detail  json.RawMessage `json:"detail,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Status reports gateway health. Errors are folded into an offline result so
// the handler can always answer 200.
func (c *Client) Status(ctx context.Context, meshAddress string) *StatusResult {
	raw, err := c.do(ctx, meshAddress, http.MethodGet, "/status", nil, ReadDeadline)
	if err != nil {
		return &StatusResult{Online: false, Message: err.Error()}
	}
	return &StatusResult{Online: true, Detail: raw}
}

// SetAddress asks the gateway to reassign a sensor's IP. The sensor reboots
// out from under the TCP socket, so a timeout here is the expected success
// signal: rebootDetected is true and err is nil. Callers verify at the new
// address later.
func (c *Client) SetAddress(ctx context.Context, meshAddress, currentAddress, newAddress string) (rebootDetected bool, err error) {
	_, err = c.do(ctx, meshAddress, http.MethodPost, "/lidar/set-ip",
		map[string]string{"current_ip": currentAddress, "new_ip": newAddress}, RebootDeadline)
	if errors.Is(err, ErrTimeout) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// ApplyConfig POSTs a deploy bundle to the gateway.
func (c *Client) ApplyConfig(ctx context.Context, meshAddress string, bundle []byte) (json.RawMessage, error) {
	return c.do(ctx, meshAddress, http.MethodPost, "/config/apply", json.RawMessage(bundle), ApplyDeadline)
}
