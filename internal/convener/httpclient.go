package convener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dusk-indust/orchestrate/internal/orchestrator"
)

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// HTTPClient implements the Client interface over HTTP/JSON-RPC.
type HTTPClient struct {
	http      *http.Client
	requestID atomic.Int64
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the HTTP client timeout for unary calls. Watch streams
// are exempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// NewHTTPClient creates a convener HTTP client.
func NewHTTPClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate starts a ceremony via the ceremony/initiate JSON-RPC method.
func (c *HTTPClient) Initiate(ctx context.Context, endpoint string, params InitiateParams) (*CeremonyView, error) {
	var view CeremonyView
	if err := c.call(ctx, endpoint, MethodInitiate, params, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Get retrieves a ceremony via the ceremony/get JSON-RPC method.
func (c *HTTPClient) Get(ctx context.Context, endpoint string, params GetParams) (*CeremonyView, error) {
	var view CeremonyView
	if err := c.call(ctx, endpoint, MethodGet, params, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// List queries ceremonies via the ceremony/list JSON-RPC method.
func (c *HTTPClient) List(ctx context.Context, endpoint string, params ListParams) (*ListResult, error) {
	var result ListResult
	if err := c.call(ctx, endpoint, MethodList, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Abort ends a ceremony via the ceremony/abort JSON-RPC method.
func (c *HTTPClient) Abort(ctx context.Context, endpoint string, params AbortParams) (*orchestrator.Report, error) {
	var report orchestrator.Report
	if err := c.call(ctx, endpoint, MethodAbort, params, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Result retrieves a ceremony's report via the ceremony/result JSON-RPC method.
func (c *HTTPClient) Result(ctx context.Context, endpoint string, params ResultParams) (*orchestrator.Report, error) {
	var report orchestrator.Report
	if err := c.call(ctx, endpoint, MethodResult, params, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Watch opens the ceremony's SSE event stream. The returned channel closes
// when the ceremony settles, the server ends the stream, or ctx is cancelled.
func (c *HTTPClient) Watch(ctx context.Context, endpoint string, ceremonyID string) (<-chan StreamEvent, error) {
	url := strings.TrimRight(endpoint, "/") + "/ceremonies/" + ceremonyID + "/events"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("convener: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	// A long-lived stream must not inherit the unary call timeout.
	stream := *c.http
	stream.Timeout = 0

	resp, err := stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("convener: watch %s: %w", ceremonyID, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrCeremonyNotFound, ceremonyID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("convener: watch %s: HTTP %d: %s", ceremonyID, resp.StatusCode, string(body))
	}

	return ReadEvents(ctx, resp.Body), nil
}

// Discover fetches the service card from the well-known URI.
func (c *HTTPClient) Discover(ctx context.Context, baseURL string) (*ServiceCard, error) {
	url := strings.TrimRight(baseURL, "/") + WellKnownPath

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("convener: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("convener: discover service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("convener: discover service: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var card ServiceCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("convener: decode service card: %w", err)
	}
	return &card, nil
}

// nextID returns a monotonically increasing request ID for JSON-RPC calls.
func (c *HTTPClient) nextID() int64 {
	return c.requestID.Add(1)
}

// call performs a JSON-RPC 2.0 call over HTTP POST.
func (c *HTTPClient) call(ctx context.Context, endpoint, method string, params any, result any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("convener: marshal params: %w", err)
	}

	rpcReq := JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      c.nextID(),
		Method:  method,
		Params:  paramsJSON,
	}

	body, err := json.Marshal(rpcReq)
	if err != nil {
		return fmt.Errorf("convener: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("convener: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("convener: %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("convener: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("convener: %s: HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("convener: decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Method:  method,
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
			Data:    rpcResp.Error.Data,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("convener: decode result: %w", err)
		}
	}

	return nil
}

// RPCError is a JSON-RPC error returned by a remote convener.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("convener: %s: rpc error %d: %s (data: %s)", e.Method, e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("convener: %s: rpc error %d: %s", e.Method, e.Code, e.Message)
}
