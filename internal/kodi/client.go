package kodi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a single request/response round trip. Retrying is
// the caller's decision, never the client's.
const DefaultTimeout = 8 * time.Second

// Client sends one-shot JSON-RPC calls over HTTP POST. It is stateless per
// call apart from the monotonic request id.
type Client struct {
	endpoint string
	http     *http.Client
	username string
	password string
	reqID    atomic.Uint64
}

// NewClient creates a client for the /jsonrpc endpoint of the given host.
func NewClient(address string, port int, username, password string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: fmt.Sprintf("http://%s/jsonrpc", net.JoinHostPort(address, strconv.Itoa(port))),
		http:     &http.Client{Timeout: timeout},
		username: username,
		password: password,
	}
}

// SetTransport swaps the underlying round tripper. Used by tests.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.http.Transport = rt
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint64 `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call performs a single request/response exchange and returns the raw
// result. Every failure mode maps to a distinct *Error kind.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.reqID.Add(1),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.username != "" || c.password != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, &Error{Kind: ErrTimeout, Message: err.Error()}
		}
		return nil, &Error{Kind: ErrNotConnected, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: ErrHTTP, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidResponse, Message: err.Error()}
	}

	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &Error{Kind: ErrInvalidResponse, Message: err.Error()}
	}
	if decoded.Error != nil {
		return nil, &Error{Kind: ErrRPC, Code: decoded.Error.Code, Message: decoded.Error.Message}
	}
	if len(decoded.Result) == 0 || string(decoded.Result) == "null" {
		return nil, &Error{Kind: ErrNoResult}
	}
	return decoded.Result, nil
}

func isTimeout(err error) bool {
	if uerr, ok := err.(*url.Error); ok && uerr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
