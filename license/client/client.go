package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20 // 1 MB
)

// OnlineClient communicates with the license server HTTP API.
type OnlineClient struct {
	serverURL  string
	httpClient *http.Client
	timeout    time.Duration // applied after all options
	userAgent  string
	deviceID   string
}

// NewOnlineClient creates a new client for the license server.
// serverURL is the base URL (e.g. "https://license.example.com").
func NewOnlineClient(serverURL string, opts ...ClientOption) *OnlineClient {
	c := &OnlineClient{
		serverURL: strings.TrimRight(serverURL, "/"),
		timeout:   defaultTimeout,
		userAgent: "cnw-subscription-license-go/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := http.Client{}
	if c.httpClient != nil {
		hc = *c.httpClient
	}
	hc.Timeout = c.timeout
	c.httpClient = &hc
	return c
}

// DeviceID returns the device id configured via WithDeviceID.
func (c *OnlineClient) DeviceID() string {
	return c.deviceID
}

// Validate asks the server whether a license key currently grants access.
// An unknown key is a verdict with status "unknown", not an error.
// If req.DeviceID is empty the client-level device id is used.
func (c *OnlineClient) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	if req.DeviceID == "" {
		req.DeviceID = c.deviceID
	}
	var resp ValidateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/validate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartCheckout asks the server for a new license key and a hosted checkout
// URL. The key is locked to the client's device id when one is configured.
func (c *OnlineClient) StartCheckout(ctx context.Context) (*CheckoutResponse, error) {
	var resp CheckoutResponse
	if err := c.doJSON(ctx, http.MethodPost, "/checkout", CheckoutRequest{DeviceID: c.deviceID}, &resp); err != nil {
		return nil, err
	}
	if resp.LicenseKey == "" || resp.Link() == "" {
		return nil, fmt.Errorf("decode response: checkout response missing license key or url")
	}
	return &resp, nil
}

// ManagePortal returns a billing-management URL for licenseKey.
func (c *OnlineClient) ManagePortal(ctx context.Context, licenseKey string) (string, error) {
	var resp ManageResponse
	path := "/manage?licenseKey=" + url.QueryEscape(licenseKey)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Link(), nil
}

// doJSON performs a request with an optional JSON body and decodes the
// response into dest. On non-2xx responses, it parses the server error format
// and returns a mapped error.
func (c *OnlineClient) doJSON(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.parseError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseError parses the server error response format: {"error": "..."}
func (c *OnlineClient) parseError(statusCode int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return mapServerError(&ServerError{
			StatusCode: statusCode,
			Message:    strings.TrimSpace(string(body)),
		})
	}
	return mapServerError(&ServerError{
		StatusCode: statusCode,
		Message:    errResp.Error,
	})
}
