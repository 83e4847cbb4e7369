package client

import (
	"net/http"
	"time"
)

// ClientOption configures an OnlineClient.
type ClientOption func(*OnlineClient)

// WithHTTPClient sends requests through hc, for custom transports or proxies.
// The client is copied; its Timeout is replaced by the WithTimeout value.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *OnlineClient) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each request, including reading the response.
// Default is 10 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *OnlineClient) {
		c.timeout = d
	}
}

// WithUserAgent overrides the User-Agent header. An empty value sends none.
func WithUserAgent(ua string) ClientOption {
	return func(c *OnlineClient) {
		c.userAgent = ua
	}
}

// WithDeviceID sets the device id sent with checkout and validation requests.
// Use GenerateDeviceID for a stable per-machine value.
func WithDeviceID(id string) ClientOption {
	return func(c *OnlineClient) {
		c.deviceID = id
	}
}
