package tool

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"
)

var (
	DefaultTimeout = 30 * time.Second
	// TransferHttpClient has no overall timeout; chunk transfers are bounded by their context.
	TransferHttpClient *http.Client
	// ControlHttpClient is used for small JSON requests (prepare, finalize, listing).
	ControlHttpClient *http.Client
)

func init() {
	TransferHttpClient = NewHTTPClient(0)
	ControlHttpClient = NewHTTPClient(DefaultTimeout)
}

// NewHTTPClient creates an HTTP client, skipping self-signed certificate verification in HTTPS mode.
// A zero timeout leaves the request bounded only by its context and the dial/TLS timeouts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   DefaultTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// NewHTTPReqWithApplication sets the JSON content type on a freshly built request.
func NewHTTPReqWithApplication(req *http.Request, err error) (*http.Request, error) {
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// DrainAndClose discards the rest of body so the connection can be reused.
func DrainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	if err := body.Close(); err != nil {
		DefaultLogger.Errorf("Failed to close response body: %v", err)
	}
}
