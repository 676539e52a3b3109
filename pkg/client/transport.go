package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 32 << 20

// Response is the raw result of a single successful round trip.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs exactly one HTTP GET per call. It does not retry and
// does not interpret status codes beyond surfacing them.
type Transport struct {
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

// NewTransport creates a transport with a per-call timeout.
func NewTransport(timeout time.Duration, userAgent string) *Transport {
	return &Transport{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Get issues one GET against rawURL. It returns a *NetworkError when no
// response was received and an *HTTPStatusError for non-2xx statuses.
func (t *Transport) Get(ctx context.Context, rawURL string) (*Response, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPStatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header.Clone(),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		// A body cut short by reset or timeout is a connection failure
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// FetchJSON issues one GET and decodes the JSON body into v.
func (t *Transport) FetchJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := t.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	return DecodeJSON(rawURL, resp.Body, v)
}

// errTrailingData marks a body holding more than one JSON value.
var errTrailingData = errors.New("invalid data after top-level JSON value")

// DecodeJSON decodes body into v, preserving numbers as json.Number.
// The body must hold exactly one JSON value.
func DecodeJSON(rawURL string, body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return &DecodeError{URL: rawURL, Err: err}
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			err = fmt.Errorf("%w: %w", errTrailingData, err)
		} else {
			err = errTrailingData
		}
		return &DecodeError{URL: rawURL, Err: err}
	}
	return nil
}
