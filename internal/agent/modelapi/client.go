// Package modelapi talks to the hosted model API: model artifact metadata,
// artifact downloads and workspace/dataset lookups.
package modelapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL       string
	licenseServer string
	http          *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLicenseServer routes every request through a license server proxy.
func WithLicenseServer(server string) Option {
	return func(c *Client) { c.licenseServer = strings.TrimSpace(server) }
}

// New returns a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WrapURL rewrites u to go through the license server when one is set.
func (c *Client) WrapURL(u string) string {
	if c.licenseServer == "" {
		return u
	}
	return "http://" + c.licenseServer + "/proxy?url=" + url.QueryEscape(u)
}

// statusError is an HTTP response with a failing status code.
type statusError struct {
	StatusCode int
	Body       []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// httpErrorHandler maps a failing status into the endpoint-specific kind.
type httpErrorHandler func(*statusError) error

func requestError(msg string, kind errdefs.Kind) httpErrorHandler {
	return func(err *statusError) error {
		return errdefs.Wrap(kind, err, "%s", msg)
	}
}

// get issues a GET and returns the open response on 2xx. Transport failures
// become connection errors; failing statuses go through onHTTPError.
func (c *Client) get(ctx context.Context, rawURL string, onHTTPError httpErrorHandler) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.WrapURL(rawURL), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logrus.WithError(err).Error("Could not connect to model API")
		return nil, errdefs.Wrap(errdefs.KindAPIConnection, err, "could not connect to model API")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		serr := &statusError{StatusCode: resp.StatusCode, Body: body}
		logrus.WithField("status", resp.StatusCode).Error("HTTP error encountered while requesting model API response")
		return nil, onHTTPError(serr)
	}
	resp.Body = &bodyReader{ReadCloser: resp.Body}
	return resp, nil
}

// bodyReader reports a transport failure while the body is read as a
// connection error. A clean io.EOF passes through.
type bodyReader struct {
	io.ReadCloser
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		err = errdefs.Wrap(errdefs.KindAPIConnection, err, "could not read model API response")
	}
	return n, err
}

// decodeError classifies a failed JSON decode of a response body.
func decodeError(err error) error {
	var (
		apiErr *errdefs.Error
		netErr net.Error
	)
	switch {
	case errors.As(err, &apiErr):
		return err
	case errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &netErr):
		return errdefs.Wrap(errdefs.KindAPIConnection, err, "could not read model API response")
	}
	logrus.WithError(err).Error("Could not decode JSON response from model API")
	return errdefs.Wrap(errdefs.KindMalformedResponse, err, "could not decode JSON response from model API")
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any, onHTTPError httpErrorHandler) error {
	resp, err := c.get(ctx, rawURL, onHTTPError)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return decodeError(err)
	}
	return nil
}

// GetModelData fetches the artifact description of id from the endpoint kind.
// The response is returned with its top-level keys raw.
func (c *Client) GetModelData(ctx context.Context, endpoint constants.ModelEndpointType, id modelid.ID, apiKey, deviceID string) (map[string]json.RawMessage, error) {
	q := url.Values{}
	q.Set("api_key", apiKey)
	q.Set("device", deviceID)
	q.Set("nocache", "true")
	q.Set("dynamic", "true")
	u := fmt.Sprintf("%s/%s/%s/%s?%s", c.baseURL, endpoint, url.PathEscape(id.DatasetID), url.PathEscape(id.VersionID), q.Encode())

	var data map[string]json.RawMessage
	if err := c.getJSON(ctx, u, &data, modelDataFetchingError); err != nil {
		return nil, err
	}
	return data, nil
}

func modelDataFetchingError(err *statusError) error {
	msg := "an error occurred when calling the model API to acquire the model artifacts"
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(err.Body, &body) == nil && len(body.Error) > 0 && string(body.Error) != "null" {
		msg = fmt.Sprintf("%s, the error was: %s", msg, body.Error)
	}
	return errdefs.Wrap(errdefs.KindModelDataFetching, err, "%s", msg)
}

// GetJSON fetches an arbitrary API URL and decodes its JSON body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	return c.getJSON(ctx, rawURL, v, requestError("could not execute GET request to model API", errdefs.KindAPIRequest))
}

// Download opens an API URL for streaming. The caller closes the body. Read
// failures on the body are connection errors.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, rawURL, requestError("could not execute GET request to model API", errdefs.KindAPIRequest))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
