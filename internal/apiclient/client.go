package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/internal/tokens"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 10 << 20

// TokenStore is the durable token pair the client reads and rotates.
type TokenStore interface {
	Load(ctx context.Context) (tokens.Pair, error)
	Save(ctx context.Context, pair tokens.Pair) error
	Clear(ctx context.Context) error
	HasValidTokens(ctx context.Context) bool
}

// Params bundles the dependencies required to build a Client.
type Params struct {
	BaseURL string
	Timeout time.Duration
	// TokenExpiresIn is forwarded as token_expires_in on refresh exchanges.
	TokenExpiresIn string
	Tokens         TokenStore
	// OnUnauthorized runs once per failed refresh, after the tokens are cleared.
	OnUnauthorized func(ctx context.Context)
	Transport      http.RoundTripper
	Tracing        bool
	Hooks          Hooks
	Logger         *logger.Logger
	Metrics        *metrics.ClientMetrics
}

// Client issues authenticated requests against one backend and recovers from expired access tokens.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	tokens         TokenStore
	onUnauthorized func(ctx context.Context)
	expiryHint     string
	hooks          Hooks
	logg           *logger.Logger
	metrics        *metrics.ClientMetrics
	refresher      *refresher
}

// New constructs a Client with the provided dependencies.
func New(params Params) (*Client, error) {
	if strings.TrimSpace(params.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(params.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url must be absolute")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if params.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}

	transport := params.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if params.Tracing {
		transport = otelhttp.NewTransport(transport)
	}

	onUnauthorized := params.OnUnauthorized
	if onUnauthorized == nil {
		onUnauthorized = func(context.Context) {}
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	c := &Client{
		baseURL:        base,
		http:           &http.Client{Timeout: params.Timeout, Transport: transport},
		tokens:         params.Tokens,
		onUnauthorized: onUnauthorized,
		expiryHint:     params.TokenExpiresIn,
		hooks:          params.Hooks,
		logg:           logg,
		metrics:        params.Metrics,
	}
	c.refresher = newRefresher(c)
	return c, nil
}

// Do sends req, attaching the bearer token. A first 401 runs the refresh protocol and
// replays req once with the new token; a second 401 is returned unchanged.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	var token string
	if !req.SkipAuth {
		pair, err := c.tokens.Load(ctx)
		if err != nil {
			return nil, err
		}
		token = pair.AccessToken
	}

	resp, err := c.send(ctx, req, body, token)
	if err == nil || req.SkipAuth || !isUnauthorized(err) {
		return resp, err
	}

	pair, refreshErr := c.refresher.handleUnauthorized(ctx, token, err)
	if refreshErr != nil {
		return nil, refreshErr
	}

	// retried: no further refresh for this request
	return c.send(ctx, req, body, pair.AccessToken)
}

// GetJSON performs a GET and decodes the enveloped data into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// PostJSON sends body as JSON and decodes the enveloped data into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// PutJSON sends body as JSON and decodes the enveloped data into out.
func (c *Client) PutJSON(ctx context.Context, path string, body, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// Delete issues a DELETE and discards the body.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
	return err
}

// HasValidTokens reports whether both tokens are persisted.
func (c *Client) HasValidTokens(ctx context.Context) bool {
	return c.tokens.HasValidTokens(ctx)
}

// ClearTokens removes the persisted pair without notifying the logout sink.
func (c *Client) ClearTokens(ctx context.Context) error {
	return c.tokens.Clear(ctx)
}

// State reports whether a refresh exchange is currently running.
func (c *Client) State() State {
	return c.refresher.current()
}

func decodeInto(resp *Response, out any) error {
	if out == nil {
		return nil
	}
	return resp.DecodeData(out)
}

func (c *Client) send(ctx context.Context, req Request, body encoded, token string) (*Response, error) {
	target := c.resolve(req.Path, req.Query)

	var reader io.Reader
	if body.payload != nil {
		reader = bytes.NewReader(body.payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "build request")
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body.contentType != "" {
		httpReq.Header.Set("Content-Type", body.contentType)
	}
	if token != "" && !req.SkipAuth {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	c.hooks.request(ctx, httpReq)
	start := time.Now()
	res, err := c.http.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveRequest(req.Method, 0, elapsed)
		c.hooks.response(ctx, httpReq, nil, elapsed, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "request failed")
	}
	defer res.Body.Close()

	c.metrics.ObserveRequest(req.Method, res.StatusCode, elapsed)
	c.hooks.response(ctx, httpReq, res, elapsed, nil)

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "read response")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, newStatusError(req.Method, target, res.StatusCode, payload)
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: payload}, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = u.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func isUnauthorized(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized
}
