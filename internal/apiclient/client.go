// Package apiclient is the single request pipeline between the storefront
// client and the REST backend.  Every request goes through Client.Do, which
// attaches the current bearer token, bounds the call with a timeout and,
// when the server answers 401, asks the TokenSource for a fresh access
// token and replays the request exactly once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/iliyamo/pharmacy-storefront/internal/apperror"
)

// DefaultTimeout bounds every request that does not carry its own deadline.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is read for decoding.
const maxErrorBody = 64 << 10

// TokenSource is the read side of the session's credentials plus the one
// operation the client may trigger on it.  RefreshAccessToken must fail
// closed: on error the session is already logged out when it returns.
type TokenSource interface {
	AccessToken() string
	RefreshAccessToken(ctx context.Context) error
}

// Config configures a Client.
type Config struct {
	BaseURL    string        // e.g. http://localhost:8000/api
	Timeout    time.Duration // per request, DefaultTimeout when zero
	HTTPClient *http.Client  // optional; its Transport is wrapped for tracing
}

// Client dispatches REST calls.  It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration

	mu     sync.RWMutex
	tokens TokenSource
}

// New builds a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("apiclient: base url required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		*hc = *cfg.HTTPClient
	}
	rt := hc.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	hc.Transport = otelhttp.NewTransport(rt)
	return &Client{base: base, http: hc, timeout: timeout}, nil
}

// SetTokenSource installs the session whose token is attached to requests.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	c.tokens = ts
	c.mu.Unlock()
}

func (c *Client) tokenSource() TokenSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// Request describes one API call.
type Request struct {
	Method string
	Path   string     // relative to the base URL, e.g. "/cart/"
	Query  url.Values // optional
	Body   any        // JSON-encoded when non-nil

	// Bearer, when set, is sent instead of the session token and disables
	// refresh-and-retry.  Login uses it to fetch /me/ before the new
	// tokens are committed.
	Bearer string
	// NoAuth sends the request without credentials and never refreshes.
	NoAuth bool
}

// Do sends req and decodes a 2xx JSON body into out (which may be nil).
// Non-2xx answers come back as *apperror.Error.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("apiclient: encode body: %w", err)
		}
		payload = b
	}

	ts := c.tokenSource()
	token := req.Bearer
	if token == "" && !req.NoAuth && ts != nil {
		token = ts.AccessToken()
	}

	status, body, err := c.send(ctx, req, payload, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && req.Bearer == "" && !req.NoAuth && ts != nil {
		authErr := decodeError(status, body)
		if rerr := ts.RefreshAccessToken(ctx); rerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return apperror.Wrap(apperror.ErrNetworkFailure, cerr, networkMessage(cerr))
			}
			return authErr
		}
		// replayed once; a second 401 is returned as is
		status, body, err = c.send(ctx, req, payload, ts.AccessToken())
		if err != nil {
			return err
		}
	}

	if status < 200 || status > 299 {
		return decodeError(status, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperror.Wrap(apperror.ErrServerRejected, err, "malformed response")
	}
	return nil
}

// send performs a single HTTP exchange and returns the status and body.
func (c *Client) send(ctx context.Context, req Request, payload []byte, token string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hreq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return 0, nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		return 0, nil, apperror.Wrap(apperror.ErrNetworkFailure, err, networkMessage(err))
	}
	defer resp.Body.Close()

	limit := int64(maxErrorBody)
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		limit = 32 << 20
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, nil, apperror.Wrap(apperror.ErrNetworkFailure, err, networkMessage(err))
	}
	return resp.StatusCode, b, nil
}

func networkMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	}
	return "server unreachable"
}

// decodeError turns an error response into an *apperror.Error.  The
// backend answers {"error": "..."} for most failures, {"detail": "..."}
// for auth failures and {"field": ["msg", ...]} or {"fields": {...}} for
// validation failures.
func decodeError(status int, body []byte) error {
	e := &apperror.Error{Status: status}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err == nil {
		for k, v := range raw {
			switch k {
			case "error", "detail", "message":
				var s string
				if json.Unmarshal(v, &s) == nil && e.Message == "" {
					e.Message = s
				}
			case "fields":
				var f map[string][]string
				if json.Unmarshal(v, &f) == nil {
					for fk, fv := range f {
						addField(e, fk, fv...)
					}
				}
			default:
				var list []string
				if json.Unmarshal(v, &list) == nil {
					addField(e, k, list...)
					continue
				}
				var s string
				if json.Unmarshal(v, &s) == nil {
					addField(e, k, s)
				}
			}
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		e.Kind = apperror.ErrAuthorizationExpired
	case status == http.StatusNotFound:
		e.Kind = apperror.ErrNotFound
	case status == http.StatusUnprocessableEntity:
		e.Kind = apperror.ErrValidation
	case status == http.StatusBadRequest && len(e.Fields) > 0:
		e.Kind = apperror.ErrValidation
	default:
		e.Kind = apperror.ErrServerRejected
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func addField(e *apperror.Error, k string, msgs ...string) {
	if len(msgs) == 0 {
		return
	}
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[k] = append(e.Fields[k], msgs...)
}
