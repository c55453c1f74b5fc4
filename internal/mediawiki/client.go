package mediawiki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "fandomassenger/pkg/logx"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "fandomassenger/1.0 (mass message dispatcher)"
	maxBodyBytes     = 8 << 20
)

// Endpoint selects the PHP entry point a request targets.
type Endpoint int

const (
	// ActionAPI is the MediaWiki Action API at <base>/api.php.
	ActionAPI Endpoint = iota
	// Nirvana is the Fandom controller API at <base>/wikia.php.
	Nirvana
)

func (e Endpoint) String() string {
	if e == Nirvana {
		return "wikia.php"
	}
	return "api.php"
}

// Request is a single wiki API call.
//
// For GET requests Params go into the query string. For POST requests Params
// are form-encoded into the body and Query (if any) is added to the URL.
type Request struct {
	Op       string
	Endpoint Endpoint
	Post     bool
	Params   url.Values
	Query    url.Values
	// Write marks state-mutating calls. The Authenticator adds the CSRF token.
	Write bool
}

// Response is a raw 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(op string, v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

type Options struct {
	BaseURL   string
	UserAgent string
	// Timeout bounds every request. Zero means 30s.
	Timeout time.Duration
	// ReadInterval spaces read-only queries (category and link pagination,
	// user lookups). Zero disables read throttling.
	ReadInterval time.Duration
	// HTTPClient overrides the transport. A cookie jar is attached when missing.
	HTTPClient *http.Client
	Log        logx.Logger
}

// Client performs raw HTTP calls against a wiki. It holds the cookie jar
// that carries the login session.
type Client struct {
	base       string
	apiURL     string
	nirvanaURL string

	hc      *http.Client
	ua      string
	timeout time.Duration
	reads   *rate.Limiter
	log     logx.Logger
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mediawiki: invalid base url %q", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		cp := *hc
		cp.Jar = jar
		hc = &cp
	}

	c := &Client{
		base:       base,
		apiURL:     base + "/api.php",
		nirvanaURL: base + "/wikia.php",
		hc:         hc,
		ua:         strings.TrimSpace(opts.UserAgent),
		timeout:    opts.Timeout,
		log:        opts.Log.With(logx.String("comp", "mediawiki")),
	}
	if c.ua == "" {
		c.ua = defaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if opts.ReadInterval > 0 {
		c.reads = rate.NewLimiter(rate.Every(opts.ReadInterval), 1)
	}
	return c, nil
}

// BaseURL returns the normalized wiki base URL.
func (c *Client) BaseURL() string { return c.base }

// SetReadInterval changes the read throttle (e.g. once the edit interval is known).
func (c *Client) SetReadInterval(d time.Duration) {
	if d <= 0 {
		c.reads = nil
		return
	}
	if c.reads == nil {
		c.reads = rate.NewLimiter(rate.Every(d), 1)
		return
	}
	c.reads.SetLimit(rate.Every(d))
}

// Do issues req. The HTTP call runs on a context detached from ctx's
// cancellation and bounded by the client timeout, so a request that was
// started is allowed to finish.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	op := req.Op
	if op == "" {
		op = req.Endpoint.String()
	}
	if !req.Write && c.reads != nil {
		if err := c.reads.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hreq, err := c.build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mediawiki: %s: %w", op, err)
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	hreq = hreq.WithContext(rctx)

	start := time.Now()
	resp, err := c.hc.Do(hreq)
	if err != nil {
		c.log.Debug("request failed", logx.String("op", op), logx.Err(err))
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(op, err)
	}
	c.log.Trace("request done",
		logx.String("op", op),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Code:       resp.Header.Get("MediaWiki-API-Error"),
			Info:       snippet(body),
			HTTPStatus: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if req.Endpoint == ActionAPI {
		if apiErr := envelopeError(body); apiErr != nil {
			apiErr.HTTPStatus = resp.StatusCode
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			return nil, apiErr
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	endpoint := c.apiURL
	if req.Endpoint == Nirvana {
		endpoint = c.nirvanaURL
	}
	params := cloneValues(req.Params)
	params.Set("format", "json")

	var (
		hreq *http.Request
		err  error
	)
	if req.Post {
		target := endpoint
		if len(req.Query) > 0 {
			q := cloneValues(req.Query)
			q.Set("format", "json")
			target += "?" + q.Encode()
		}
		hreq, err = http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}
		hreq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		hreq, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
	}
	hreq.Header.Set("User-Agent", c.ua)
	hreq.Header.Set("Accept", "application/json")
	return hreq, nil
}

// envelopeError extracts an API error object from a 2xx Action API body.
func envelopeError(body []byte) *APIError {
	var env struct {
		Error *struct {
			Code string `json:"code"`
			Info string `json:"info"`
		} `json:"error"`
		Errors []struct {
			Code string `json:"code"`
			Text string `json:"text"`
			Info string `json:"*"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &env); err != nil {
		return nil
	}
	if env.Error != nil && env.Error.Code != "" {
		return &APIError{Code: env.Error.Code, Info: env.Error.Info}
	}
	if len(env.Errors) > 0 && env.Errors[0].Code != "" {
		info := env.Errors[0].Text
		if info == "" {
			info = env.Errors[0].Info
		}
		return &APIError{Code: env.Errors[0].Code, Info: info}
	}
	return nil
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
