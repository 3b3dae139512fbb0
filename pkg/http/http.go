package http

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/NamanBalaji/rdm/internal/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxConnsPerHost       = 16

	DefaultUserAgent = "rdm/1.0"

	defaultDownloadName = "download"
)

// ConnectOptions describes one GET issued for a download.
type ConnectOptions struct {
	URL       string
	Offset    int64
	Headers   map[string]string
	UserAgent string
}

// Connection is an open response: status, headers and a body stream.
type Connection interface {
	ResponseCode() int
	Header(name string) string
	ContentLength() int64
	Body() io.ReadCloser
	Close() error
}

// Transport opens connections for download requests. Redirects are not
// followed; a 3xx comes back as a Connection for the caller to resolve.
type Transport interface {
	Connect(ctx context.Context, opts ConnectOptions) (Connection, error)
}

type ClientOption func(*Client)

// WithConnectTimeout bounds dialing and waiting for response headers.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithReadTimeout bounds how long a body read may make no progress.
func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHeaders sets headers sent on every request. Per-request headers win.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		c.headers = headers
	}
}

type Client struct {
	*http.Client

	connectTimeout time.Duration
	readTimeout    time.Duration
	userAgent      string
	headers        map[string]string
}

// NewClient creates a new HTTP client with custom transport settings.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		connectTimeout: defaultConnectTimeout,
		readTimeout:    defaultReadTimeout,
		userAgent:      DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   c.connectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		ResponseHeaderTimeout: c.connectTimeout,
		DisableCompression:    true,
		MaxConnsPerHost:       maxConnsPerHost,
	}

	c.Client = &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return c
}

// Connect issues a GET for opts.URL asking for bytes from opts.Offset onward.
// The returned connection must be closed by the caller.
func (c *Client) Connect(ctx context.Context, opts ConnectOptions) (Connection, error) {
	connCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, opts.URL, http.NoBody)
	if err != nil {
		cancel()
		logger.Errorf("Failed to create GET request for %s: %v", opts.URL, err)

		return nil, fmt.Errorf("%w: %w", ErrRequestCreation, err)
	}

	ua := c.userAgent
	if opts.UserAgent != "" {
		ua = opts.UserAgent
	}

	req.Header.Set("User-Agent", ua)

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	req.Header.Set("Range", RangeHeader(opts.Offset))

	logger.Debugf("Sending GET to %s with Range %s", opts.URL, req.Header.Get("Range"))

	resp, err := c.Do(req)
	if err != nil {
		cancel()
		logger.Errorf("GET request failed for %s: %v", opts.URL, err)

		return nil, ClassifyError(err)
	}

	logger.Debugf("GET response for %s: status=%d length=%d", opts.URL, resp.StatusCode, resp.ContentLength)

	return &connection{
		resp:   resp,
		body:   newIdleTimeoutReader(resp.Body, c.readTimeout, cancel),
		cancel: cancel,
	}, nil
}

// RangeHeader formats an open-ended byte range starting at offset.
func RangeHeader(offset int64) string {
	return fmt.Sprintf("bytes=%d-", offset)
}

// IsRedirect reports whether code asks the client to follow Location.
func IsRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// ResolveLocation resolves a Location header against the URL that returned it.
func ResolveLocation(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	l, err := url.Parse(location)
	if err != nil {
		return "", err
	}

	return b.ResolveReference(l).String(), nil
}

// FilenameFromURL picks a filename from the ?filename= parameter or the last
// path segment.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultDownloadName
	}

	if qname := u.Query().Get("filename"); qname != "" {
		return path.Base(qname)
	}

	base := path.Base(u.Path)
	if base != "" && base != "/" && base != "." && !strings.HasSuffix(u.Path, "/") {
		return base
	}

	return defaultDownloadName
}

type connection struct {
	resp      *http.Response
	body      io.ReadCloser
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func (c *connection) ResponseCode() int {
	return c.resp.StatusCode
}

func (c *connection) Header(name string) string {
	return c.resp.Header.Get(name)
}

// ContentLength returns -1 when the length is unknown.
func (c *connection) ContentLength() int64 {
	return c.resp.ContentLength
}

func (c *connection) Body() io.ReadCloser {
	return c.body
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.body.Close()
		c.cancel()
	})

	return c.closeErr
}

// idleTimeoutReader aborts the request when no read completes within timeout.
type idleTimeoutReader struct {
	rc       io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	timedOut bool
}

func newIdleTimeoutReader(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	if timeout <= 0 {
		return rc
	}

	r := &idleTimeoutReader{rc: rc, timeout: timeout}
	r.timer = time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.timedOut = true
		r.mu.Unlock()
		cancel()
	})

	return r
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)

	r.mu.Lock()
	timedOut := r.timedOut
	r.mu.Unlock()

	if timedOut && err != nil {
		return n, ErrTimeout
	}

	r.timer.Reset(r.timeout)

	return n, err
}

func (r *idleTimeoutReader) Close() error {
	r.timer.Stop()
	return r.rc.Close()
}
