package request

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/rdm/internal/errors"
	"github.com/NamanBalaji/rdm/internal/progress"
	"github.com/NamanBalaji/rdm/internal/status"
)

const tempSuffix = ".temp"

var ErrEmptyFilename = errors.New("filename cannot be empty")

type Option func(*Request)

// WithHeaders adds request headers sent on every connect.
func WithHeaders(headers map[string]string) Option {
	return func(r *Request) {
		for k, v := range headers {
			r.headers[k] = v
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(r *Request) {
		r.userAgent = ua
	}
}

func WithListener(l Listener) Option {
	return func(r *Request) {
		r.listener = l
	}
}

// Request is one download: a URL fetched into dir/filename.
// Status and byte counters are shared between the running task and
// callers issuing pause or cancel, so they are atomics.
type Request struct {
	id        uuid.UUID
	url       string
	dir       string
	filename  string
	headers   map[string]string
	userAgent string
	listener  Listener
	createdAt time.Time

	status     atomic.Int32
	downloaded atomic.Int64
	total      atomic.Int64
	sequence   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan Response
}

// New validates rawURL and builds a pending request.
func New(rawURL, dir, filename string, opts ...Option) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", errors.ErrInvalidURL, rawURL)
	}

	if filename == "" {
		return nil, ErrEmptyFilename
	}

	r := &Request{
		id:        ID(rawURL, dir, filename),
		url:       rawURL,
		dir:       dir,
		filename:  filename,
		headers:   make(map[string]string),
		listener:  nopListener{},
		createdAt: time.Now(),
		done:      make(chan Response, 1),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.listener == nil {
		r.listener = nopListener{}
	}

	r.SetStatus(status.Pending)

	return r, nil
}

// ID derives the download id from the URL and destination, so the same
// download maps to the same persisted progress across restarts.
func ID(rawURL, dir, filename string) uuid.UUID {
	sep := string(filepath.Separator)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL+sep+dir+sep+filename))
}

// Path returns the final destination of a download.
func Path(dir, filename string) string {
	return filepath.Join(dir, filename)
}

// TempPath returns where a download is written until it completes.
func TempPath(dir, filename string) string {
	return Path(dir, filename) + tempSuffix
}

func (r *Request) ID() uuid.UUID { return r.id }
func (r *Request) URL() string { return r.url }
func (r *Request) Dir() string { return r.dir }
func (r *Request) Filename() string { return r.filename }
func (r *Request) UserAgent() string { return r.userAgent }
func (r *Request) Listener() Listener { return r.listener }
func (r *Request) CreatedAt() time.Time { return r.createdAt }

func (r *Request) Path() string {
	return Path(r.dir, r.filename)
}

func (r *Request) TempPath() string {
	return TempPath(r.dir, r.filename)
}

// Headers returns a copy of the extra request headers.
func (r *Request) Headers() map[string]string {
	h := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		h[k] = v
	}

	return h
}

func (r *Request) Status() status.Status {
	return status.Status(r.status.Load())
}

func (r *Request) SetStatus(s status.Status) {
	r.status.Store(int32(s))
}

// CompareAndSwapStatus moves from old to s only if nobody changed the
// status in between.
func (r *Request) CompareAndSwapStatus(old, s status.Status) bool {
	return r.status.CompareAndSwap(int32(old), int32(s))
}

func (r *Request) Downloaded() int64 {
	return r.downloaded.Load()
}

func (r *Request) SetDownloaded(n int64) {
	r.downloaded.Store(n)
}

func (r *Request) AddDownloaded(n int64) int64 {
	return r.downloaded.Add(n)
}

func (r *Request) Total() int64 {
	return r.total.Load()
}

func (r *Request) SetTotal(n int64) {
	r.total.Store(n)
}

func (r *Request) Sequence() int64 {
	return r.sequence.Load()
}

func (r *Request) SetSequence(n int64) {
	r.sequence.Store(n)
}

func (r *Request) Progress() progress.Progress {
	return progress.Progress{
		Downloaded: r.Downloaded(),
		Total:      r.Total(),
	}
}

// Pause asks the running task to checkpoint and stop. It only has an
// effect on a request that has not finished.
func (r *Request) Pause() bool {
	for {
		cur := r.Status()
		if cur.IsTerminal() || cur == status.Paused {
			return false
		}

		if r.CompareAndSwapStatus(cur, status.Paused) {
			return true
		}
	}
}

// Cancel asks the running task to stop and aborts any blocked read.
func (r *Request) Cancel() bool {
	for {
		cur := r.Status()
		if cur == status.Completed || cur == status.Cancelled {
			return false
		}

		if r.CompareAndSwapStatus(cur, status.Cancelled) {
			break
		}
	}

	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	return true
}

// Prepare resets per-run state before the request is scheduled again.
func (r *Request) Prepare(cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancel = cancel
	r.done = make(chan Response, 1)
}

// Complete publishes the outcome of the current run.
func (r *Request) Complete(resp Response) {
	r.mu.Lock()
	done := r.done
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case done <- resp:
	default:
	}
}

// Done returns a channel that receives the outcome of the current run.
func (r *Request) Done() <-chan Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.done
}

// Wait blocks until the current run finishes or ctx is done.
func (r *Request) Wait(ctx context.Context) (Response, error) {
	select {
	case resp := <-r.Done():
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
