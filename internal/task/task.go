package task

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/rdm/internal/errors"
	"github.com/NamanBalaji/rdm/internal/filesystem"
	"github.com/NamanBalaji/rdm/internal/logger"
	"github.com/NamanBalaji/rdm/internal/progress"
	"github.com/NamanBalaji/rdm/internal/repository"
	"github.com/NamanBalaji/rdm/internal/request"
	"github.com/NamanBalaji/rdm/internal/status"
	httpPkg "github.com/NamanBalaji/rdm/pkg/http"
)

const (
	DefaultBufferSize   = 4 * 1024
	DefaultSyncMinBytes = 64 * 1024
	DefaultSyncInterval = 2000 * time.Millisecond
	DefaultMaxRedirects = 10
)

// Store is the part of the progress store a task needs.
type Store interface {
	Find(id uuid.UUID) (*repository.DownloadModel, error)
	Insert(model *repository.DownloadModel) error
	UpdateProgress(id uuid.UUID, downloaded int64, at time.Time) error
	Remove(id uuid.UUID) error
}

type Options struct {
	BufferSize   int
	SyncMinBytes int64
	SyncInterval time.Duration
	MaxRedirects int
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}

	if o.SyncMinBytes <= 0 {
		o.SyncMinBytes = DefaultSyncMinBytes
	}

	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}

	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}

// Task runs one download request to a terminal outcome. A Task is used
// for a single run and is not safe for concurrent use.
type Task struct {
	req       *request.Request
	store     Store
	transport httpPkg.Transport
	opts      Options

	conn         httpPkg.Connection
	responseCode int
	etag         string

	file *os.File
	out  *bufio.Writer

	priorETag  string
	modelFound bool
	validated  bool
	resumable  bool

	lastSyncTime  time.Time
	lastSyncBytes int64

	suppressed atomic.Int64
}

func New(req *request.Request, store Store, transport httpPkg.Transport, opts Options) *Task {
	return &Task{
		req:       req,
		store:     store,
		transport: transport,
		opts:      opts.withDefaults(),
	}
}

// SuppressedErrors counts best-effort failures that were logged and not
// returned.
func (t *Task) SuppressedErrors() int64 {
	return t.suppressed.Load()
}

// Run connects, validates any earlier progress, streams the body to the
// temp file and publishes it on success. Pause and cancel are observed
// through the request status.
func (t *Task) Run(ctx context.Context) (resp request.Response) {
	if r, ok := t.interrupted(); ok {
		return r
	}

	defer func() {
		t.cleanup(resp)
	}()

	t.loadPriorState()

	t.transition(status.Connecting)

	if err := t.connect(ctx, t.req.Downloaded()); err != nil {
		return t.fail(err)
	}

	if r, ok := t.interrupted(); ok {
		return r
	}

	if t.isStale() {
		logger.Infof("Download %s changed on the server, restarting from zero", t.req.ID())
		t.discardProgress()

		if err := t.connect(ctx, 0); err != nil {
			return t.fail(err)
		}

		if r, ok := t.interrupted(); ok {
			return r
		}
	}

	if t.responseCode < 200 || t.responseCode > 299 {
		return request.Fail(errors.NewServerError(httpPkg.ClassifyHTTPError(t.responseCode), t.req.URL(), t.responseCode))
	}

	t.validated = true
	t.resumable = t.responseCode == http.StatusPartialContent

	if !t.resumable && t.req.Downloaded() > 0 {
		logger.Debugf("Server ignored range for %s, downloading from zero", t.req.ID())
		t.discardProgress()
	}

	if !t.resumable {
		t.removeTemp()
	}

	if t.req.Total() == 0 {
		if length := t.conn.ContentLength(); length > 0 {
			t.req.SetTotal(t.req.Downloaded() + length)
		}
	}

	if t.resumable && !t.modelFound {
		t.insertModel()
	}

	if r, ok := t.interrupted(); ok {
		return r
	}

	t.req.Listener().OnStart()

	if err := t.openTemp(); err != nil {
		return t.fail(err)
	}

	if r, ok := t.interrupted(); ok {
		return r
	}

	t.transition(status.Running)

	if err := t.transfer(); err != nil {
		return t.fail(err)
	}

	if r, ok := t.interrupted(); ok {
		if r.Outcome == request.Paused {
			t.checkpoint()
		}

		return r
	}

	if err := t.finalize(); err != nil {
		return t.fail(err)
	}

	return request.Success()
}

// interrupted reports a pending pause or cancel as the response to return.
func (t *Task) interrupted() (request.Response, bool) {
	switch t.req.Status() {
	case status.Cancelled:
		return request.Cancel(), true
	case status.Paused:
		return request.Pause(), true
	default:
		return request.Response{}, false
	}
}

func (t *Task) transition(to status.Status) {
	for {
		cur := t.req.Status()
		if cur.IsInterrupt() || cur.IsTerminal() {
			return
		}

		if t.req.CompareAndSwapStatus(cur, to) {
			return
		}
	}
}

func (t *Task) loadPriorState() {
	model, err := t.store.Find(t.req.ID())
	if err != nil {
		if !errors.Is(err, repository.ErrDownloadNotFound) {
			t.suppress("failed to read download model", err)
		}

		return
	}

	size, ok, err := filesystem.Size(t.req.TempPath())
	if err != nil || !ok {
		logger.Warnf("Temp file for %s is missing, discarding saved progress", t.req.ID())
		t.removeModel()
		t.req.SetDownloaded(0)
		t.req.SetTotal(0)

		return
	}

	downloaded := min(model.DownloadedBytes, size)

	t.req.SetDownloaded(downloaded)
	t.req.SetTotal(model.TotalBytes)
	t.priorETag = model.ETag
	t.modelFound = true

	logger.Debugf("Resuming %s at %d of %d bytes", t.req.ID(), downloaded, model.TotalBytes)
}

// connect opens a connection from offset, following redirects up to the
// configured limit.
func (t *Task) connect(ctx context.Context, offset int64) error {
	t.closeConn()

	target := t.req.URL()

	for redirects := 0; ; redirects++ {
		conn, err := t.transport.Connect(ctx, httpPkg.ConnectOptions{
			URL:       target,
			Offset:    offset,
			Headers:   t.req.Headers(),
			UserAgent: t.req.UserAgent(),
		})
		if err != nil {
			return err
		}

		code := conn.ResponseCode()
		if !httpPkg.IsRedirect(code) {
			t.conn = conn
			t.responseCode = code
			t.etag = conn.Header("ETag")

			return nil
		}

		location := conn.Header("Location")
		t.closeQuietly(conn, "redirect connection")

		if location == "" {
			return errors.ErrNoLocation
		}

		if redirects >= t.opts.MaxRedirects {
			return fmt.Errorf("%w: more than %d", errors.ErrRedirectLimit, t.opts.MaxRedirects)
		}

		next, err := httpPkg.ResolveLocation(target, location)
		if err != nil {
			return fmt.Errorf("bad redirect location %q: %w", location, err)
		}

		logger.Debugf("Following %d redirect from %s to %s", code, target, next)
		target = next
	}
}

// isStale reports whether saved progress no longer matches the resource.
func (t *Task) isStale() bool {
	if t.responseCode == http.StatusRequestedRangeNotSatisfiable {
		return true
	}

	return t.priorETag != "" && t.etag != "" && t.priorETag != t.etag
}

func (t *Task) discardProgress() {
	t.removeModel()
	t.removeTemp()
	t.req.SetDownloaded(0)
	t.req.SetTotal(0)
	t.priorETag = ""
	t.modelFound = false
}

func (t *Task) insertModel() {
	model := &repository.DownloadModel{
		ID:              t.req.ID(),
		URL:             t.req.URL(),
		ETag:            t.etag,
		Dir:             t.req.Dir(),
		Filename:        t.req.Filename(),
		TotalBytes:      t.req.Total(),
		DownloadedBytes: t.req.Downloaded(),
		LastModifiedAt:  t.opts.Now(),
	}

	if err := t.store.Insert(model); err != nil {
		t.suppress("failed to insert download model", err)
		return
	}

	t.modelFound = true
}

func (t *Task) openTemp() error {
	file, err := filesystem.OpenAt(t.req.TempPath(), t.req.Downloaded())
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}

	t.file = file
	t.out = bufio.NewWriterSize(file, t.opts.BufferSize)

	return nil
}

// transfer copies the body to the temp file until EOF, an error, or an
// interrupt.
func (t *Task) transfer() error {
	buf := make([]byte, t.opts.BufferSize)
	body := t.conn.Body()
	listener := t.req.Listener()

	t.lastSyncTime = t.opts.Now()
	t.lastSyncBytes = t.req.Downloaded()

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := t.out.Write(buf[:n]); err != nil {
				return fmt.Errorf("write temp file: %w", err)
			}

			downloaded := t.req.AddDownloaded(int64(n))

			if t.req.Status() != status.Cancelled {
				listener.OnProgress(progress.Progress{Downloaded: downloaded, Total: t.req.Total()})
			}

			t.maybeCheckpoint()
		}

		if t.req.Status().IsInterrupt() {
			return nil
		}

		if readErr == io.EOF {
			return nil
		}

		if readErr != nil {
			return fmt.Errorf("read body: %w", readErr)
		}
	}
}

func (t *Task) maybeCheckpoint() {
	now := t.opts.Now()

	bytesDelta := t.req.Downloaded() - t.lastSyncBytes
	timeDelta := now.Sub(t.lastSyncTime)

	if bytesDelta > t.opts.SyncMinBytes && timeDelta > t.opts.SyncInterval {
		t.checkpoint()
	}
}

// checkpoint makes written bytes durable and then records them, so the
// stored count never exceeds what is on disk.
func (t *Task) checkpoint() {
	if t.out == nil {
		return
	}

	if err := t.out.Flush(); err != nil {
		t.suppress("failed to flush temp file", err)
		return
	}

	if err := t.file.Sync(); err != nil {
		t.suppress("failed to sync temp file", err)
		return
	}

	now := t.opts.Now()
	downloaded := t.req.Downloaded()

	if t.resumable {
		if err := t.store.UpdateProgress(t.req.ID(), downloaded, now); err != nil {
			t.suppress("failed to update download progress", err)
		}
	}

	t.lastSyncTime = now
	t.lastSyncBytes = downloaded
}

func (t *Task) finalize() error {
	if err := t.out.Flush(); err != nil {
		return fmt.Errorf("flush temp file: %w", err)
	}

	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}

	err := t.file.Close()
	t.file = nil
	t.out = nil

	if err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if total := t.req.Total(); total > 0 && t.req.Downloaded() != total {
		return fmt.Errorf("%w: got %d of %d bytes", httpPkg.ErrUnexpectedEOF, t.req.Downloaded(), total)
	}

	if err := filesystem.Publish(t.req.TempPath(), t.req.Path()); err != nil {
		return err
	}

	if t.modelFound {
		t.removeModel()
	}

	logger.Infof("Download %s completed: %s", t.req.ID(), t.req.Path())

	return nil
}

// fail turns an I/O error into a response. A cancel or pause that caused
// the error wins over the error itself.
func (t *Task) fail(err error) request.Response {
	if r, ok := t.interrupted(); ok {
		if r.Outcome == request.Paused {
			t.checkpoint()
		}

		return r
	}

	if t.validated && !t.resumable {
		t.closeFile()
		t.removeTemp()
	}

	logger.Errorf("Download %s failed: %v", t.req.ID(), err)

	return request.Fail(errors.NewConnectionError(err, t.req.URL()))
}

func (t *Task) cleanup(resp request.Response) {
	t.closeConn()
	t.closeFile()

	if resp.Outcome == request.Cancelled && t.validated && !t.resumable {
		t.removeTemp()
	}
}

func (t *Task) closeConn() {
	if t.conn == nil {
		return
	}

	t.closeQuietly(t.conn, "connection")
	t.conn = nil
}

func (t *Task) closeFile() {
	if t.file == nil {
		return
	}

	if err := t.out.Flush(); err != nil {
		t.suppress("failed to flush temp file", err)
	}

	if err := t.file.Sync(); err != nil {
		t.suppress("failed to sync temp file", err)
	}

	if err := t.file.Close(); err != nil {
		t.suppress("failed to close temp file", err)
	}

	t.file = nil
	t.out = nil
}

func (t *Task) closeQuietly(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		t.suppress("failed to close "+what, err)
	}
}

func (t *Task) removeModel() {
	err := t.store.Remove(t.req.ID())
	if err != nil && !errors.Is(err, repository.ErrDownloadNotFound) {
		t.suppress("failed to remove download model", err)
	}
}

func (t *Task) removeTemp() {
	if err := filesystem.Remove(t.req.TempPath()); err != nil {
		t.suppress("failed to remove temp file", err)
	}
}

func (t *Task) suppress(msg string, err error) {
	t.suppressed.Add(1)
	logger.Warnw(msg, "id", t.req.ID(), "error", err)
}
