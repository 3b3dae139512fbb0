package dispatcher

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/NamanBalaji/rdm/internal/errors"
	"github.com/NamanBalaji/rdm/internal/filesystem"
	"github.com/NamanBalaji/rdm/internal/logger"
	"github.com/NamanBalaji/rdm/internal/repository"
	"github.com/NamanBalaji/rdm/internal/request"
	"github.com/NamanBalaji/rdm/internal/status"
	"github.com/NamanBalaji/rdm/internal/task"
	httpPkg "github.com/NamanBalaji/rdm/pkg/http"
)

const DefaultMaxConcurrent = 3

var (
	// ErrRequestNotFound is returned when no active request has the id.
	ErrRequestNotFound = errors.New("request not found")

	// ErrAlreadyActive is returned when a request with the same id is
	// already queued or running.
	ErrAlreadyActive = errors.New("request already active")

	// ErrClosed is returned once Shutdown has been called.
	ErrClosed = errors.New("dispatcher is closed")

	ErrNotResumable = errors.New("request cannot be resumed")
	ErrNilRequest   = errors.New("request cannot be nil")
)

// Store is the progress store used by the dispatcher and its tasks.
type Store interface {
	task.Store
	FindOlderThan(cutoff time.Time) ([]*repository.DownloadModel, error)
}

type Option func(*Dispatcher)

// WithMaxConcurrent sets how many requests may transfer at once.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxConcurrent = n
		}
	}
}

func WithTaskOptions(opts task.Options) Option {
	return func(d *Dispatcher) {
		d.taskOpts = opts
	}
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Submitted        int64
	Completed        int64
	Failed           int64
	Paused           int64
	Cancelled        int64
	Rejected         int64
	SuppressedErrors int64
	Active           int
}

// Dispatcher tracks active requests and runs them on a bounded pool.
type Dispatcher struct {
	store         Store
	transport     httpPkg.Transport
	taskOpts      task.Options
	maxConcurrent int

	mu     sync.Mutex
	active map[uuid.UUID]*request.Request
	closed bool

	sequence atomic.Int64
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted  atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	paused     atomic.Int64
	cancelled  atomic.Int64
	rejected   atomic.Int64
	suppressed atomic.Int64
}

func New(store Store, transport httpPkg.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:         store,
		transport:     transport,
		maxConcurrent: DefaultMaxConcurrent,
		active:        make(map[uuid.UUID]*request.Request),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.sem = semaphore.NewWeighted(int64(d.maxConcurrent))
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d
}

// runTask runs a function in a goroutine tracked by the WaitGroup
func (d *Dispatcher) runTask(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Sequence returns the next sequence number. Numbers are strictly
// increasing for the lifetime of the dispatcher.
func (d *Dispatcher) Sequence() int64 {
	return d.sequence.Add(1)
}

// Submit registers req and schedules it. The request is queued until a
// pool slot frees up.
func (d *Dispatcher) Submit(req *request.Request) (*request.Request, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	d.mu.Lock()

	if _, ok := d.active[req.ID()]; ok {
		d.mu.Unlock()
		d.rejected.Add(1)

		return nil, ErrAlreadyActive
	}

	runCtx, cancel := context.WithCancel(d.ctx)

	req.Prepare(cancel)
	req.SetSequence(d.Sequence())
	req.SetStatus(status.Queued)
	d.active[req.ID()] = req

	d.mu.Unlock()

	if err := d.schedule(runCtx, req); err != nil {
		cancel()
		d.Finish(req)
		req.SetStatus(status.Pending)
		d.rejected.Add(1)

		logger.Warnf("Failed to schedule %s: %v", req.ID(), err)

		return nil, err
	}

	d.submitted.Add(1)
	logger.Infof("Queued download %s (seq %d): %s", req.ID(), req.Sequence(), req.URL())

	return req, nil
}

func (d *Dispatcher) schedule(ctx context.Context, req *request.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	d.runTask(func() {
		d.execute(ctx, req)
	})

	return nil
}

// Finish removes req from the active set. Calling it twice is harmless.
func (d *Dispatcher) Finish(req *request.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.active[req.ID()]; ok && cur == req {
		delete(d.active, req.ID())
	}
}

func (d *Dispatcher) execute(ctx context.Context, req *request.Request) {
	resp := d.run(ctx, req)

	if resp.Outcome == request.Cancelled {
		d.purge(req.ID(), req.Dir(), req.Filename())
	}

	req.SetStatus(resp.Outcome.Status())
	d.deliver(req, resp)
	d.count(resp)

	d.Finish(req)
	req.Complete(resp)
}

func (d *Dispatcher) run(ctx context.Context, req *request.Request) request.Response {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		if req.Status() == status.Cancelled {
			return request.Cancel()
		}

		return request.Pause()
	}
	defer d.sem.Release(1)

	req.CompareAndSwapStatus(status.Queued, status.Running)

	t := task.New(req, d.store, d.transport, d.taskOpts)
	resp := t.Run(ctx)

	d.suppressed.Add(t.SuppressedErrors())

	return resp
}

func (d *Dispatcher) deliver(req *request.Request, resp request.Response) {
	listener := req.Listener()

	switch resp.Outcome {
	case request.Successful:
		listener.OnComplete()
	case request.Paused:
		logger.Infof("Download %s paused at %d bytes", req.ID(), req.Downloaded())
		listener.OnPause()
	case request.Cancelled:
		logger.Infof("Download %s cancelled", req.ID())
		listener.OnCancel()
	case request.Failed:
		listener.OnError(resp.Err)
	}
}

func (d *Dispatcher) count(resp request.Response) {
	switch resp.Outcome {
	case request.Successful:
		d.completed.Add(1)
	case request.Paused:
		d.paused.Add(1)
	case request.Cancelled:
		d.cancelled.Add(1)
	case request.Failed:
		d.failed.Add(1)
	}
}

// purge drops the persisted model and temp file of a download.
func (d *Dispatcher) purge(id uuid.UUID, dir, filename string) {
	if err := d.store.Remove(id); err != nil && !errors.Is(err, repository.ErrDownloadNotFound) {
		d.suppress("failed to remove download model", id, err)
	}

	if err := filesystem.Remove(request.TempPath(dir, filename)); err != nil {
		d.suppress("failed to remove temp file", id, err)
	}
}

func (d *Dispatcher) suppress(msg string, id uuid.UUID, err error) {
	d.suppressed.Add(1)
	logger.Warnw(msg, "id", id, "error", err)
}

// Get returns the active request with id.
func (d *Dispatcher) Get(id uuid.UUID) (*request.Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	req, ok := d.active[id]
	if !ok {
		return nil, ErrRequestNotFound
	}

	return req, nil
}

// Active returns the active requests in submission order.
func (d *Dispatcher) Active() []*request.Request {
	d.mu.Lock()
	reqs := make([]*request.Request, 0, len(d.active))
	for _, req := range d.active {
		reqs = append(reqs, req)
	}
	d.mu.Unlock()

	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].Sequence() < reqs[j].Sequence()
	})

	return reqs
}

// Pause asks the request to checkpoint and stop.
func (d *Dispatcher) Pause(id uuid.UUID) error {
	req, err := d.Get(id)
	if err != nil {
		return err
	}

	if req.Pause() {
		logger.Debugf("Pause requested for %s", id)
	}

	return nil
}

// Cancel stops the request. Its temp file and saved progress are removed
// once the run ends.
func (d *Dispatcher) Cancel(id uuid.UUID) error {
	req, err := d.Get(id)
	if err != nil {
		return err
	}

	if req.Cancel() {
		logger.Debugf("Cancel requested for %s", id)
	}

	return nil
}

func (d *Dispatcher) CancelAll() {
	for _, req := range d.Active() {
		req.Cancel()
	}
}

// Remove discards a download. An active one is cancelled, which purges it
// when its run ends; otherwise saved progress and the temp file go now.
func (d *Dispatcher) Remove(id uuid.UUID) error {
	if err := d.Cancel(id); err == nil {
		return nil
	}

	model, err := d.store.Find(id)
	if err != nil {
		if errors.Is(err, repository.ErrDownloadNotFound) {
			return ErrRequestNotFound
		}

		return err
	}

	d.purge(model.ID, model.Dir, model.Filename)

	return nil
}

// Resume resubmits a paused or failed request. Saved progress is picked
// up by the task.
func (d *Dispatcher) Resume(req *request.Request) (*request.Request, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	switch req.Status() {
	case status.Paused, status.Failed:
	default:
		return nil, ErrNotResumable
	}

	return d.Submit(req)
}

// Status reports the status of an active request. Otherwise a download
// with saved progress is reported as paused.
func (d *Dispatcher) Status(id uuid.UUID) status.Status {
	if req, err := d.Get(id); err == nil {
		return req.Status()
	}

	_, err := d.store.Find(id)
	if err == nil {
		return status.Paused
	}

	if !errors.Is(err, repository.ErrDownloadNotFound) {
		d.suppress("failed to read download model", id, err)
	}

	return status.Unknown
}

// CleanUp removes saved progress and temp files of downloads not touched
// within olderThan. Active downloads are skipped.
func (d *Dispatcher) CleanUp(olderThan time.Duration) (int, error) {
	models, err := d.store.FindOlderThan(time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	purged := 0

	for _, model := range models {
		if _, err := d.Get(model.ID); err == nil {
			continue
		}

		d.purge(model.ID, model.Dir, model.Filename)
		purged++
	}

	if purged > 0 {
		logger.Infof("Cleaned up %d stale downloads", purged)
	}

	return purged, nil
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	active := len(d.active)
	d.mu.Unlock()

	return Stats{
		Submitted:        d.submitted.Load(),
		Completed:        d.completed.Load(),
		Failed:           d.failed.Load(),
		Paused:           d.paused.Load(),
		Cancelled:        d.cancelled.Load(),
		Rejected:         d.rejected.Load(),
		SuppressedErrors: d.suppressed.Load(),
		Active:           active,
	}
}

// Shutdown stops accepting requests and pauses everything active so
// resumable downloads checkpoint. If ctx expires first, running transfers
// are aborted and ctx's error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}

	d.closed = true
	d.mu.Unlock()

	for _, req := range d.Active() {
		req.Pause()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		logger.Infof("Dispatcher shut down")

		return nil
	case <-ctx.Done():
		logger.Warnf("Shutdown timed out, aborting running downloads")
		d.cancel()
		<-done

		return ctx.Err()
	}
}
