package task_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/rdm/internal/progress"
	"github.com/NamanBalaji/rdm/internal/repository"
	"github.com/NamanBalaji/rdm/internal/request"
	httpPkg "github.com/NamanBalaji/rdm/pkg/http"
)

func randomContent(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

// rangeServer serves content with range support and records every Range
// header it receives.
type rangeServer struct {
	*httptest.Server

	mu      sync.Mutex
	ranges  []string
	etag    string
	content []byte
	onHit   func(n int)
}

func newRangeServer(t *testing.T, content []byte, etag string) *rangeServer {
	t.Helper()

	rs := &rangeServer{content: content, etag: etag}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.ranges = append(rs.ranges, r.Header.Get("Range"))
		hits := len(rs.ranges)
		hook := rs.onHit
		rs.mu.Unlock()

		if hook != nil {
			hook(hits)
		}

		if rs.etag != "" {
			w.Header().Set("ETag", rs.etag)
		}

		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(rs.content))
	}))
	t.Cleanup(rs.Close)

	return rs
}

func (rs *rangeServer) Ranges() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return append([]string(nil), rs.ranges...)
}

// memStore is an in-memory progress store.
type memStore struct {
	mu      sync.Mutex
	models  map[uuid.UUID]repository.DownloadModel
	updates []int64
	removes int
}

func newMemStore() *memStore {
	return &memStore{models: make(map[uuid.UUID]repository.DownloadModel)}
}

func (s *memStore) Find(id uuid.UUID) (*repository.DownloadModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return nil, repository.ErrDownloadNotFound
	}

	return &m, nil
}

func (s *memStore) Insert(model *repository.DownloadModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.models[model.ID] = *model

	return nil
}

func (s *memStore) UpdateProgress(id uuid.UUID, downloaded int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return repository.ErrDownloadNotFound
	}

	m.DownloadedBytes = downloaded
	m.LastModifiedAt = at
	s.models[id] = m
	s.updates = append(s.updates, downloaded)

	return nil
}

func (s *memStore) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[id]; !ok {
		return repository.ErrDownloadNotFound
	}

	delete(s.models, id)
	s.removes++

	return nil
}

func (s *memStore) Has(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.models[id]

	return ok
}

func (s *memStore) Updates() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]int64(nil), s.updates...)
}

// recorder captures listener events in delivery order.
type recorder struct {
	mu       sync.Mutex
	events   []string
	progress []progress.Progress
	err      error

	onProgress func(p progress.Progress)
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) OnStart() { r.add("start") }
func (r *recorder) OnPause() { r.add("pause") }
func (r *recorder) OnCancel() { r.add("cancel") }
func (r *recorder) OnComplete() { r.add("complete") }

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.add("error")
}

func (r *recorder) OnProgress(p progress.Progress) {
	r.mu.Lock()
	r.progress = append(r.progress, p)
	hook := r.onProgress
	r.mu.Unlock()

	if hook != nil {
		hook(p)
	}
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.events...)
}

func (r *recorder) Progress() []progress.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]progress.Progress(nil), r.progress...)
}

func newRequest(t *testing.T, url, dir string, l request.Listener) *request.Request {
	t.Helper()

	req, err := request.New(url, dir, "file.bin", request.WithListener(l))
	require.NoError(t, err)

	return req
}

func writeTemp(t *testing.T, req *request.Request, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(req.TempPath(), data, 0o644))
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)

	return info.Size()
}

// fakeConn is a scripted connection.
type fakeConn struct {
	code    int
	headers map[string]string
	length  int64
	body    io.ReadCloser
}

func (c *fakeConn) ResponseCode() int { return c.code }
func (c *fakeConn) Header(name string) string { return c.headers[name] }
func (c *fakeConn) ContentLength() int64 { return c.length }
func (c *fakeConn) Body() io.ReadCloser { return c.body }
func (c *fakeConn) Close() error { return c.body.Close() }

type fakeTransport struct {
	mu      sync.Mutex
	calls   []httpPkg.ConnectOptions
	connect func(opts httpPkg.ConnectOptions) (httpPkg.Connection, error)
}

func (f *fakeTransport) Connect(_ context.Context, opts httpPkg.ConnectOptions) (httpPkg.Connection, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()

	return f.connect(opts)
}

func (f *fakeTransport) Calls() []httpPkg.ConnectOptions {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]httpPkg.ConnectOptions(nil), f.calls...)
}

// chunkReader returns size-byte chunks and calls tick after each one.
type chunkReader struct {
	data []byte
	size int
	tick func()
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}

	n := min(c.size, len(p), len(c.data))
	copy(p, c.data[:n])
	c.data = c.data[n:]

	if c.tick != nil {
		c.tick()
	}

	return n, nil
}

func (c *chunkReader) Close() error { return nil }

// fakeClock is advanced by tests; Now is safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
