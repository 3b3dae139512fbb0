package cli_test

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rdmcli "github.com/NamanBalaji/rdm/internal/cli"
	"github.com/NamanBalaji/rdm/internal/repository"
	"github.com/NamanBalaji/rdm/internal/request"
)

type testEnv struct {
	dir    string
	dbPath string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	te := &testEnv{
		dir:    filepath.Join(root, "downloads"),
		dbPath: filepath.Join(root, "data", "rdm.db"),
		config: filepath.Join(root, "rdm.yaml"),
	}

	cfg := fmt.Sprintf("dir: %s\ndatabase: %s\nlog: %s\ncleanupAfter: 24h\n",
		te.dir, te.dbPath, filepath.Join(root, "rdm.log"))
	require.NoError(t, os.WriteFile(te.config, []byte(cfg), 0o644))

	return te
}

func (te *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	app := rdmcli.NewApp()
	app.Writer = &out
	app.ErrWriter = io.Discard

	err := app.Run(append([]string{"rdm", "--config", te.config}, args...))

	return out.String(), err
}

func (te *testEnv) seed(t *testing.T, models ...*repository.DownloadModel) {
	t.Helper()

	store, err := repository.NewBboltRepository(te.dbPath)
	require.NoError(t, err)
	defer store.Close()

	for _, m := range models {
		require.NoError(t, store.Insert(m))
	}
}

func (te *testEnv) find(t *testing.T, req *request.Request) (*repository.DownloadModel, error) {
	t.Helper()

	store, err := repository.NewBboltRepository(te.dbPath)
	require.NoError(t, err)
	defer store.Close()

	return store.Find(req.ID())
}

func partial(t *testing.T, te *testEnv, url, name string, age time.Duration) *request.Request {
	t.Helper()

	req, err := request.New(url, te.dir, name)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(te.dir, 0o755))
	require.NoError(t, os.WriteFile(req.TempPath(), make([]byte, 512), 0o644))

	te.seed(t, &repository.DownloadModel{
		ID:              req.ID(),
		URL:             url,
		Dir:             te.dir,
		Filename:        name,
		TotalBytes:      2048,
		DownloadedBytes: 512,
		LastModifiedAt:  time.Now().Add(-age),
	})

	return req
}

func TestGet_DownloadsFiles(t *testing.T) {
	content := strings.Repeat("rdm", 20000)

	var gotHeader atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get("X-Token"))
		http.ServeContent(w, r, "f", time.Time{}, strings.NewReader(content))
	}))
	defer srv.Close()

	te := newTestEnv(t)

	out, err := te.run(t, "get", "--quiet", "-H", "X-Token: secret", srv.URL+"/files/a.bin", srv.URL+"/files/b.bin")
	require.NoError(t, err)

	for _, name := range []string{"a.bin", "b.bin"} {
		data, err := os.ReadFile(filepath.Join(te.dir, name))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
		assert.Contains(t, out, "Saved "+filepath.Join(te.dir, name))
	}

	assert.Equal(t, "secret", gotHeader.Load())
}

func TestGet_WithNameAndDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f", time.Time{}, strings.NewReader("hello"))
	}))
	defer srv.Close()

	te := newTestEnv(t)
	dir := t.TempDir()

	_, err := te.run(t, "get", "--quiet", "--dir", dir, "--name", "greeting.txt", srv.URL+"/x")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestGet_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"name with several urls", []string{"get", "--name", "x", "http://a/1", "http://a/2"}, "--name"},
		{"bad header", []string{"get", "-H", "nocolon", "http://a/1"}, "invalid header"},
		{"bad url", []string{"get", "ftp://a/1"}, "invalid URL"},
		{"server error", []string{"get", "--quiet", srv.URL + "/missing.bin"}, "404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEnv(t)

			_, err := te.run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestList(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No unfinished downloads")

	req := partial(t, te, "http://example.com/big.iso", "big.iso", time.Hour)

	out, err = te.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, req.ID().String())
	assert.Contains(t, out, "big.iso")
	assert.Contains(t, out, "512 B / 2.0 kB (25.0%)")
}

func TestStatus(t *testing.T) {
	te := newTestEnv(t)
	req := partial(t, te, "http://example.com/big.iso", "big.iso", time.Hour)

	out, err := te.run(t, "status", req.ID().String())
	require.NoError(t, err)
	assert.Contains(t, out, req.ID().String()+": Paused")
	assert.Contains(t, out, "http://example.com/big.iso")

	other, err := request.New("http://example.com/none", te.dir, "none")
	require.NoError(t, err)

	out, err = te.run(t, "status", other.ID().String())
	require.NoError(t, err)
	assert.Contains(t, out, ": Unknown")

	_, err = te.run(t, "status", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid download id")
}

func TestRemove(t *testing.T) {
	te := newTestEnv(t)
	req := partial(t, te, "http://example.com/big.iso", "big.iso", time.Hour)

	out, err := te.run(t, "remove", req.ID().String())
	require.NoError(t, err)
	assert.Contains(t, out, "Removed "+req.ID().String())
	assert.NoFileExists(t, req.TempPath())

	_, err = te.find(t, req)
	assert.ErrorIs(t, err, repository.ErrDownloadNotFound)

	_, err = te.run(t, "remove", req.ID().String())
	assert.ErrorContains(t, err, "no download with id")
}

func TestCleanup(t *testing.T) {
	te := newTestEnv(t)
	stale := partial(t, te, "http://example.com/old.iso", "old.iso", 72*time.Hour)
	fresh := partial(t, te, "http://example.com/new.iso", "new.iso", time.Minute)

	out, err := te.run(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 stale downloads")
	assert.NoFileExists(t, stale.TempPath())
	assert.FileExists(t, fresh.TempPath())

	out, err = te.run(t, "cleanup", "--days", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 stale downloads")
	assert.NoFileExists(t, fresh.TempPath())
}
