package upload

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stefando/scormhost/internal/logging"
	"github.com/stefando/scormhost/internal/storage"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name    string
	body    string
	nonUTF8 bool
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate, NonUTF8: e.nonUTF8})
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func stage(t *testing.T, fs afero.Fs, p string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, p, data, 0o600))
}

// recordingProgress remembers every percentage written.
type recordingProgress struct {
	*MemoryProgressStore
	mu     sync.Mutex
	writes []int
}

func newRecordingProgress() *recordingProgress {
	return &recordingProgress{MemoryProgressStore: NewMemoryProgressStore(DefaultProgressTTL)}
}

func (p *recordingProgress) Set(ctx context.Context, key string, percent int) error {
	p.mu.Lock()
	p.writes = append(p.writes, percent)
	p.mu.Unlock()
	return p.MemoryProgressStore.Set(ctx, key, percent)
}

func (p *recordingProgress) Writes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.writes...)
}

// signedStore appends a signature query to every URL.
type signedStore struct {
	*storage.LocalStore
}

func (s signedStore) URL(ctx context.Context, name string) (string, error) {
	u, err := s.LocalStore.URL(ctx, name)
	return u + "?X-Amz-Signature=abc&X-Amz-Expires=3600", err
}

// flakyStore fails saves for the named objects.
type flakyStore struct {
	storage.Store
	fail map[string]bool
}

func (s flakyStore) Save(ctx context.Context, name string, r io.Reader, size int64) error {
	if s.fail[name] {
		return errors.New("connection reset")
	}
	return s.Store.Save(ctx, name, r, size)
}

type fixture struct {
	fs       afero.Fs
	content  *storage.LocalStore
	progress *recordingProgress
	logger   *logging.Logger
	migrator *Migrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	f := &fixture{
		fs:       fs,
		content:  storage.NewLocalStore(fs, "/content", "https://cdn.example.com"),
		progress: newRecordingProgress(),
		logger:   logging.NewTestLogger(),
	}
	f.migrator = NewMigrator(fs, "/scratch", f.content, f.progress, "scorms", f.logger)
	return f
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	rc, err := f.content.Open(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}
