package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/stefando/scormhost/internal/apperr"
)

// Receiver accumulates chunks of an upload in a per-key staging file.
//
// Chunks are written in arrival order. Contiguity is not checked: clients
// must send chunks of one key sequentially, starting over at byte 0.
type Receiver struct {
	fs  afero.Fs
	dir string
}

// NewReceiver stages uploads under dir.
func NewReceiver(fs afero.Fs, dir string) *Receiver {
	return &Receiver{fs: fs, dir: dir}
}

// StagingPath is the staging file for key.
func (r *Receiver) StagingPath(key string) string {
	return filepath.Join(r.dir, "scorm-upload-"+key+".zip")
}

// AppendChunk writes body into the staging file for key, truncating it first
// when the chunk starts at byte 0. It returns the staging file size after
// the write.
func (r *Receiver) AppendChunk(key string, rng Range, body io.Reader) (int64, error) {
	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "failed to create staging directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if rng.Start == 0 {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	p := r.StagingPath(key)
	f, err := r.fs.OpenFile(p, flags, 0o600)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "failed to open staging file")
	}

	_, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr != nil {
		return 0, apperr.Wrap(apperr.KindIO, copyErr, "failed to write chunk")
	}
	if closeErr != nil {
		return 0, apperr.Wrap(apperr.KindIO, closeErr, "failed to close staging file")
	}

	info, err := r.fs.Stat(p)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "failed to stat staging file")
	}
	return info.Size(), nil
}

// Discard removes the staging file for key. A missing file is not an error.
func (r *Receiver) Discard(key string) error {
	err := r.fs.Remove(r.StagingPath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove staging file: %w", err)
	}
	return nil
}
