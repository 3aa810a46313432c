package upload

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stefando/scormhost/internal/apperr"
	"github.com/stefando/scormhost/internal/logging"
	"github.com/stefando/scormhost/internal/storage"
)

// ManifestName marks the root of an extracted SCORM package.
const ManifestName = "imsmanifest.xml"

// Migrator moves a staged archive into the content store.
type Migrator struct {
	fs         afero.Fs
	scratchDir string
	store      storage.Store
	progress   ProgressStore
	prefix     string
	logger     *logging.Logger
}

// NewMigrator extracts under scratchDir on fs and publishes into store below
// prefix (one subtree per content key).
func NewMigrator(fs afero.Fs, scratchDir string, store storage.Store, progress ProgressStore, prefix string, logger *logging.Logger) *Migrator {
	return &Migrator{
		fs:         fs,
		scratchDir: scratchDir,
		store:      store,
		progress:   progress,
		prefix:     strings.Trim(prefix, "/"),
		logger:     logger,
	}
}

// Destination is the store prefix holding the package for key.
func (m *Migrator) Destination(key string) string {
	return path.Join(m.prefix, key)
}

type scratchFile struct {
	path string // on fs
	rel  string // slash separated, relative to the package root
	size int64
}

// Migrate extracts the archive at stagingPath and copies every file into the
// store under Destination(key), reporting progress as bytes are copied.
// charset names the encoding of entry names lacking the UTF-8 flag.
//
// Failures on individual files are logged and skipped. The returned URL has
// any query string removed.
func (m *Migrator) Migrate(ctx context.Context, key, stagingPath, charset string) (string, error) {
	logger := m.logger.With("key", key, "migration_id", uuid.NewString())
	dest := m.Destination(key)

	m.setProgress(ctx, logger, key, 0)

	if err := m.fs.MkdirAll(m.scratchDir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindIO, err, "failed to create scratch directory")
	}
	scratch, err := afero.TempDir(m.fs, m.scratchDir, "scorm-extract-")
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, err, "failed to create scratch directory")
	}
	defer m.cleanup(logger, scratch, stagingPath)

	dec, err := filenameDecoder(charset)
	if err != nil {
		logger.Warn("Falling back to UTF-8 file names", "error", err)
	}

	if err := extractArchive(m.fs, stagingPath, scratch, dec); err != nil {
		return "", err
	}

	files, total, err := m.listFiles(scratch)
	if err != nil {
		return "", err
	}
	logger.Info("Extracted package", "files", len(files), "size", humanize.Bytes(uint64(total)))

	exists, err := m.store.Exists(ctx, path.Join(dest, ManifestName))
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, err, "failed to check for an existing package")
	}
	if exists {
		logger.Info("Removing previous package", "prefix", dest)
		if err := storage.ClearTree(ctx, m.store, dest); err != nil {
			return "", apperr.Wrap(apperr.KindStorage, err, "failed to remove previous package")
		}
	}

	var copied int64
	stored := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", apperr.Wrap(apperr.KindStorage, err, "migration interrupted")
		}

		if err := m.copyFile(ctx, path.Join(dest, f.rel), f); err != nil {
			logger.Warn("Skipping file", "file", f.rel, "error", err)
			continue
		}
		stored++
		copied += f.size
		if total > 0 {
			m.setProgress(ctx, logger, key, int(copied*100/total))
		}
	}
	m.setProgress(ctx, logger, key, 100)

	url, err := m.store.URL(ctx, dest)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, err, "failed to resolve package URL")
	}

	logger.Info("Package stored",
		"stored", stored,
		"skipped", len(files)-stored,
		"copied", humanize.Bytes(uint64(copied)))
	return TrimQuery(url), nil
}

// listFiles walks the extracted tree and sums the size of every regular file.
func (m *Migrator) listFiles(root string) ([]scratchFile, int64, error) {
	var (
		files []scratchFile
		total int64
	)
	err := afero.Walk(m.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, scratchFile{path: p, rel: filepath.ToSlash(rel), size: info.Size()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindIO, err, "failed to enumerate extracted files")
	}
	return files, total, nil
}

var errNameEncoding = errors.New("file name is not valid UTF-8")

func (m *Migrator) copyFile(ctx context.Context, name string, f scratchFile) error {
	if !utf8.ValidString(f.rel) {
		return errNameEncoding
	}
	src, err := m.fs.Open(f.path)
	if err != nil {
		return err
	}
	defer src.Close()
	return m.store.Save(ctx, name, src, f.size)
}

// setProgress records progress. Progress is advisory, so failures are only
// logged.
func (m *Migrator) setProgress(ctx context.Context, logger *logging.Logger, key string, percent int) {
	if err := m.progress.Set(ctx, key, percent); err != nil {
		logger.Warn("Failed to record progress", "percent", percent, "error", err)
	}
}

func (m *Migrator) cleanup(logger *logging.Logger, scratch, stagingPath string) {
	if err := m.fs.RemoveAll(scratch); err != nil {
		logger.Warn("Failed to remove scratch directory", "dir", scratch, "error", err)
	}
	if err := m.fs.Remove(stagingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove staging file", "file", stagingPath, "error", err)
	}
}

// TrimQuery drops everything from the first '?' on.
func TrimQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
