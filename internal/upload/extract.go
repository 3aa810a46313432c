package upload

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/stefando/scormhost/internal/apperr"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// filenameDecoder returns a decoder for archive entry names in the named
// charset, or nil when names are to be taken as UTF-8.
func filenameDecoder(charset string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown filename encoding %q: %w", charset, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported filename encoding %q", charset)
	}
	return enc.NewDecoder(), nil
}

// entryName resolves the on-disk name for a zip entry. Names not flagged as
// UTF-8 are decoded when a decoder is configured; a failed decode keeps the
// raw bytes and the copy step later skips the file.
func entryName(f *zip.File, dec *encoding.Decoder) string {
	name := strings.ReplaceAll(f.Name, `\`, "/")
	if dec == nil || !f.NonUTF8 {
		return name
	}
	decoded, err := dec.String(name)
	if err != nil {
		return name
	}
	return decoded
}

// extractArchive unpacks the zip at archivePath into dir.
func extractArchive(fs afero.Fs, archivePath, dir string, dec *encoding.Decoder) error {
	f, err := fs.Open(archivePath)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, err, "failed to open staged archive")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperr.Wrap(apperr.KindIO, err, "failed to stat staged archive")
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return apperr.Wrap(apperr.KindArchiveCorrupt, err, "archive is not a readable zip file")
	}

	for _, zf := range zr.File {
		name := entryName(zf, dec)
		if !filepath.IsLocal(filepath.FromSlash(strings.TrimSuffix(name, "/"))) {
			return apperr.New(apperr.KindArchiveCorrupt, "archive entry escapes extraction directory: "+name)
		}
		target := filepath.Join(dir, filepath.FromSlash(name))

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return apperr.Wrap(apperr.KindIO, err, "failed to create directory "+name)
			}
		case mode&os.ModeSymlink != 0:
			// links could point outside the package
			continue
		default:
			if err := extractFile(fs, zf, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func extractFile(fs afero.Fs, zf *zip.File, target string) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return apperr.Wrap(apperr.KindIO, err, "failed to create directory for "+zf.Name)
	}

	src, err := zf.Open()
	if err != nil {
		return apperr.Wrap(apperr.KindArchiveCorrupt, err, "failed to open archive entry "+zf.Name)
	}
	defer src.Close()

	dst, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, err, "failed to create "+zf.Name)
	}

	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		// checksum and decompression failures surface here
		return apperr.Wrap(apperr.KindArchiveCorrupt, copyErr, "failed to extract "+zf.Name)
	}
	if closeErr != nil {
		return apperr.Wrap(apperr.KindIO, closeErr, "failed to write "+zf.Name)
	}
	return nil
}
