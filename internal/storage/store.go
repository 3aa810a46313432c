// Package storage abstracts the durable content store extracted packages are
// migrated into.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNotExist is returned by Open for objects that are not stored.
var ErrNotExist = errors.New("object does not exist")

// ErrNoDeleteCapability is returned by ClearTree for stores that declare
// neither TreeRemover nor PrefixDeleter.
var ErrNoDeleteCapability = errors.New("store cannot delete content")

// Store is the durable content store. Names are slash separated and
// relative to the store root.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Save(ctx context.Context, name string, r io.Reader, size int64) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// URL returns the address the named object or prefix is served from.
	// It may carry a query string (presigned URLs).
	URL(ctx context.Context, name string) (string, error)
}

// TreeRemover is implemented by stores that can delete a whole prefix in
// one operation.
type TreeRemover interface {
	RemoveTree(ctx context.Context, prefix string) error
}

// PrefixDeleter is implemented by stores that can enumerate a prefix and
// delete objects one by one.
type PrefixDeleter interface {
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// BatchDeleter is an optional PrefixDeleter extension deleting many objects
// per request.
type BatchDeleter interface {
	DeleteBatch(ctx context.Context, names []string) error
}

// ClearTree removes everything stored under prefix, using whichever delete
// capability the store declares. Recursive removal is preferred.
func ClearTree(ctx context.Context, s Store, prefix string) error {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return fmt.Errorf("refusing to clear the store root")
	}

	if tr, ok := s.(TreeRemover); ok {
		return tr.RemoveTree(ctx, prefix)
	}

	pd, ok := s.(PrefixDeleter)
	if !ok {
		return ErrNoDeleteCapability
	}

	names, err := pd.ListPrefix(ctx, prefix+"/")
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	if bd, ok := s.(BatchDeleter); ok {
		return bd.DeleteBatch(ctx, names)
	}
	for _, name := range names {
		if err := pd.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
	}
	return nil
}

// ContentType guesses a content type from the file extension, falling back to
// sniffing head when the extension is unknown.
func ContentType(name string, head []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	if len(head) > 0 {
		return mimetype.Detect(head).String()
	}
	return "application/octet-stream"
}

// sniffLen is how much of a body is read to detect its content type.
const sniffLen = 3072

// peek reads the first bytes of r for content sniffing and returns a reader
// that still yields the whole stream.
func peek(r io.Reader) ([]byte, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	head = head[:n]
	return head, io.MultiReader(bytes.NewReader(head), r), nil
}
