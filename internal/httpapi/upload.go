package httpapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stefando/scormhost/internal/apperr"
	"github.com/stefando/scormhost/internal/storage"
	"github.com/stefando/scormhost/internal/upload"
)

// uploadField is the multipart field carrying the archive bytes.
const uploadField = "scorm_file"

type uploadedFile struct {
	Size int64 `json:"size"`
}

// handleUpload accepts one chunk of a package archive. The body is streamed
// to the staging file without buffering the whole part.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	ctx := r.Context()

	if s.MaxChunkBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxChunkBytes)
	}

	part, err := filePart(r)
	if err != nil {
		_ = s.Uploads.ClearProgress(ctx, key)
		writeError(w, err)
		return
	}
	defer part.Close()

	settings, err := s.Status.Settings(ctx, key)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.Uploads.Upload(ctx, upload.Request{
		Key:          key,
		ContentRange: r.Header.Get("Content-Range"),
		Body:         part,
		Charset:      settings.Encoding,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if res.State == upload.StateProgress {
		writeJSON(w, http.StatusOK, map[string]any{"files": []uploadedFile{{Size: res.Size}}})
		return
	}

	if err := s.Status.RecordPackage(ctx, key, res.URL, part.FileName(), time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// filePart advances the multipart reader to the archive field.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, err, "expected a multipart upload")
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, apperr.New(apperr.KindIO, "missing "+uploadField+" field")
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIO, err, "failed to read upload")
		}
		if part.FormName() == uploadField {
			return part, nil
		}
		_ = part.Close()
	}
}

func (s *server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	percent, state, err := s.Uploads.QueryPercent(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindIO, err, "failed to read upload progress"))
		return
	}
	s.Logger.Debug("Upload percentage", "key", chi.URLParam(r, "key"), "progress", percent, "state", state)
	writeJSON(w, http.StatusOK, map[string]any{"progress": percent, "state": state})
}

// handleContent serves a file of the published package.
func (s *server) handleContent(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	name := path.Join(s.Uploads.Destination(key), path.Clean("/"+chi.URLParam(r, "*")))

	rc, err := s.Content.Open(r.Context(), name)
	if errors.Is(err, storage.ErrNotExist) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "Did not exist in storage: "+name)
		return
	}
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStorage, err, "failed to open content"))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.ContentType(name, nil))
	if _, err := io.Copy(w, rc); err != nil {
		s.Logger.Warn("Content copy interrupted", "name", name, "error", err)
	}
}
