// Package httpapi exposes content blocks over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stefando/scormhost/internal/apperr"
	"github.com/stefando/scormhost/internal/auth"
	"github.com/stefando/scormhost/internal/logging"
	"github.com/stefando/scormhost/internal/status"
	"github.com/stefando/scormhost/internal/storage"
	"github.com/stefando/scormhost/internal/upload"
)

// Options wire the router to its services.
type Options struct {
	Uploads *upload.Service
	Status  *status.Service
	Content storage.Store

	// Verifier checks bearer tokens. Without one every token is refused.
	Verifier auth.Verifier
	// AllowAnonymous lets learner traffic without a token through as
	// auth.Anonymous. Package management always needs a token.
	AllowAnonymous bool
	// MaxChunkBytes bounds one upload request body; 0 disables the limit.
	MaxChunkBytes int64
	// Static, when set, serves published packages under /static.
	Static http.Handler

	Logger *logging.Logger
}

type server struct {
	Options
}

// NewRouter creates and configures the chi router.
func NewRouter(opts Options) *chi.Mux {
	s := &server{Options: opts}
	if s.Verifier == nil {
		s.Verifier = auth.NoVerifier{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.Static != nil {
		r.Mount("/static", http.StripPrefix("/static", s.Static))
	}

	r.Route("/blocks/{key:[A-Za-z0-9_.-]+}", func(r chi.Router) {
		r.Use(s.requireKey)

		r.Get("/upload/status", s.handleUploadStatus)
		r.Get("/content/*", s.handleContent)

		// package management and reporting
		r.Group(func(r chi.Router) {
			r.Use(auth.LearnerMiddleware(s.Verifier, false, s.Logger))
			r.Post("/upload", s.handleUpload)
			r.Get("/report", s.handleReport)
		})

		// learner traffic
		r.Group(func(r chi.Router) {
			r.Use(auth.LearnerMiddleware(s.Verifier, s.AllowAnonymous, s.Logger))
			r.Get("/status", s.handleGetStatus)
			r.Post("/status", s.handleSetStatus)
			r.Get("/completion", s.handleCompletion)
			r.Post("/scorm/get_value", s.handleGetValue)
			r.Post("/scorm/set_value", s.handleSetValue)
		})
	})

	return r
}

func (s *server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !upload.ValidKey(chi.URLParam(r, "key")) {
			writeError(w, apperr.New(apperr.KindInvalidKey, "invalid content key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func learner(r *http.Request) string {
	l, ok := auth.GetLearner(r.Context())
	if !ok {
		return auth.Anonymous
	}
	return l
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the error envelope with a status code for its kind.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusCode(apperr.KindOf(err)), map[string]string{
		"status":  "error",
		"message": apperr.MessageOf(err),
	})
}

func statusCode(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidRange, apperr.KindArchiveCorrupt, apperr.KindMalformedStatus, apperr.KindInvalidKey:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPrecondition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
