package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/stefando/scormhost/internal/apperr"
	"github.com/stefando/scormhost/internal/scorm"
)

func (s *server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := s.Status.Raw(r.Context(), chi.URLParam(r, "key"), learner(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write([]byte(raw))
}

// handleSetStatus stores a submitted status document; the response is the
// stored document encoded as a JSON string.
func (s *server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	data := r.FormValue("data")
	if data == "" {
		writeError(w, apperr.New(apperr.KindMalformedStatus, "missing data field"))
		return
	}

	stored, err := s.Status.Submit(r.Context(), chi.URLParam(r, "key"), learner(r), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	c, err := s.Status.Completion(r.Context(), chi.URLParam(r, "key"), learner(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"completion": c})
}

// apiCall decodes a direct runtime API request, e.g.
// {"name":"cmi.core.score.raw","value":80}.
func apiCall(r *http.Request) (name, value string, err error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return "", "", apperr.Wrap(apperr.KindMalformedStatus, err, "invalid runtime API request")
	}
	return scorm.Lookup(body, "name", ""), scorm.Lookup(body, "value", ""), nil
}

func (s *server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	name, _, err := apiCall(r)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.Status.GetValue(r.Context(), chi.URLParam(r, "key"), learner(r), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": v})
}

func (s *server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	name, value, err := apiCall(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.Status.SetValue(r.Context(), chi.URLParam(r, "key"), learner(r), name, value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperr.New(apperr.KindPrecondition, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	rows, err := s.Status.Report(r.Context(), chi.URLParam(r, "key"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
