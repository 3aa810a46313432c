// Package status stores player status submissions and publishes the grade
// and completion they resolve to.
package status

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/stefando/scormhost/internal/apperr"
	"github.com/stefando/scormhost/internal/fieldstore"
	"github.com/stefando/scormhost/internal/logging"
	"github.com/stefando/scormhost/internal/scorm"
)

// Service handles status traffic for content blocks.
type Service struct {
	fields        fieldstore.Store
	publisher     Publisher
	logger        *logging.Logger
	defaultWeight float64
}

// NewService creates a status service. defaultWeight applies to blocks
// without saved settings.
func NewService(fields fieldstore.Store, publisher Publisher, logger *logging.Logger, defaultWeight float64) *Service {
	return &Service{
		fields:        fields,
		publisher:     publisher,
		logger:        logger,
		defaultWeight: defaultWeight,
	}
}

// Settings returns the settings of key, falling back to the default weight.
func (s *Service) Settings(ctx context.Context, key string) (fieldstore.Settings, error) {
	st, found, err := s.fields.LoadSettings(ctx, key)
	if err != nil {
		return fieldstore.Settings{}, apperr.Wrap(apperr.KindStorage, err, "failed to load block settings").WithKey(key)
	}
	if !found {
		st.Weight = s.defaultWeight
	}
	return st, nil
}

// RecordPackage notes a newly published package on the block. Settings are
// read again here so edits made while the archive was migrating survive.
func (s *Service) RecordPackage(ctx context.Context, key, url, name string, at time.Time) error {
	st, err := s.Settings(ctx, key)
	if err != nil {
		return err
	}
	st.PackageURL = url
	st.PackageName = name
	st.UploadedAt = at
	if err := s.fields.SaveSettings(ctx, key, st); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "failed to record package URL").WithKey(key)
	}
	return nil
}

func (s *Service) load(ctx context.Context, key, learner string) (fieldstore.Record, error) {
	rec, err := s.fields.LoadRecord(ctx, key, learner)
	if err != nil {
		return fieldstore.Record{}, apperr.Wrap(apperr.KindStorage, err, "failed to load status").WithKey(key)
	}
	return rec, nil
}

func (s *Service) save(ctx context.Context, key, learner string, rec fieldstore.Record) error {
	if err := s.fields.SaveRecord(ctx, key, learner, rec); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "failed to save status").WithKey(key)
	}
	return nil
}

// Submit stores a status document for learner and publishes the resulting
// grade and completion. The submission replaces the stored document as a
// whole; nothing is written when it does not parse. It returns the stored
// document.
func (s *Service) Submit(ctx context.Context, key, learner, data string) (string, error) {
	logger := s.logger.With("key", key, "learner", learner)

	doc, err := scorm.ParseDocument(data)
	if err != nil {
		return "", apperr.Wrap(apperr.KindMalformedStatus, err, "invalid status submission").WithKey(key)
	}

	settings, err := s.Settings(ctx, key)
	if err != nil {
		return "", err
	}
	rec, err := s.load(ctx, key, learner)
	if err != nil {
		return "", err
	}

	previous, err := scorm.ParseDocument(rec.RawStatus)
	if err != nil {
		logger.Warn("Ignoring unreadable stored status", "error", err)
		previous = nil
	}
	if seeded, ran := scorm.InitializeIfNeeded(previous, settings.Weight, rec.Initialized); ran {
		previous = seeded
		rec.Initialized = true
	}

	rollup := scorm.Rollup(doc)
	rec.RawStatus = data
	rec.LessonStatus = rollup.LessonStatus
	if rollup.HasScore {
		rec.LessonScore = rollup.LessonScore
	}

	grade, publishGrade := scorm.ResolveGrade(doc.Score(), settings.Weight)
	completion, publishCompletion := scorm.ResolveProgressEvent(previous, doc)
	if publishCompletion {
		rec.Progress = completion
	}

	if err := s.save(ctx, key, learner, rec); err != nil {
		return "", err
	}

	if publishGrade {
		s.publishGrade(ctx, logger, key, learner, grade)
	}
	if publishCompletion {
		s.publishCompletion(ctx, logger, key, learner, completion)
	}
	logger.Debug("Status stored", "status", rec.LessonStatus, "score", rec.LessonScore, "progress", rec.Progress)
	return rec.RawStatus, nil
}

// Raw returns the stored document of learner. Blocks with auto completion
// count as complete once launched, which is when the player reads it.
func (s *Service) Raw(ctx context.Context, key, learner string) (string, error) {
	rec, err := s.load(ctx, key, learner)
	if err != nil {
		return "", err
	}
	settings, err := s.Settings(ctx, key)
	if err != nil {
		return "", err
	}

	if settings.AutoCompletion {
		rec.Progress = 100
		if err := s.save(ctx, key, learner, rec); err != nil {
			return "", err
		}
		s.publishCompletion(ctx, s.logger.With("key", key, "learner", learner), key, learner, 100)
	}
	return rec.RawStatus, nil
}

// Completion returns the last published completion of learner.
func (s *Service) Completion(ctx context.Context, key, learner string) (float64, error) {
	rec, err := s.load(ctx, key, learner)
	if err != nil {
		return 0, err
	}
	return rec.Progress, nil
}

// GetValue answers a direct runtime API read. Only the lesson status is
// served; any other element reads as "".
func (s *Service) GetValue(ctx context.Context, key, learner, name string) (string, error) {
	if name != scorm.KeyLessonStatus {
		return "", nil
	}
	rec, err := s.load(ctx, key, learner)
	if err != nil {
		return "", err
	}
	return rec.LessonStatus, nil
}

// SetValue applies a direct runtime API write and returns the response
// fields. Setting the lesson status republishes the grade from the stored
// lesson score; "completed" is ignored since only submissions may set it.
func (s *Service) SetValue(ctx context.Context, key, learner, name, value string) (map[string]any, error) {
	resp := map[string]any{"result": "success"}

	switch name {
	case scorm.KeyLessonStatus:
		if value == "completed" {
			return resp, nil
		}
		rec, err := s.load(ctx, key, learner)
		if err != nil {
			return nil, err
		}
		settings, err := s.Settings(ctx, key)
		if err != nil {
			return nil, err
		}
		rec.LessonStatus = value
		if err := s.save(ctx, key, learner, rec); err != nil {
			return nil, err
		}
		grade, _ := scorm.ResolveGrade(strconv.FormatFloat(rec.LessonScore, 'f', -1, 64), settings.Weight)
		s.publishGrade(ctx, s.logger.With("key", key, "learner", learner), key, learner, grade)
		resp["lesson_score"] = rec.LessonScore

	case scorm.KeyScoreRaw:
		score, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindMalformedStatus, err, "invalid score").WithKey(key)
		}
		rec, err := s.load(ctx, key, learner)
		if err != nil {
			return nil, err
		}
		rec.LessonScore = score
		if err := s.save(ctx, key, learner, rec); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// ReportEntry is one row of the learner response report.
type ReportEntry struct {
	Learner string `json:"username"`
	scorm.ReportRow
}

// Report lists the answered interactions of every learner in key, at most
// limit rows when limit is positive.
func (s *Service) Report(ctx context.Context, key string, limit int) ([]ReportEntry, error) {
	learners, err := s.fields.Learners(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "failed to list learners").WithKey(key)
	}

	entries := []ReportEntry{}
	for _, learner := range learners {
		rec, err := s.load(ctx, key, learner)
		if err != nil {
			return nil, err
		}
		doc, err := scorm.ParseDocument(rec.RawStatus)
		if err != nil {
			s.logger.Warn("Skipping unreadable status in report", "key", key, "learner", learner, "error", err)
			continue
		}
		for _, row := range scorm.InteractionReport(doc) {
			if limit > 0 && len(entries) >= limit {
				return entries, nil
			}
			entries = append(entries, ReportEntry{Learner: learner, ReportRow: row})
		}
	}
	return entries, nil
}

// Publish failures are logged; the status is already stored by then.
func (s *Service) publishGrade(ctx context.Context, logger *logging.Logger, key, learner string, grade scorm.Grade) {
	if err := s.publisher.PublishGrade(ctx, key, learner, grade); err != nil {
		logger.Error("Failed to publish grade", "error", err)
	}
}

func (s *Service) publishCompletion(ctx context.Context, logger *logging.Logger, key, learner string, completion float64) {
	if err := s.publisher.PublishCompletion(ctx, key, learner, completion); err != nil {
		logger.Error("Failed to publish completion", "error", err)
	}
}
