package upload

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"

	"github.com/stefando/scormhost/internal/apperr"
	"github.com/stefando/scormhost/internal/logging"
)

// State is the outcome of one upload request.
type State string

const (
	StateProgress State = "PROGRESS"
	StateComplete State = "COMPLETE"
)

// Phase is where an upload for a key currently stands.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseReceiving  Phase = "receiving"
	PhaseExtracting Phase = "extracting"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

var keyRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidKey reports whether key can name a content block. Keys become path
// segments, so separators and dot-only names are refused.
func ValidKey(key string) bool {
	return keyRe.MatchString(key) && key != "." && key != ".."
}

// Request is one upload request: a whole archive or one chunk of it.
type Request struct {
	Key          string
	ContentRange string
	Body         io.Reader
	// Charset of archive entry names without the UTF-8 flag.
	Charset string
}

// Result describes an accepted upload request.
type Result struct {
	State State
	// Size of the staging file after this chunk.
	Size int64
	// URL of the published package, set when State is StateComplete.
	URL string
}

// Service accepts chunked archive uploads and publishes completed archives.
// Requests for the same key are serialized; different keys never contend.
type Service struct {
	receiver *Receiver
	migrator *Migrator
	progress ProgressStore
	logger   *logging.Logger

	locks keyLocks

	mu         sync.Mutex
	phases     map[string]Phase
	phaseLimit int
}

// DefaultPhaseLimit is how many keys Phase remembers before idle keys are
// forgotten.
const DefaultPhaseLimit = 1024

// NewService wires the upload pipeline.
func NewService(receiver *Receiver, migrator *Migrator, progress ProgressStore, logger *logging.Logger) *Service {
	return &Service{
		receiver: receiver,
		migrator: migrator,
		progress: progress,
		logger:   logger,
		phases:   make(map[string]Phase),

		phaseLimit: DefaultPhaseLimit,
	}
}

// Upload writes one chunk and, when it is the final one, migrates the staged
// archive into the content store.
func (s *Service) Upload(ctx context.Context, req Request) (Result, error) {
	if !ValidKey(req.Key) {
		return Result{}, apperr.New(apperr.KindInvalidKey, "invalid content key").WithKey(req.Key)
	}
	logger := s.logger.With("key", req.Key)

	unlock := s.locks.lock(req.Key)
	defer unlock()

	rng, err := ParseRange(req.ContentRange)
	if err != nil {
		return Result{}, s.fail(ctx, logger, req.Key, err)
	}

	s.setPhase(req.Key, PhaseReceiving)
	size, err := s.receiver.AppendChunk(req.Key, rng, req.Body)
	if err != nil {
		return Result{}, s.fail(ctx, logger, req.Key, err)
	}
	logger.Debug("Chunk stored", "start", rng.Start, "end", rng.End, "total", rng.Size, "staged", size)

	if !rng.Final() {
		return Result{State: StateProgress, Size: size}, nil
	}

	s.setPhase(req.Key, PhaseExtracting)
	url, err := s.migrator.Migrate(ctx, req.Key, s.receiver.StagingPath(req.Key), req.Charset)
	if err != nil {
		return Result{}, s.fail(ctx, logger, req.Key, err)
	}

	if err := s.progress.Clear(ctx, req.Key); err != nil {
		logger.Warn("Failed to clear upload progress", "error", err)
	}
	s.setPhase(req.Key, PhaseComplete)
	logger.Info("Upload complete", "url", url)
	return Result{State: StateComplete, Size: size, URL: url}, nil
}

// fail cleans up after a failed request and returns err as an *apperr.Error.
func (s *Service) fail(ctx context.Context, logger *logging.Logger, key string, err error) error {
	s.setPhase(key, PhaseFailed)
	if cerr := s.progress.Clear(ctx, key); cerr != nil {
		logger.Warn("Failed to clear upload progress", "error", cerr)
	}
	if derr := s.receiver.Discard(key); derr != nil {
		logger.Warn("Failed to discard staged upload", "error", derr)
	}
	logger.Error("Upload failed", "error", err)

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Wrap(apperr.KindIO, err, "upload failed")
	}
	if ae.Key == "" {
		ae = ae.WithKey(key)
	}
	return ae
}

// Destination is the store prefix the package for key is published under.
func (s *Service) Destination(key string) string {
	return s.migrator.Destination(key)
}

// QueryPercent reports migration progress for key.
func (s *Service) QueryPercent(ctx context.Context, key string) (int, ProgressState, error) {
	return s.progress.Get(ctx, key)
}

// ClearProgress drops any progress entry for key.
func (s *Service) ClearProgress(ctx context.Context, key string) error {
	return s.progress.Clear(ctx, key)
}

// Phase reports the last known phase of the upload for key.
func (s *Service) Phase(key string) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.phases[key]; ok {
		return p
	}
	return PhaseIdle
}

// setPhase records p for key. Past the limit, keys with no request in flight
// are dropped and report PhaseIdle again.
func (s *Service) setPhase(key string, p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[key] = p
	if len(s.phases) <= s.phaseLimit {
		return
	}
	for k := range s.phases {
		if k != key && !s.locks.busy(k) {
			delete(s.phases, k)
		}
	}
}

// keyLocks hands out one mutex per key, dropping it once nobody holds it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (l *keyLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*keyLock)
	}
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.Lock()
	return func() {
		kl.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocks) busy(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locks[key]
	return ok
}
