package status

import (
	"context"

	"github.com/stefando/scormhost/internal/logging"
	"github.com/stefando/scormhost/internal/scorm"
)

// Publisher delivers grade and completion events to the host.
type Publisher interface {
	PublishGrade(ctx context.Context, key, learner string, grade scorm.Grade) error
	// PublishCompletion sends completion on a 0-100 scale.
	PublishCompletion(ctx context.Context, key, learner string, completion float64) error
}

// LogPublisher writes events to the log.
type LogPublisher struct {
	logger *logging.Logger
}

// NewLogPublisher returns a publisher that writes events to logger.
func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// PublishGrade logs the grade for the learner.
func (p *LogPublisher) PublishGrade(_ context.Context, key, learner string, grade scorm.Grade) error {
	p.logger.Info("grade", "key", key, "learner", learner, "value", grade.Value, "max_value", grade.MaxValue)
	return nil
}

// PublishCompletion logs the completion percentage for the learner.
func (p *LogPublisher) PublishCompletion(_ context.Context, key, learner string, completion float64) error {
	p.logger.Info("completion", "key", key, "learner", learner, "completion", completion)
	return nil
}
