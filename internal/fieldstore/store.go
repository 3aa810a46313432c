// Package fieldstore persists per-learner status fields and per-block
// settings.
package fieldstore

import (
	"context"
	"time"
)

// Record holds the status fields of one learner in one content block.
type Record struct {
	RawStatus    string
	Initialized  bool
	LessonStatus string
	LessonScore  float64
	// Progress is the last published completion on a 0-100 scale.
	Progress float64
}

// NewRecord returns the fields of a learner who never opened the block.
func NewRecord() Record {
	return Record{RawStatus: "{}", LessonStatus: "not attempted"}
}

// Settings configure one content block.
type Settings struct {
	Weight         float64
	AutoCompletion bool
	// Encoding of archive entry names without the UTF-8 flag.
	Encoding    string
	PackageURL  string
	PackageName string
	UploadedAt  time.Time
}

// DefaultSettings are used for blocks nobody configured.
func DefaultSettings() Settings {
	return Settings{Weight: 1}
}

// Store reads and writes fields. Loading an absent record returns
// NewRecord(); loading absent settings returns DefaultSettings() and false.
type Store interface {
	LoadRecord(ctx context.Context, key, learner string) (Record, error)
	SaveRecord(ctx context.Context, key, learner string, rec Record) error
	LoadSettings(ctx context.Context, key string) (Settings, bool, error)
	SaveSettings(ctx context.Context, key string, s Settings) error
	// Learners lists everyone with a record in the block, sorted.
	Learners(ctx context.Context, key string) ([]string, error)
}
