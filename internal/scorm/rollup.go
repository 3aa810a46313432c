package scorm

import (
	"errors"
	"strconv"
	"strings"
)

// MaxScore is the raw score a SCO reports for full marks.
const MaxScore = 100.0

// ErrNoScos is returned when a score rollup is asked of a document without
// SCOs. Callers are expected to check first.
var ErrNoScos = errors.New("status document has no SCOs")

// completionStatuses are lesson statuses that mean the learner is done,
// whatever the outcome.
var completionStatuses = map[string]bool{
	"completed": true,
	"complete":  true,
	"passed":    true,
	"failed":    true,
}

// IsCompletionStatus reports whether status ends the lesson.
func IsCompletionStatus(status string) bool {
	return completionStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// Grade is a score scaled to the activity weight.
type Grade struct {
	Value    float64 `json:"value"`
	MaxValue float64 `json:"max_value"`
}

// RollupResult is what one submission resolves to.
type RollupResult struct {
	LessonScore float64
	// HasScore is false when the document has no SCOs to average.
	HasScore bool
	// ProgressMeasure on a 0-100 scale.
	ProgressMeasure float64
	LessonStatus    string
}

// InitializeIfNeeded seeds every SCO of a document that has not been
// initialized yet: the credit flag is set where missing and the lesson status
// is reset to "not attempted". It returns a copy and whether seeding ran.
// Seeding twice yields the same document.
func InitializeIfNeeded(doc Document, weight float64, initialized bool) (Document, bool) {
	if initialized {
		return doc, false
	}

	credit := "no-credit"
	if weight > 0 {
		credit = "credit"
	}

	out := doc.Clone()
	if out == nil {
		out = Document{}
	}
	for _, id := range out.SCOIDs() {
		sco := out.SCO(id)
		if Lookup(sco, KeyCredit, "") == "" {
			sco[KeyCredit] = credit
		}
		sco[KeyLessonStatus] = StatusNotAttempted
	}
	return out, true
}

// RollupScore averages the raw scores of all SCOs. Missing or unparseable
// scores count as 0.
func RollupScore(doc Document) (float64, error) {
	ids := doc.SCOIDs()
	if len(ids) == 0 {
		return 0, ErrNoScos
	}

	var total float64
	for _, id := range ids {
		total += LookupFloat(doc.SCO(id).Data(), KeyScoreRaw, 0)
	}
	return total / float64(len(ids)), nil
}

// RollupProgressMeasure averages cmi.progress_measure over all SCOs as a
// 0-1 fraction. A document without SCOs measures 0.
func RollupProgressMeasure(doc Document) float64 {
	ids := doc.SCOIDs()
	if len(ids) == 0 {
		return 0
	}

	var sum float64
	for _, id := range ids {
		sum += LookupFloat(doc.SCO(id).Data(), KeyProgressMeasure, 0)
	}
	return sum / float64(len(ids))
}

// IsProgressAdvancing reports whether measure may replace the progress of
// previous. Without a previous document any measure is accepted. A previous
// measure of 0 never is: progress from zero must come through the lesson
// status instead. Otherwise measure must be strictly greater.
func IsProgressAdvancing(measure float64, previous Document) bool {
	if len(previous) == 0 {
		return true
	}
	old := RollupProgressMeasure(previous)
	if old == 0 {
		return false
	}
	return measure > old
}

// ResolveGrade converts a submitted score into a grade event. An empty score
// yields no event so an earlier grade is not blanked out.
func ResolveGrade(score string, weight float64) (Grade, bool) {
	score = strings.TrimSpace(score)
	if score == "" {
		return Grade{}, false
	}
	raw, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return Grade{}, false
	}
	return Grade{Value: raw / MaxScore * weight, MaxValue: weight}, true
}

// ResolveProgressEvent decides which completion percentage, if any, the
// transition from previous to current publishes. A nonzero measure is
// published only while it advances; the lesson status is consulted only
// when the measure is zero.
func ResolveProgressEvent(previous, current Document) (float64, bool) {
	measure := RollupProgressMeasure(current)
	if measure != 0 {
		if IsProgressAdvancing(measure, previous) {
			return measure * 100, true
		}
		return 0, false
	}
	if IsCompletionStatus(current.Status("")) {
		return 100, true
	}
	return 0, false
}

// Rollup computes the lesson-level values of a document.
func Rollup(doc Document) RollupResult {
	res := RollupResult{
		ProgressMeasure: RollupProgressMeasure(doc) * 100,
		LessonStatus:    doc.Status(StatusNotAttempted),
	}
	if score, err := RollupScore(doc); err == nil {
		res.LessonScore = score
		res.HasScore = true
	}
	return res
}
