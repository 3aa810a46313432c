package scorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, data string) Document {
	t.Helper()
	doc, err := ParseDocument(data)
	require.NoError(t, err)
	return doc
}

func TestRollupScoreAverages(t *testing.T) {
	doc := mustParse(t, `{"scos":{
		"A":{"data":{"cmi.core.score.raw":"80"}},
		"B":{"data":{"cmi.core.score.raw":60}}
	}}`)

	score, err := RollupScore(doc)
	require.NoError(t, err)
	assert.Equal(t, 70.0, score)
}

func TestRollupScoreDefaults(t *testing.T) {
	doc := mustParse(t, `{"scos":{
		"A":{"data":{"cmi.core.score.raw":"90"}},
		"B":{"data":{"cmi.core.score.raw":""}},
		"C":{"data":{"cmi.core.score.raw":null}},
		"D":{"data":{"cmi.core.score.raw":"n/a"}},
		"E":{}
	}}`)

	score, err := RollupScore(doc)
	require.NoError(t, err)
	assert.Equal(t, 18.0, score)
}

func TestRollupScoreWithoutScos(t *testing.T) {
	_, err := RollupScore(mustParse(t, `{"scos":{}}`))
	assert.ErrorIs(t, err, ErrNoScos)

	_, err = RollupScore(mustParse(t, `{}`))
	assert.ErrorIs(t, err, ErrNoScos)
}

func TestRollupProgressMeasure(t *testing.T) {
	doc := mustParse(t, `{"scos":{
		"A":{"data":{"cmi.progress_measure":"0.5"}},
		"B":{"data":{"cmi.progress_measure":"garbage"}},
		"C":{"data":{"cmi.progress_measure":1}},
		"D":{"data":{}}
	}}`)
	assert.InDelta(t, 0.375, RollupProgressMeasure(doc), 1e-9)
	assert.Equal(t, 0.0, RollupProgressMeasure(mustParse(t, `{}`)))
}

func TestIsProgressAdvancing(t *testing.T) {
	prev := mustParse(t, `{"scos":{"A":{"data":{"cmi.progress_measure":"0.6"}}}}`)
	zero := mustParse(t, `{"scos":{"A":{"data":{}}}}`)

	assert.True(t, IsProgressAdvancing(0.5, nil), "no prior data")
	assert.True(t, IsProgressAdvancing(0.5, Document{}), "empty prior document")
	assert.False(t, IsProgressAdvancing(0.3, prev), "regression rejected")
	assert.False(t, IsProgressAdvancing(0.6, prev), "equal is not advancing")
	assert.True(t, IsProgressAdvancing(0.7, prev))
	assert.False(t, IsProgressAdvancing(0.9, zero), "zero prior never validates")
}

func TestResolveGrade(t *testing.T) {
	_, ok := ResolveGrade("", 1)
	assert.False(t, ok, "empty score keeps the previous grade")

	g, ok := ResolveGrade("85", 2)
	require.True(t, ok)
	assert.InDelta(t, 1.7, g.Value, 1e-9)
	assert.Equal(t, 2.0, g.MaxValue)

	_, ok = ResolveGrade("abc", 1)
	assert.False(t, ok)
}

func TestResolveProgressEvent(t *testing.T) {
	prev := mustParse(t, `{"scos":{"A":{"data":{"cmi.progress_measure":"0.6"}}}}`)

	tests := []struct {
		name     string
		previous Document
		current  string
		want     float64
		emitted  bool
	}{
		{
			name:    "advancing measure",
			current: `{"scos":{"A":{"data":{"cmi.progress_measure":"0.5"}}}}`,
			want:    50, emitted: true,
		},
		{
			name:     "regressing measure ignores status",
			previous: prev,
			current:  `{"status":"completed","scos":{"A":{"data":{"cmi.progress_measure":"0.3"}}}}`,
		},
		{
			name:     "zero measure completed",
			previous: prev,
			current:  `{"status":"completed","scos":{"A":{"data":{}}}}`,
			want:     100, emitted: true,
		},
		{
			name:    "zero measure failed",
			current: `{"status":"failed","scos":{}}`,
			want:    100, emitted: true,
		},
		{
			name:    "zero measure incomplete",
			current: `{"status":"incomplete","scos":{"A":{"data":{}}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveProgressEvent(tt.previous, mustParse(t, tt.current))
			assert.Equal(t, tt.emitted, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestInitializeIfNeeded(t *testing.T) {
	doc := mustParse(t, `{"scos":{
		"A":{"cmi.core.lesson_status":"completed","data":{}},
		"B":{"cmi.core.credit":"no-credit","data":{}}
	}}`)

	seeded, ran := InitializeIfNeeded(doc, 1, false)
	require.True(t, ran)
	assert.Equal(t, "credit", seeded.SCO("A")[KeyCredit])
	assert.Equal(t, "no-credit", seeded.SCO("B")[KeyCredit], "explicit credit is kept")
	assert.Equal(t, StatusNotAttempted, seeded.SCO("A")[KeyLessonStatus])
	assert.Equal(t, StatusNotAttempted, seeded.SCO("B")[KeyLessonStatus])

	assert.Equal(t, "completed", doc.SCO("A")[KeyLessonStatus], "input is not modified")

	again, _ := InitializeIfNeeded(seeded, 1, false)
	assert.Equal(t, seeded, again)

	same, ran := InitializeIfNeeded(doc, 1, true)
	assert.False(t, ran)
	assert.Equal(t, doc, same)
}

func TestInitializeIfNeededZeroWeight(t *testing.T) {
	seeded, _ := InitializeIfNeeded(mustParse(t, `{"scos":{"A":{}}}`), 0, false)
	assert.Equal(t, "no-credit", seeded.SCO("A")[KeyCredit])
}

func TestRollup(t *testing.T) {
	res := Rollup(mustParse(t, `{"status":"passed","scos":{
		"A":{"data":{"cmi.core.score.raw":"100","cmi.progress_measure":"1"}},
		"B":{"data":{"cmi.core.score.raw":"50","cmi.progress_measure":"0.5"}}
	}}`))
	assert.True(t, res.HasScore)
	assert.Equal(t, 75.0, res.LessonScore)
	assert.InDelta(t, 75.0, res.ProgressMeasure, 1e-9)
	assert.Equal(t, "passed", res.LessonStatus)

	empty := Rollup(mustParse(t, `{}`))
	assert.False(t, empty.HasScore)
	assert.Equal(t, StatusNotAttempted, empty.LessonStatus)
}
