package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/incentives/incentive"
)

func initBuffer(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: level, ErrorSampleRate: 1, Output: &buf}))
	return &buf
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warning", LevelWarning},
		{"WARN", LevelWarning},
		{"error", LevelError},
		{"fatal", LevelFatal},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init(Config{Level: "loud"}))
}

func TestInitLevelFiltering(t *testing.T) {
	buf := initBuffer(t, "warn")

	Info("hidden")
	Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &line))
	assert.Equal(t, "v", line["k"])
	assert.Equal(t, LevelWarning, GetLevel())
}

func TestRecordEvaluation(t *testing.T) {
	buf := initBuffer(t, "info")
	evals := Evaluations.Load()
	confErrs := ConfigurationErrors.Load()

	RecordEvaluation(nil)
	assert.Equal(t, evals+1, Evaluations.Load())
	assert.Empty(t, buf.String())

	ce := &incentive.ConfigurationError{RuleSetID: "rs-1", RuleID: "r-1", Field: "operator", Value: "!="}
	RecordEvaluation(fmt.Errorf("evaluate: %w", errors.Join(ce)), "seller_id", "alice")

	assert.Equal(t, evals+2, Evaluations.Load())
	assert.Equal(t, confErrs+1, ConfigurationErrors.Load())
	assert.Contains(t, buf.String(), `"rule_set_id":"rs-1"`)
	assert.Contains(t, buf.String(), `"seller_id":"alice"`)
}

func TestRecordStaleAndSnapshot(t *testing.T) {
	initBuffer(t, "info")
	before := StaleResults.Load()

	RecordStale("seq", 3)
	WarnHttp4xx(422)

	snap := Snapshot()
	assert.Equal(t, before+1, snap["stale_results"])
	assert.GreaterOrEqual(t, snap["http_422"], int64(1))
}
