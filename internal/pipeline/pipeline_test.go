package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/refinery/internal/checks"
)

func TestRunFinish(t *testing.T) {
	tests := []struct {
		name     string
		stages   []string
		outcomes []Outcome
		want     Status
		failed   string
	}{
		{"all accepted", []string{"a", "b"}, []Outcome{Accepted, Accepted}, StatusSuccess, ""},
		{"one warning", []string{"a", "b"}, []Outcome{Accepted, AcceptedWithWarnings}, StatusSuccessWithWarnings, ""},
		{"failed stage", []string{"a", "b"}, []Outcome{Accepted, Failed}, StatusAborted, "b"},
		{"missing stage", []string{"a", "b", "c"}, []Outcome{Accepted, Accepted}, StatusAborted, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRun("p", tt.stages, nil)
			for i, o := range tt.outcomes {
				r.Results = append(r.Results, StageResult{Stage: tt.stages[i], Outcome: o})
			}
			r.Finish(time.Now())
			assert.Equal(t, tt.want, r.Status)
			assert.Equal(t, tt.failed, r.FailedStage)
		})
	}
}

func TestRunFinish_KeepsCancelled(t *testing.T) {
	r := NewRun("p", []string{"a"}, nil)
	r.Status = StatusCancelled
	r.Finish(time.Now())
	assert.Equal(t, StatusCancelled, r.Status)
	assert.False(t, r.Status.Succeeded())
}

func TestReport(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewRun("lesson-bundle", []string{"intro", "body"}, nil)
	r.StartedAt = start
	r.Results = []StageResult{
		{
			Stage: "intro", Outcome: AcceptedWithWarnings, Attempts: 2, GatewayCalls: 2,
			Chosen:     &Candidate{Attempt: 1},
			Unresolved: []checks.Violation{{ConstraintID: "len", Kind: checks.Lexical, Description: "too long"}},
		},
		{Stage: "body", Outcome: Failed, Reason: ReasonGatewayUnavailable, GatewayError: "Timeout", GatewayCalls: 3},
	}
	r.Finish(start.Add(1500 * time.Millisecond))

	rep := r.Report()
	assert.Equal(t, StatusAborted, rep.Status)
	assert.Equal(t, "body", rep.FailedStage)
	assert.Equal(t, "GatewayUnavailable (Timeout)", rep.Reason)
	assert.Equal(t, "1.5s", rep.Duration)
	require.Len(t, rep.Stages, 2)
	assert.Equal(t, 1, rep.Stages[0].ChosenFrom)
	assert.Equal(t, []string{"intro: [len] too long"}, r.Warnings())
}

func TestRunResult(t *testing.T) {
	r := NewRun("p", []string{"a"}, nil)
	r.Results = append(r.Results, StageResult{Stage: "a", Outcome: Accepted})
	res, ok := r.Result("a")
	require.True(t, ok)
	assert.Equal(t, Accepted, res.Outcome)
	_, ok = r.Result("zzz")
	assert.False(t, ok)
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	require.NoError(t, WriteJSON(path, map[string]int{"a": 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 1, got["a"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file cleaned up")
}
