package assemble

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/refinery/internal/checks"
	"github.com/lucasnoah/refinery/internal/config"
	"github.com/lucasnoah/refinery/internal/pipeline"
)

func finishedRun(status pipeline.Status) *pipeline.Run {
	r := pipeline.NewRun("lesson-bundle", []string{"lesson_plan", "worksheet"}, nil)
	r.Status = status
	r.Results = []pipeline.StageResult{
		{
			Stage: "lesson_plan", OutputKey: "lesson_plan", Outcome: pipeline.Accepted,
			Chosen: &pipeline.Candidate{Attempt: 1, Text: `{"Objective_EN": "Compare fractions", "Materials": ["strips", "cards"], "I_Do": {"Steps": ["model", "think aloud"]}}`},
		},
		{
			Stage: "worksheet", OutputKey: "worksheet", Outcome: pipeline.AcceptedWithWarnings,
			Chosen:     &pipeline.Candidate{Attempt: 2, Text: "1. Which is larger?\n2. Shade 3/4."},
			Unresolved: []checks.Violation{{ConstraintID: "count", Description: "want 8 questions"}},
		},
	}
	return r
}

var layout = Layout{
	Title: "Lesson Bundle",
	Sections: []Section{
		{Key: "lesson_plan", Title: "Lesson Plan", Format: config.FormatJSON},
		{Key: "worksheet", Title: "Worksheet", Format: config.FormatText},
	},
}

func TestAssemble(t *testing.T) {
	art, err := Assemble(finishedRun(pipeline.StatusSuccessWithWarnings), layout)
	require.NoError(t, err)

	assert.Equal(t, "Lesson Bundle", art.Title)
	require.Len(t, art.Sections, 2)
	data, ok := art.Sections[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Compare fractions", data["Objective_EN"])
	assert.Nil(t, art.Sections[1].Data)
	assert.Equal(t, []string{"worksheet: [count] want 8 questions"}, art.Warnings)
}

func TestAssemble_IncompleteRun(t *testing.T) {
	for _, st := range []pipeline.Status{pipeline.StatusAborted, pipeline.StatusCancelled, pipeline.StatusRunning} {
		_, err := Assemble(finishedRun(st), layout)
		assert.ErrorIs(t, err, ErrIncompleteRun, st)
	}
}

func TestAssemble_MissingSection(t *testing.T) {
	l := Layout{Sections: []Section{{Key: "answer_key", Title: "Answer Key"}}}
	_, err := Assemble(finishedRun(pipeline.StatusSuccess), l)
	assert.ErrorIs(t, err, ErrIncompleteRun)
}

func TestAssemble_SectionSubsetInLayoutOrder(t *testing.T) {
	l := Layout{Sections: []Section{{Key: "worksheet", Title: "Worksheet"}}}
	art, err := Assemble(finishedRun(pipeline.StatusSuccess), l)
	require.NoError(t, err)
	require.Len(t, art.Sections, 1)
	assert.Equal(t, "worksheet", art.Sections[0].Key)
}

func TestAssemble_UnparsedJSONSectionKeptAsText(t *testing.T) {
	run := finishedRun(pipeline.StatusSuccessWithWarnings)
	run.Results[0].Outcome = pipeline.AcceptedWithWarnings
	run.Results[0].Chosen.Text = "sorry, no json today"
	run.Results[0].Unresolved = []checks.Violation{{ConstraintID: "valid_json", Description: "output is not valid JSON"}}

	art, err := Assemble(run, layout)
	require.NoError(t, err)
	require.Len(t, art.Sections, 2)
	assert.Nil(t, art.Sections[0].Data)
	assert.Equal(t, "sorry, no json today", art.Sections[0].Text)
	assert.Contains(t, art.Warnings, "lesson_plan: [valid_json] output is not valid JSON")
	assert.Contains(t, art.Markdown(), "## Lesson Plan\n\nsorry, no json today\n\n## Worksheet")
}

func TestMarkdown(t *testing.T) {
	art, err := Assemble(finishedRun(pipeline.StatusSuccessWithWarnings), layout)
	require.NoError(t, err)

	want := "# Lesson Bundle\n\n" +
		"## Lesson Plan\n\n" +
		"**Objective EN:** Compare fractions\n\n" +
		"### Materials\n\n" +
		"- strips\n- cards\n\n" +
		"### I Do\n\n" +
		"- **Steps:**\n  - model\n  - think aloud\n\n" +
		"## Worksheet\n\n" +
		"1. Which is larger?\n2. Shade 3/4.\n\n" +
		"## Warnings\n\n" +
		"- worksheet: [count] want 8 questions\n"
	assert.Equal(t, want, art.Markdown())
}

func TestArtifactJSON(t *testing.T) {
	art, err := Assemble(finishedRun(pipeline.StatusSuccess), layout)
	require.NoError(t, err)
	out, err := art.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "success", decoded["status"])
	assert.Len(t, decoded["sections"], 2)
}

func TestRenderData_NotAnObject(t *testing.T) {
	assert.Equal(t, "- a\n- b\n", renderData(`["a", "b"]`))
}
