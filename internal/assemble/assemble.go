// Package assemble merges the accepted outputs of a finished run into one
// structured artifact.
package assemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lucasnoah/refinery/internal/config"
	"github.com/lucasnoah/refinery/internal/pipeline"
)

// ErrIncompleteRun is returned when assembling a run that did not succeed.
var ErrIncompleteRun = errors.New("incomplete run")

// Section places one context key in the artifact.
type Section struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Format string `json:"format"`
}

// Layout is the declared shape of the artifact.
type Layout struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

// Artifact is the assembled output of a run.
type Artifact struct {
	Title    string            `json:"title"`
	RunID    string            `json:"run_id"`
	Status   pipeline.Status   `json:"status"`
	Sections []ArtifactSection `json:"sections"`
	Warnings []string          `json:"warnings,omitempty"`
}

// ArtifactSection is one stage output placed in the artifact. Data holds the
// decoded document for json-format sections whose text is valid JSON.
type ArtifactSection struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Data  any    `json:"data,omitempty"`
}

// Assemble builds the artifact for a successful run. It reads each section's
// accepted candidate from the run results and never calls out.
func Assemble(run *pipeline.Run, layout Layout) (*Artifact, error) {
	if !run.Status.Succeeded() {
		return nil, fmt.Errorf("%w: status is %s", ErrIncompleteRun, run.Status)
	}

	byKey := make(map[string]*pipeline.StageResult, len(run.Results))
	for i := range run.Results {
		byKey[run.Results[i].OutputKey] = &run.Results[i]
	}

	art := &Artifact{
		Title:    layout.Title,
		RunID:    run.ID.String(),
		Status:   run.Status,
		Warnings: run.Warnings(),
	}
	for _, sec := range layout.Sections {
		res, ok := byKey[sec.Key]
		if !ok || res.Chosen == nil {
			return nil, fmt.Errorf("%w: no accepted output for %q", ErrIncompleteRun, sec.Key)
		}
		as := ArtifactSection{Key: sec.Key, Title: sec.Title, Text: res.Chosen.Text}
		// A json stage accepted with warnings may carry text that never
		// parsed; it is placed as plain text.
		if sec.Format == config.FormatJSON {
			var data any
			if err := json.Unmarshal([]byte(res.Chosen.Text), &data); err == nil {
				as.Data = data
			}
		}
		art.Sections = append(art.Sections, as)
	}
	return art, nil
}

// JSON returns the artifact as indented JSON.
func (a *Artifact) JSON() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// Markdown renders the artifact as a markdown document: the title as H1, one
// H2 per section, JSON sections as nested bullet lists.
func (a *Artifact) Markdown() string {
	var b strings.Builder
	if a.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", a.Title)
	}
	for _, s := range a.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		if s.Data != nil {
			b.WriteString(renderData(s.Text))
		} else {
			b.WriteString(strings.TrimSpace(s.Text))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(a.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range a.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
