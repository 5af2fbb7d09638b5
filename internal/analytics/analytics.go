// Package analytics summarises recorded run events: per-stage refinement
// behaviour and per-pipeline outcomes.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/refinery/internal/db"
)

// Source provides recorded events.
type Source interface {
	EventsSince(ctx context.Context, since time.Time) ([]db.Event, error)
}

// StageStats holds refinement stats for one stage of one pipeline.
type StageStats struct {
	Pipeline    string  `json:"pipeline"`
	Stage       string  `json:"stage"`
	Count       int     `json:"count"`
	FirstPass   float64 `json:"first_pass_pct"`
	Warnings    float64 `json:"warnings_pct"`
	Failed      float64 `json:"failed_pct"`
	AvgAttempts float64 `json:"avg_attempts"`
	P50         float64 `json:"p50_seconds"`
	P95         float64 `json:"p95_seconds"`
}

// PipelineThroughput holds run outcome counts for one pipeline.
type PipelineThroughput struct {
	Pipeline  string  `json:"pipeline"`
	Runs      int     `json:"runs"`
	Success   int     `json:"success"`
	Warnings  int     `json:"success_with_warnings"`
	Aborted   int     `json:"aborted"`
	Cancelled int     `json:"cancelled"`
	AvgSecs   float64 `json:"avg_seconds"`
}

// Summary is everything Query reports.
type Summary struct {
	Since     time.Time            `json:"since"`
	Stages    []StageStats         `json:"stages"`
	Pipelines []PipelineThroughput `json:"pipelines"`
}

// Query loads events recorded since the given time and summarises them.
func Query(ctx context.Context, src Source, since time.Time) (*Summary, error) {
	events, err := src.EventsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return &Summary{
		Since:     since,
		Stages:    Stages(events),
		Pipelines: Throughput(events),
	}, nil
}

type stageKey struct{ pipeline, stage string }

// Stages computes per-stage stats from stage_started/stage_finished pairs.
// Events must be in recording order. A stage that started but never finished
// (the run was cancelled or hit a hard error) is not counted.
func Stages(events []db.Event) []StageStats {
	type acc struct {
		count, firstPass, warnings, failed, attempts int
		durations                                    []float64
	}
	started := make(map[string]time.Time) // run_id/stage → start
	stats := make(map[stageKey]*acc)

	for _, e := range events {
		switch e.Kind {
		case db.StageStarted:
			started[e.RunID+"/"+e.Stage] = e.At
		case db.StageFinished:
			k := stageKey{e.Pipeline, e.Stage}
			a := stats[k]
			if a == nil {
				a = &acc{}
				stats[k] = a
			}
			a.count++
			a.attempts += e.Attempt
			switch e.Outcome {
			case "accepted":
				if e.Attempt == 1 {
					a.firstPass++
				}
			case "accepted_with_warnings":
				a.warnings++
			case "failed":
				a.failed++
			}
			if start, ok := started[e.RunID+"/"+e.Stage]; ok {
				if secs := e.At.Sub(start).Seconds(); secs >= 0 {
					a.durations = append(a.durations, secs)
				}
			}
		}
	}

	results := make([]StageStats, 0, len(stats))
	for k, a := range stats {
		sort.Float64s(a.durations)
		results = append(results, StageStats{
			Pipeline:    k.pipeline,
			Stage:       k.stage,
			Count:       a.count,
			FirstPass:   pct(a.firstPass, a.count),
			Warnings:    pct(a.warnings, a.count),
			Failed:      pct(a.failed, a.count),
			AvgAttempts: math.Round(float64(a.attempts)/float64(a.count)*10) / 10,
			P50:         percentile(a.durations, 50),
			P95:         percentile(a.durations, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Pipeline != results[j].Pipeline {
			return results[i].Pipeline < results[j].Pipeline
		}
		return results[i].Stage < results[j].Stage
	})
	return results
}

// Throughput counts finished runs per pipeline by status.
func Throughput(events []db.Event) []PipelineThroughput {
	started := make(map[string]time.Time)
	byPipeline := make(map[string]*PipelineThroughput)
	durations := make(map[string][]float64)

	for _, e := range events {
		switch e.Kind {
		case db.RunStarted:
			started[e.RunID] = e.At
		case db.RunFinished:
			t := byPipeline[e.Pipeline]
			if t == nil {
				t = &PipelineThroughput{Pipeline: e.Pipeline}
				byPipeline[e.Pipeline] = t
			}
			t.Runs++
			switch e.Outcome {
			case "success":
				t.Success++
			case "success_with_warnings":
				t.Warnings++
			case "aborted":
				t.Aborted++
			case "cancelled":
				t.Cancelled++
			}
			if start, ok := started[e.RunID]; ok {
				durations[e.Pipeline] = append(durations[e.Pipeline], e.At.Sub(start).Seconds())
			}
		}
	}

	results := make([]PipelineThroughput, 0, len(byPipeline))
	for name, t := range byPipeline {
		t.AvgSecs = avg(durations[name])
		results = append(results, *t)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Pipeline < results[j].Pipeline
	})
	return results
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

// ParseSince turns a lookback like "7d", "36h" or "90m" into an absolute time.
// An empty string means all time.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	var days int
	if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && fmt.Sprintf("%dd", days) == s {
		return now.AddDate(0, 0, -days), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: use e.g. 7d, 36h or 90m", s)
	}
	return now.Add(-d), nil
}
