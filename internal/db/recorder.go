package db

import (
	"context"
	"sync"
	"time"
)

// Event kinds.
const (
	RunStarted    = "run_started"
	StageStarted  = "stage_started"
	StageFinished = "stage_finished"
	RunFinished   = "run_finished"
)

// Event is one step in the life of a run.
type Event struct {
	ID       int64     `json:"id,omitempty"`
	RunID    string    `json:"run_id"`
	Pipeline string    `json:"pipeline"`
	Kind     string    `json:"event"`
	Stage    string    `json:"stage,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Recorder receives run events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

// Record does nothing.
func (Nop) Record(context.Context, Event) error { return nil }

// Memory keeps events in memory. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Record appends e, stamping it with an ID and time if unset.
func (m *Memory) Record(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.events = append(m.events, e)
	return nil
}

// Events returns recorded events, optionally filtered to one run.
func (m *Memory) Events(runID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if runID == "" || e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// EventsSince returns events recorded at or after since, oldest first.
func (m *Memory) EventsSince(_ context.Context, since time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*Memory)(nil)
	_ Recorder = (*DB)(nil)
)
