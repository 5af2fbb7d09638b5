package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Reply is one scripted gateway response: text or an error.
type Reply struct {
	Text string
	Err  error
}

// Text returns a reply that succeeds with s.
func Text(s string) Reply {
	return Reply{Text: s}
}

// Fail returns a reply that fails with a classified error of the given kind.
func Fail(kind Kind) Reply {
	return Reply{Err: &Error{Kind: kind, Provider: "scripted", Message: "scripted failure"}}
}

// Call records one Generate invocation on a Scripted gateway.
type Call struct {
	Stage   string
	Attempt int
	Model   string
	Prompt  string
}

// Scripted is a Gateway that replays canned responses. Replies are queued per
// stage; once a stage's queue is down to its last reply, that reply repeats.
// Replies queued under "" serve any stage without its own queue.
// It is used for dry runs and tests, and is safe for concurrent use.
type Scripted struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []Call
}

// NewScripted creates an empty Scripted gateway.
func NewScripted() *Scripted {
	return &Scripted{replies: make(map[string][]Reply)}
}

// Add queues replies for a stage. It returns s for chaining.
func (s *Scripted) Add(stage string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[stage] = append(s.replies[stage], replies...)
	return s
}

// Name returns the provider name.
func (s *Scripted) Name() string {
	return "scripted"
}

// Generate returns the next queued reply for opts.Stage.
func (s *Scripted) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Stage: opts.Stage, Attempt: opts.Attempt, Model: opts.Model, Prompt: prompt})

	key := opts.Stage
	queue, ok := s.replies[key]
	if !ok || len(queue) == 0 {
		key = ""
		queue = s.replies[key]
	}
	if len(queue) == 0 {
		return "", &Error{Kind: KindInvalidResponse, Provider: s.Name(), Message: fmt.Sprintf("no scripted reply for stage %q", opts.Stage)}
	}

	r := queue[0]
	if len(queue) > 1 {
		s.replies[key] = queue[1:]
	}
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

// Calls returns a copy of all recorded calls in order.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns the number of calls made for a stage.
func (s *Scripted) CallCount(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Stage == stage {
			n++
		}
	}
	return n
}

// LoadFixtures builds a Scripted gateway from a fixtures directory.
// <stage>.txt is a single reply for a stage; <stage>.<n>.txt files are queued
// in ascending n. default.txt serves stages without fixtures.
func LoadFixtures(dir string) (*Scripted, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read fixtures dir: %w", err)
	}

	type fixture struct {
		stage string
		seq   int
		path  string
	}
	var fixtures []fixture
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".txt")
		f := fixture{stage: base, path: filepath.Join(dir, e.Name())}
		if i := strings.LastIndex(base, "."); i > 0 {
			if n, err := strconv.Atoi(base[i+1:]); err == nil {
				f.stage, f.seq = base[:i], n
			}
		}
		if f.stage == "default" {
			f.stage = ""
		}
		fixtures = append(fixtures, f)
	}
	sort.Slice(fixtures, func(i, j int) bool {
		if fixtures[i].stage != fixtures[j].stage {
			return fixtures[i].stage < fixtures[j].stage
		}
		return fixtures[i].seq < fixtures[j].seq
	})

	s := NewScripted()
	for _, f := range fixtures {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("read fixture %s: %w", f.path, err)
		}
		s.Add(f.stage, Text(string(data)))
	}
	return s, nil
}
