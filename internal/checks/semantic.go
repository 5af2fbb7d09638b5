package checks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/lucasnoah/refinery/internal/gateway"
	"github.com/lucasnoah/refinery/internal/prompt"
)

// JudgeRequest asks whether text satisfies criteria.
type JudgeRequest struct {
	Stage    string
	Attempt  int
	Criteria string
	Text     string
}

// Verdict is a judge's answer.
type Verdict struct {
	Pass   bool
	Reason string
}

// Judge evaluates semantic criteria. Errors from a Judge are gateway errors and
// are retried by the caller like any other gateway failure.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (Verdict, error)
}

// GatewayJudge asks a secondary model for a PASS/FAIL verdict through the
// gateway. Verdicts are cached by model, criteria and text; failures are not.
type GatewayJudge struct {
	gw    gateway.Gateway
	lib   *prompt.Library
	model string
	cache *cache.Cache
}

// DefaultVerdictTTL is how long judge verdicts stay cached.
const DefaultVerdictTTL = 30 * time.Minute

// NewGatewayJudge creates a judge that renders the semantic_judge.md template.
func NewGatewayJudge(gw gateway.Gateway, lib *prompt.Library, model string, ttl time.Duration) *GatewayJudge {
	if ttl <= 0 {
		ttl = DefaultVerdictTTL
	}
	return &GatewayJudge{
		gw:    gw,
		lib:   lib,
		model: model,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Judge returns the verdict for req, from cache when available.
func (j *GatewayJudge) Judge(ctx context.Context, req JudgeRequest) (Verdict, error) {
	key := verdictKey(j.model, req.Criteria, req.Text)
	if v, ok := j.cache.Get(key); ok {
		return v.(Verdict), nil
	}

	p, err := j.lib.Render(prompt.JudgeTemplate, prompt.Vars{
		"criteria":  req.Criteria,
		"candidate": req.Text,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("judge prompt: %w", err)
	}

	reply, err := j.gw.Generate(ctx, p, gateway.Options{
		Model:       j.model,
		Temperature: 0,
		MaxTokens:   200,
		Stage:       req.Stage + "_judge",
		Attempt:     req.Attempt,
	})
	if err != nil {
		return Verdict{}, err
	}

	v, err := ParseVerdict(reply)
	if err != nil {
		return Verdict{}, err
	}
	j.cache.Set(key, v, cache.DefaultExpiration)
	return v, nil
}

// CachedVerdicts returns the number of verdicts currently cached.
func (j *GatewayJudge) CachedVerdicts() int {
	return j.cache.ItemCount()
}

func verdictKey(model, criteria, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(criteria))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// ParseVerdict reads the first non-empty line of a judge reply: "PASS" or
// "FAIL: reason". Anything else is an InvalidResponse gateway error.
func ParseVerdict(reply string) (Verdict, error) {
	line := ""
	for _, l := range strings.Split(reply, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = strings.Trim(line, "*` ")
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "PASS"):
		return Verdict{Pass: true}, nil
	case strings.HasPrefix(upper, "FAIL"):
		reason := strings.TrimSpace(line[len("FAIL"):])
		reason = strings.TrimSpace(strings.TrimLeft(reason, ":-"))
		if reason == "" {
			reason = "judge rejected the content"
		}
		return Verdict{Pass: false, Reason: reason}, nil
	}
	return Verdict{}, &gateway.Error{
		Kind:     gateway.KindInvalidResponse,
		Provider: "judge",
		Message:  fmt.Sprintf("unrecognized verdict %q", truncate(line, 80)),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// alignment is the semantic constraint. In judge mode it delegates to a Judge;
// in heuristic mode it measures how many criteria keywords the text covers.
type alignment struct {
	base
	criteria  string
	heuristic bool
	minCover  int
}

func (c alignment) renderCriteria(vars map[string]string) string {
	if len(vars) == 0 {
		return c.criteria
	}
	out, err := prompt.Render(c.criteria, vars)
	if err != nil {
		return c.criteria
	}
	return out
}

func (c alignment) Check(ctx context.Context, s *Subject) (bool, string, error) {
	criteria := c.renderCriteria(s.Vars)
	if c.heuristic {
		return c.checkCoverage(criteria, s.Text)
	}

	j := s.judge
	if j == nil {
		return false, "", fmt.Errorf("constraint %q: no judge configured for semantic checks", c.id)
	}
	v, err := j.Judge(ctx, JudgeRequest{Stage: s.Stage, Attempt: s.Attempt, Criteria: criteria, Text: s.Text})
	if err != nil {
		return false, "", err
	}
	if !v.Pass {
		return false, "judge: " + v.Reason, nil
	}
	return true, "", nil
}

func (c alignment) checkCoverage(criteria, text string) (bool, string, error) {
	keywords := Keywords(criteria)
	if len(keywords) == 0 {
		return true, "", nil
	}
	lower := strings.ToLower(text)
	var missing []string
	for _, k := range keywords {
		if !strings.Contains(lower, k) {
			missing = append(missing, k)
		}
	}
	covered := (len(keywords) - len(missing)) * 100 / len(keywords)
	if covered < c.minCover {
		return false, fmt.Sprintf("covers %d%% of criteria keywords (minimum %d%%); missing: %s",
			covered, c.minCover, strings.Join(missing, ", ")), nil
	}
	return true, "", nil
}

var stopwords = map[string]bool{
	"about": true, "above": true, "after": true, "also": true, "being": true,
	"content": true, "does": true, "each": true, "from": true, "have": true,
	"into": true, "must": true, "only": true, "other": true, "should": true,
	"some": true, "stay": true, "stays": true, "that": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "those": true, "through": true, "topic": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "while": true,
	"will": true, "with": true, "within": true, "would": true, "your": true,
}

// Keywords extracts the distinct lowercase words of four or more letters from
// criteria, minus common stopwords, in order of appearance.
func Keywords(criteria string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(criteria), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		if len([]rune(w)) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
