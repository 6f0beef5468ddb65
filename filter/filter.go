// Package filter provides keyword routing rules for inbound messages.
//
// Rules map a lowercase keyword to a Verdict. Apply scans the rules in
// insertion order and returns the verdict of the first keyword contained
// in the text, compared case-insensitively.
package filter

import (
	"fmt"
	"strings"
	"sync"
)

// Verdict is the routing decision for a message.
type Verdict uint8

const (
	// None means no rule matched; the message is delivered normally.
	None Verdict = iota
	// StagePriority holds the message for priority handling.
	StagePriority
	// Discard drops the message without persisting it.
	Discard
)

// String returns the configuration name of the verdict.
func (v Verdict) String() string {
	switch v {
	case None:
		return "none"
	case StagePriority:
		return "stage-priority"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// ParseVerdict parses a configuration name produced by Verdict.String.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stage-priority", "priority":
		return StagePriority, nil
	case "discard":
		return Discard, nil
	case "none", "":
		return None, nil
	default:
		return None, fmt.Errorf("filter: unknown verdict %q", s)
	}
}

// Rule pairs a keyword with its verdict.
type Rule struct {
	Keyword string
	Verdict Verdict
}

// Rules is an ordered keyword rule set. It is safe for concurrent use.
type Rules struct {
	mu    sync.RWMutex
	rules []Rule
}

// New creates a rule set from the given rules, in order.
func New(rules ...Rule) *Rules {
	r := &Rules{}
	for _, rule := range rules {
		r.Add(rule.Keyword, rule.Verdict)
	}
	return r
}

// Default returns the built-in rules: "urgente" stages for priority
// handling and "spam" discards.
func Default() *Rules {
	return New(
		Rule{Keyword: "urgente", Verdict: StagePriority},
		Rule{Keyword: "spam", Verdict: Discard},
	)
}

// Add appends a rule. The keyword is stored lowercase. Adding a keyword
// that already exists replaces its verdict and keeps its position.
// Empty keywords are ignored.
func (r *Rules) Add(keyword string, v Verdict) {
	keyword = strings.ToLower(keyword)
	if keyword == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].Keyword == keyword {
			r.rules[i].Verdict = v
			return
		}
	}
	r.rules = append(r.rules, Rule{Keyword: keyword, Verdict: v})
}

// Apply returns the verdict of the first rule whose keyword occurs in
// text, or None.
func (r *Rules) Apply(text string) Verdict {
	lower := strings.ToLower(text)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if strings.Contains(lower, rule.Keyword) {
			return rule.Verdict
		}
	}
	return None
}

// List returns a copy of the rules in order.
func (r *Rules) List() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of rules.
func (r *Rules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
