package orient

import (
	"sync"
	"time"
)

const (
	// maxPatterns bounds each pattern log to the most recent entries.
	maxPatterns = 10
	// maxLearnings bounds the learning log. Learnings would otherwise
	// grow without bound over a long-running process.
	maxLearnings = 100
)

// Learning is one lesson derived from an action outcome.
type Learning struct {
	Text       string
	Confidence float64
	CreatedAt  time.Time
}

// History is the process-lifetime record of success/failure patterns
// and learnings. It outlives individual cycles: each cycle's
// orientation references the same History, appends to it, and the logs
// are trimmed to their bounds after every append.
type History struct {
	mu        sync.RWMutex
	successes []string
	failures  []string
	learnings []Learning
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// AddSuccess appends a success pattern, trimming to the bound.
func (h *History) AddSuccess(pattern string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successes = appendBounded(h.successes, pattern, maxPatterns)
}

// AddFailure appends a failure pattern, trimming to the bound.
func (h *History) AddFailure(pattern string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = appendBounded(h.failures, pattern, maxPatterns)
}

// AddLearning appends a learning, trimming to the bound.
func (h *History) AddLearning(l Learning) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.learnings = appendBounded(h.learnings, l, maxLearnings)
}

// Successes returns a copy of the success pattern log, oldest first.
func (h *History) Successes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.successes...)
}

// Failures returns a copy of the failure pattern log, oldest first.
func (h *History) Failures() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.failures...)
}

// Learnings returns a copy of the learning log, oldest first.
func (h *History) Learnings() []Learning {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Learning(nil), h.learnings...)
}

func appendBounded[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
