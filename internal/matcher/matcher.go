// Package matcher evaluates regular-expression auto-responders and their cooldowns.
package matcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/ddpbot"
)

// Clock returns the current time.
type Clock func() time.Time

// Spec is a compiled pattern with an optional cooldown.
type Spec struct {
	Pattern  string
	Cooldown time.Duration
	Handler  ddpbot.MatchHandler

	re      *regexp2.Regexp
	limiter *rate.Limiter

	mu          sync.Mutex
	lastTrigger time.Time
}

// Compile builds a Spec. Patterns support lookaround; use inline flags such as (?is) for case
// folding or dot-all.
func Compile(pattern string, cooldown time.Duration, handler ddpbot.MatchHandler) (*Spec, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: pattern %q", ddpbot.ErrNilHandler, pattern)
	}
	if cooldown < 0 {
		return nil, fmt.Errorf("%w: negative cooldown for %q", ddpbot.ErrInvalidPattern, pattern)
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ddpbot.ErrInvalidPattern, pattern, err)
	}
	// bound pathological backtracking
	re.MatchTimeout = time.Second

	s := &Spec{Pattern: pattern, Cooldown: cooldown, Handler: handler, re: re}
	if cooldown > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cooldown), 1)
	}
	return s, nil
}

// Matches reports whether text contains a match. A match timeout counts as no match.
func (s *Spec) Matches(text string) bool {
	ok, err := s.re.MatchString(text)
	return err == nil && ok
}

// Acquire records a trigger at now unless the spec is cooling down. When it is, the remaining
// cooldown is returned and nothing is recorded.
func (s *Spec) Acquire(now time.Time) (bool, time.Duration) {
	if s.limiter == nil {
		s.mu.Lock()
		s.lastTrigger = now
		s.mu.Unlock()
		return true, 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.limiter.AllowN(now, 1) {
		remaining := s.Cooldown - now.Sub(s.lastTrigger)
		if remaining < 0 {
			remaining = 0
		}
		return false, remaining
	}
	s.lastTrigger = now
	return true, 0
}

// LastTrigger returns the time of the last successful trigger, zero if none.
func (s *Spec) LastTrigger() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTrigger
}

// Set is an ordered collection of specs sharing a clock.
type Set struct {
	mu    sync.RWMutex
	specs []*Spec
	now   Clock
}

// NewSet creates an empty set. A nil clock means time.Now.
func NewSet(now Clock) *Set {
	if now == nil {
		now = time.Now
	}
	return &Set{now: now}
}

// Add compiles and appends a pattern.
func (m *Set) Add(pattern string, cooldown time.Duration, handler ddpbot.MatchHandler) error {
	s, err := Compile(pattern, cooldown, handler)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.specs = append(m.specs, s)
	m.mu.Unlock()
	return nil
}

// Now returns the set's current time.
func (m *Set) Now() time.Time {
	return m.now()
}

// Matching returns the specs whose pattern matches text, in registration order.
func (m *Set) Matching(text string) []*Spec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Spec
	for _, s := range m.specs {
		if s.Matches(text) {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of specs.
func (m *Set) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.specs)
}
