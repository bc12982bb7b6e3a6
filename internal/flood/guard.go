// Package flood implements the local anti-flood admission policy.
//
// The guard counts how many messages the same sender has sent in a row and
// refuses sends past a limit until somebody else speaks. It is advisory: it
// gives fast feedback to the user, the server stays the authority.
package flood

import "fmt"

const (
	// DefaultLimit is the number of consecutive sends that are still admitted.
	DefaultLimit = 50
	// DefaultWarnAt is the streak length from which admissions carry a warning.
	DefaultWarnAt = 40
)

// Verdict is the outcome of an admission check.
type Verdict int

const (
	Allow Verdict = iota
	Warn
	Reject
)

// String returns the string representation of Verdict
func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Warn:
		return "warn"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Decision is returned by Guard.Admit.
// Remaining is only meaningful for Warn.
type Decision struct {
	Verdict   Verdict
	Remaining int
}

func (d Decision) String() string {
	if d.Verdict == Warn {
		return fmt.Sprintf("warn(%d)", d.Remaining)
	}
	return d.Verdict.String()
}

// State is a copy of the guard counters.
type State struct {
	Count      int
	LastSender string
}

// Option configures a Guard.
type Option func(*Guard)

// WithLimit sets the number of consecutive sends admitted.
func WithLimit(n int) Option {
	return func(g *Guard) {
		g.limit = n
	}
}

// WithWarnAt sets the streak length from which a warning is returned.
func WithWarnAt(n int) Option {
	return func(g *Guard) {
		g.warnAt = n
	}
}

// Guard tracks consecutive same-sender sends. It is not safe for concurrent use.
type Guard struct {
	limit  int
	warnAt int
	state  State
}

// New creates a Guard with the default 50/40 thresholds.
func New(opts ...Option) *Guard {
	g := &Guard{
		limit:  DefaultLimit,
		warnAt: DefaultWarnAt,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit records a send attempt by sender and decides whether it may proceed.
// A rejected attempt is still counted, so further attempts keep being rejected.
func (g *Guard) Admit(sender string) Decision {
	if g.state.LastSender == sender {
		g.state.Count++
	} else {
		g.state.Count = 1
		g.state.LastSender = sender
	}

	switch {
	case g.state.Count > g.limit:
		return Decision{Verdict: Reject}
	case g.state.Count >= g.warnAt:
		return Decision{Verdict: Warn, Remaining: g.limit - g.state.Count}
	default:
		return Decision{Verdict: Allow}
	}
}

// ObserveForeignMessage breaks the current streak because sender spoke.
// It reports whether there was a streak to break.
func (g *Guard) ObserveForeignMessage(sender string) bool {
	broken := g.state.Count > 0
	g.state.Count = 0
	g.state.LastSender = sender
	return broken
}

// Reset clears all counters.
func (g *Guard) Reset() {
	g.state = State{}
}

// State returns a copy of the counters.
func (g *Guard) State() State {
	return g.state
}

// Restore replaces the counters with s.
func (g *Guard) Restore(s State) {
	g.state = s
}
