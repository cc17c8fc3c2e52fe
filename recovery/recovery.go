package recovery

import (
	"context"
	"time"
)

// Kind classifies a failure for policy lookup.
type Kind string

const (
	ConnectionFailed Kind = "connection_failed"
	ConnectionLost   Kind = "connection_lost"
	AuthFailed       Kind = "auth_failed"
	SendFailed       Kind = "send_failed"
	PermissionDenied Kind = "permission_denied"
	NoDevice         Kind = "no_device"
)

// Strategy is what a policy tells the caller to do.
type Strategy int

const (
	// Retry means try again after Decision.Delay.
	Retry Strategy = iota
	// GiveUp means the retry budget is exhausted; report terminal failure.
	GiveUp
	// Fallback means switch to Decision.Alternative.
	Fallback
	// UserAction means stop and show Decision.Message; no automatic retry.
	UserAction
	// Fatal means the failure is non-recoverable for this session.
	Fatal
)

func (s Strategy) String() string {
	switch s {
	case Retry:
		return "retry"
	case GiveUp:
		return "give_up"
	case Fallback:
		return "fallback"
	case UserAction:
		return "user_action"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Policy configures the response to one error kind.
type Policy struct {
	RetryImmediate bool
	MaxRetries     int
	BaseDelay      time.Duration
	Alternative    string
	Message        string
	Fatal          bool
}

// Decision is the engine's answer for one failure occurrence.
type Decision struct {
	Strategy    Strategy
	Attempt     int // 0-based attempt index this decision authorizes
	Delay       time.Duration
	Alternative string
	Message     string
}

// Engine is a pure policy evaluator with per-kind retry bookkeeping. It is
// consulted from the worker goroutines only and needs no locking beyond the
// callers' own serialization.
type Engine struct {
	policies map[Kind]Policy
	attempts map[Kind]int
	dead     map[Kind]bool // kinds that already went Fatal this session
}

// DefaultPolicies is the stock table.
func DefaultPolicies() map[Kind]Policy {
	return map[Kind]Policy{
		ConnectionFailed: {MaxRetries: 3, BaseDelay: 1000 * time.Millisecond},
		ConnectionLost:   {MaxRetries: 5, BaseDelay: 500 * time.Millisecond},
		SendFailed:       {RetryImmediate: true, MaxRetries: 1},
		AuthFailed:       {Message: "authentication failed: check your API key"},
		PermissionDenied: {Message: "input injection denied: grant accessibility permission and retry"},
		NoDevice:         {Fatal: true},
	}
}

func NewEngine(policies map[Kind]Policy) *Engine {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Engine{
		policies: policies,
		attempts: make(map[Kind]int),
		dead:     make(map[Kind]bool),
	}
}

// Decide records one failure of the given kind and returns what to do about
// it. Backoff delay doubles per attempt: base << attempt. Exhausting the
// budget returns GiveUp and resets the counter, so a later recurrence starts
// a fresh cycle. A kind that went Fatal stays fatal for the engine lifetime.
func (e *Engine) Decide(kind Kind) Decision {
	if e.dead[kind] {
		return Decision{Strategy: Fatal}
	}

	p, ok := e.policies[kind]
	if !ok || p.Fatal {
		e.dead[kind] = true
		return Decision{Strategy: Fatal}
	}
	if p.Message != "" {
		return Decision{Strategy: UserAction, Message: p.Message}
	}
	if p.Alternative != "" {
		return Decision{Strategy: Fallback, Alternative: p.Alternative}
	}

	attempt := e.attempts[kind]
	if attempt >= p.MaxRetries {
		e.attempts[kind] = 0
		return Decision{Strategy: GiveUp, Attempt: attempt}
	}
	e.attempts[kind] = attempt + 1

	d := Decision{Strategy: Retry, Attempt: attempt}
	if !p.RetryImmediate {
		d.Delay = p.BaseDelay << attempt
	}
	return d
}

// Succeeded resets the retry counter for a kind after the operation finally
// worked.
func (e *Engine) Succeeded(kind Kind) {
	delete(e.attempts, kind)
}

// Attempts returns the current counter for a kind, for tests and metrics.
func (e *Engine) Attempts(kind Kind) int {
	return e.attempts[kind]
}

// Sleep waits for the decision's delay or until ctx is cancelled. Returns
// false on cancellation so callers can abandon the retry.
func Sleep(ctx context.Context, d Decision) bool {
	if d.Delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
