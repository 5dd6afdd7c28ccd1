// Package gate decides whether an export request is admitted under the
// freemium policy: a per-request length cap and a per-client daily export
// quota. A denial is a first-class outcome, not an error.
package gate

import (
	"unicode/utf8"

	"github.com/arlden/pdf-exporter/usage"
)

// Reason identifies which policy denied a request.
type Reason string

// Denial reasons.
const (
	ReasonLength Reason = "length"
	ReasonQuota  Reason = "quota"
)

// Limits holds the freemium policy parameters.
type Limits struct {
	// MaxChars is the maximum content length, in characters, for a free export.
	MaxChars int

	// MaxExports is the number of free exports allowed per usage window.
	MaxExports int
}

// Decision is the outcome of evaluating a request against the policy.
// Denials carry enough data for the caller to present an upgrade prompt
// without re-querying the ledger.
type Decision struct {
	Admitted bool

	// Reason is set only when Admitted is false.
	Reason Reason

	// OverBy is how many characters the content exceeds the cap by.
	// Set only for length denials.
	OverBy int

	// Remaining is the client's unconsumed export count in the current
	// window, measured before any consumption by this request.
	Remaining int
}

// Gate composes the usage ledger with the length-limit policy.
type Gate struct {
	ledger *usage.Ledger
	limits Limits
}

// New creates a Gate over the given ledger.
func New(ledger *usage.Ledger, limits Limits) *Gate {
	return &Gate{ledger: ledger, limits: limits}
}

// Limits returns the policy parameters the gate enforces.
func (g *Gate) Limits() Limits {
	return g.limits
}

// Evaluate applies the policy in order: length first, then quota. The length
// check never consumes quota, and a length denial is reported even when the
// quota is already exhausted. Admission does not consume quota either; the
// caller records consumption only after a successful render.
func (g *Gate) Evaluate(content, clientID string) Decision {
	remaining := g.ledger.Remaining(clientID, g.limits.MaxExports)

	if n := utf8.RuneCountInString(content); n > g.limits.MaxChars {
		return Decision{
			Reason:    ReasonLength,
			OverBy:    n - g.limits.MaxChars,
			Remaining: remaining,
		}
	}

	if remaining == 0 {
		return Decision{Reason: ReasonQuota}
	}

	return Decision{Admitted: true, Remaining: remaining}
}
