package waf

// Action is what a rule asks for when its condition matches.
type Action int

// Actions available to rule authors.
const (
	_ Action = iota

	// ActionLog records the match but never affects the verdict.
	ActionLog

	// ActionBlock rejects the request when the site is in protection mode.
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionLog:
		return "log"
	case ActionBlock:
		return "block"
	}
	return "unknown"
}

// Decision denotes the WAF's response to a request.
type Decision int

const (
	_ Decision = iota

	// Allow means the request should be passed through to the backend.
	Allow

	// Block means the request should be rejected.
	Block
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Block:
		return "block"
	}
	return "unknown"
}

// RuleMatch records a single rule whose condition matched during one inspection.
type RuleMatch struct {
	RuleID int
	Log    WAFLog
}

// Verdict is the outcome of inspecting one request.
type Verdict struct {
	Decision Decision
	Matches  []RuleMatch
}

// Blocked reports whether the verdict rejects the request.
func (v Verdict) Blocked() bool { return v.Decision == Block }
