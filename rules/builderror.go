package rules

import (
	"errors"
	"fmt"
)

// Structural condition errors detected at build time.
var (
	ErrUnknownConditionType = errors.New("unknown condition type")
	ErrUnknownTarget        = errors.New("unknown target")
	ErrUnknownMatchType     = errors.New("unknown match type")
	ErrUnknownOperator      = errors.New("unknown operator")
	ErrEmptyComposite       = errors.New("composite condition has no children")
	ErrNotArity             = errors.New("NOT takes exactly one child")
	ErrDepthExceeded        = errors.New("condition nesting exceeds the configured maximum")
	ErrUnknownSite          = errors.New("rule references an unknown site")
	ErrUnknownAction        = errors.New("unknown rule action")
	ErrDuplicateSite        = errors.New("duplicate site domain")
)

// BuildError reports why a rule-set build was rejected. A build failure
// never affects the currently live rule set.
type BuildError struct {
	RuleID int
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("rule %d: %v", e.RuleID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func buildErr(ruleID int, err error) *BuildError {
	return &BuildError{RuleID: ruleID, Err: err}
}
