package rules

import "encoding/json"

// ConditionType discriminates the two condition variants on the wire.
type ConditionType string

// Condition variants.
const (
	ConditionSimple    ConditionType = "simple"
	ConditionComposite ConditionType = "composite"
)

// Target names the request fact a simple condition inspects.
type Target string

// Targets available to rule authors.
const (
	TargetSourceIP        Target = "source_ip"
	TargetDestinationIP   Target = "destination_ip"
	TargetSourcePort      Target = "source_port"
	TargetDestinationPort Target = "destination_port"
	TargetURI             Target = "uri"
	TargetPath            Target = "path"
	TargetQueryString     Target = "query_string"
	TargetMethod          Target = "method"
	TargetDomain          Target = "domain"
	TargetHeader          Target = "header"
	TargetUserAgent       Target = "user_agent"
)

// MatchType names the predicate a simple condition applies to its target.
type MatchType string

// Match types available to rule authors.
const (
	MatchEqual    MatchType = "equal"
	MatchNotEqual MatchType = "not_equal"
	MatchContains MatchType = "contains"
	MatchPrefix   MatchType = "prefix"
	MatchSuffix   MatchType = "suffix"
	MatchRegex    MatchType = "regex"
	MatchInList   MatchType = "in_list"
	MatchIPMatch  MatchType = "ip_match"
)

// Operator combines the children of a composite condition.
type Operator string

// Composite operators. Children are evaluated left to right; AND and OR
// short-circuit.
const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
	OperatorNot Operator = "NOT"
)

// Condition is the wire shape of one node of a rule's condition tree, as
// submitted by the console's rule-authoring forms. A condition tree is
// built fresh per rule and never shared or mutated in place.
//
// Simple conditions use Target, MatchType and MatchValue (plus Selector
// for the header target). Composite conditions use Operator and Conditions.
// For in_list, MatchValue holds a comma-separated list of members.
type Condition struct {
	Type       ConditionType `json:"type"`
	Target     Target        `json:"target,omitempty"`
	Selector   string        `json:"selector,omitempty"`
	MatchType  MatchType     `json:"matchType,omitempty"`
	MatchValue string        `json:"matchValue,omitempty"`
	Operator   Operator      `json:"operator,omitempty"`
	Conditions []Condition   `json:"conditions,omitempty"`
}

// ParseCondition decodes a condition tree from its wire form. Structural
// validation happens later, when the rule set is built.
func ParseCondition(data []byte) (c Condition, err error) {
	err = json.Unmarshal(data, &c)
	return
}

// FormatCondition encodes a condition tree to its wire form, the inverse
// of ParseCondition.
func FormatCondition(c Condition) ([]byte, error) {
	return json.Marshal(c)
}
