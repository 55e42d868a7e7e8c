package rules

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RuleDef is the wire shape of one rule as published by the admin
// console: a site binding, an action, a priority, and a condition tree.
type RuleDef struct {
	ID        int       `json:"id"`
	Name      string    `json:"name,omitempty"`
	Domain    string    `json:"domain"`
	Enabled   bool      `json:"enabled"`
	Priority  int       `json:"priority"`
	Action    string    `json:"action"` // log | block
	Severity  int       `json:"severity"`
	Accuracy  int       `json:"accuracy"`
	Message   string    `json:"message,omitempty"`
	Condition Condition `json:"condition"`
}

// LoadRules parses a JSON array of rule definitions and orders them by
// ascending priority. Semantic validation is left to Build.
func LoadRules(data []byte) (defs []RuleDef, err error) {
	if err = json.Unmarshal(data, &defs); err != nil {
		err = fmt.Errorf("unmarshaling rules: %w", err)
		return
	}

	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].Priority < defs[j].Priority
	})
	return
}
