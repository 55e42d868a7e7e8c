package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"bastionwaf/waf"
)

// Rule is one compiled, published rule. Immutable: updates publish a new
// rule-set version instead of mutating rules referenced by in-flight
// evaluations.
type Rule struct {
	ID       int
	Name     string
	Domain   string
	Action   waf.Action
	Priority int
	Severity int
	Accuracy int
	Message  string

	cond matcher
}

// Match evaluates the rule's condition tree against a fact set.
func (r *Rule) Match(f *Facts) bool { return r.cond.match(f) }

// SiteRules is the ordered rule list for one site, plus the site
// configuration that decides how matches are acted on.
type SiteRules struct {
	Site  waf.Site
	Rules []*Rule // ascending priority
}

// RuleSet is an immutable, versioned snapshot of all published rules,
// partitioned by site. Concurrent inspections share one snapshot
// read-only; reconfiguration publishes a whole new snapshot.
type RuleSet struct {
	version int64
	builtAt time.Time
	sites   map[string]*SiteRules
}

// Version identifies this snapshot. Later builds have larger versions.
func (s *RuleSet) Version() int64 { return s.version }

// BuiltAt is when this snapshot was built.
func (s *RuleSet) BuiltAt() time.Time { return s.builtAt }

// RulesFor returns the rules applicable to a domain, or nil if the domain
// is not a configured site. The list is empty when the WAF is disabled
// for the site.
func (s *RuleSet) RulesFor(domain string) *SiteRules {
	return s.sites[strings.ToLower(domain)]
}

// RuleCount is the total number of rules across all sites.
func (s *RuleSet) RuleCount() (n int) {
	for _, sr := range s.sites {
		n += len(sr.Rules)
	}
	return
}

// BuildOptions bound what rule authors may publish.
type BuildOptions struct {
	// MaxConditionDepth rejects condition trees nested deeper than this,
	// so untrusted rule authors cannot cause pathological recursion.
	MaxConditionDepth int
}

// DefaultMaxConditionDepth is used when BuildOptions leaves the depth
// bound unset.
const DefaultMaxConditionDepth = 10

var nextVersion atomic.Int64

// Build validates and compiles a rule set from published rule definitions
// and site configuration. Any invalid rule fails the whole build; the
// caller keeps serving the previously live snapshot in that case.
//
// Disabled rules are excluded. Rules bound to a site that does not exist
// are a build error, so a stale publish is rejected rather than silently
// ignored.
func Build(defs []RuleDef, sites []waf.Site, opts BuildOptions) (*RuleSet, error) {
	maxDepth := opts.MaxConditionDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxConditionDepth
	}

	s := &RuleSet{
		builtAt: time.Now(),
		sites:   make(map[string]*SiteRules, len(sites)),
	}
	for _, site := range sites {
		key := strings.ToLower(site.Domain)
		if _, exists := s.sites[key]; exists {
			// Requests are routed to sites by domain alone, so two sites
			// sharing a domain would shadow each other.
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSite, site.Domain)
		}
		s.sites[key] = &SiteRules{Site: site}
	}

	for _, def := range defs {
		if !def.Enabled {
			continue
		}

		sr, ok := s.sites[strings.ToLower(def.Domain)]
		if !ok {
			return nil, buildErr(def.ID, fmt.Errorf("%w: %q", ErrUnknownSite, def.Domain))
		}
		if !sr.Site.WAFEnabled {
			// rulesFor must be empty for WAF-disabled sites.
			continue
		}

		action, err := parseAction(def.Action)
		if err != nil {
			return nil, buildErr(def.ID, err)
		}

		cond, err := compileCondition(def.Condition, 1, maxDepth)
		if err != nil {
			return nil, buildErr(def.ID, err)
		}

		sr.Rules = append(sr.Rules, &Rule{
			ID:       def.ID,
			Name:     def.Name,
			Domain:   sr.Site.Domain,
			Action:   action,
			Priority: def.Priority,
			Severity: def.Severity,
			Accuracy: def.Accuracy,
			Message:  def.Message,
			cond:     cond,
		})
	}

	for _, sr := range s.sites {
		rr := sr.Rules
		sort.SliceStable(rr, func(i, j int) bool {
			if rr[i].Priority != rr[j].Priority {
				return rr[i].Priority < rr[j].Priority
			}
			return rr[i].ID < rr[j].ID
		})
	}

	s.version = nextVersion.Add(1)
	return s, nil
}

func parseAction(s string) (waf.Action, error) {
	switch s {
	case "log":
		return waf.ActionLog, nil
	case "block":
		return waf.ActionBlock, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Handle is the shared pointer through which concurrent inspections reach
// the live snapshot. Publish is a single atomic swap: a request either
// sees the whole old snapshot or the whole new one, never a mix. Old
// snapshots stay alive until the last in-flight evaluation holding them
// finishes, then get collected.
type Handle struct {
	v atomic.Pointer[RuleSet]
}

// NewHandle creates an empty handle. Current returns nil until the first
// Publish.
func NewHandle() *Handle { return &Handle{} }

// Current returns the live snapshot.
func (h *Handle) Current() *RuleSet { return h.v.Load() }

// Publish atomically swaps in a new snapshot.
func (h *Handle) Publish(s *RuleSet) { h.v.Store(s) }
