package rules

import (
	"context"
	"os"
	"sync"

	"bastionwaf/waf"
)

// Source supplies the rule definitions and site configuration a rule-set
// build reads from. Load is called on engine start and on every reload.
type Source interface {
	Load(ctx context.Context) (defs []RuleDef, sites []waf.Site, err error)
}

// FileSource loads rules from a JSON file on disk and sites from static
// configuration. A publish from the console overrides the file contents
// until the next SetRules call, which is how the rule-authoring flow
// feeds reloads without touching disk first.
type FileSource struct {
	mu          sync.Mutex
	path        string
	sites       []waf.Site
	override    []RuleDef
	hasOverride bool
}

// NewFileSource creates a source reading rule definitions from path. An
// empty path means no rules until the console publishes some.
func NewFileSource(path string, sites []waf.Site) *FileSource {
	return &FileSource{path: path, sites: sites}
}

// Load returns the current rule definitions and sites.
func (s *FileSource) Load(ctx context.Context) ([]RuleDef, []waf.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasOverride {
		defs := make([]RuleDef, len(s.override))
		copy(defs, s.override)
		return defs, s.siteListLocked(), nil
	}

	if s.path == "" {
		return nil, s.siteListLocked(), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, err
	}
	defs, err := LoadRules(data)
	if err != nil {
		return nil, nil, err
	}
	return defs, s.siteListLocked(), nil
}

// SetRules replaces the rule definitions served by Load. The caller is
// expected to trigger a reload afterwards; nothing live changes until the
// new rule set builds successfully and is swapped in.
func (s *FileSource) SetRules(defs []RuleDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = make([]RuleDef, len(defs))
	copy(s.override, defs)
	s.hasOverride = true
}

// SetSites replaces the site configuration served by Load.
func (s *FileSource) SetSites(sites []waf.Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites = make([]waf.Site, len(sites))
	copy(s.sites, sites)
}

// Sites returns a copy of the current site configuration.
func (s *FileSource) Sites() []waf.Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.siteListLocked()
}

func (s *FileSource) siteListLocked() []waf.Site {
	sites := make([]waf.Site, len(s.sites))
	copy(sites, s.sites)
	return sites
}
