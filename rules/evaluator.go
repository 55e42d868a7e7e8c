package rules

import (
	"net/netip"
	"regexp"
	"strings"
)

// matcher is one compiled node of a condition tree. Evaluation is pure:
// the same facts always yield the same result, and nothing is mutated.
type matcher interface {
	match(f *Facts) bool
}

type compositeMatcher struct {
	op       Operator
	children []matcher
}

func (m *compositeMatcher) match(f *Facts) bool {
	switch m.op {
	case OperatorAnd:
		for _, c := range m.children {
			if !c.match(f) {
				return false
			}
		}
		return true
	case OperatorOr:
		for _, c := range m.children {
			if c.match(f) {
				return true
			}
		}
		return false
	default: // OperatorNot, arity checked at compile time
		return !m.children[0].match(f)
	}
}

type simpleMatcher struct {
	target    Target
	kind      targetKind
	matchType MatchType
	selector  string // header name, lowercased
	value     string

	// Compiled artifacts, populated per match type at build time.
	num      int
	re       *regexp.Regexp
	set      map[string]struct{}
	nums     map[int]struct{}
	addr     netip.Addr
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

func (m *simpleMatcher) match(f *Facts) bool {
	switch m.kind {
	case portKind:
		return m.matchPort(f)
	case ipKind:
		return m.matchIP(f)
	default:
		return m.matchString(f)
	}
}

func (m *simpleMatcher) matchPort(f *Facts) bool {
	var port int
	if m.target == TargetSourcePort {
		port = f.SourcePort
	} else {
		port = f.DestinationPort
	}
	if port <= 0 {
		// Fact absent: never a match, not an error.
		return false
	}

	switch m.matchType {
	case MatchEqual:
		return port == m.num
	case MatchNotEqual:
		return port != m.num
	default: // MatchInList
		_, ok := m.nums[port]
		return ok
	}
}

func (m *simpleMatcher) matchIP(f *Facts) bool {
	var addr netip.Addr
	if m.target == TargetSourceIP {
		addr = f.SourceIP
	} else {
		addr = f.DestinationIP
	}
	if !addr.IsValid() {
		return false
	}

	switch m.matchType {
	case MatchEqual:
		return addr == m.addr
	case MatchNotEqual:
		return addr != m.addr
	case MatchIPMatch:
		for _, p := range m.prefixes {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	default: // MatchInList
		_, ok := m.addrs[addr]
		return ok
	}
}

func (m *simpleMatcher) matchString(f *Facts) bool {
	for _, v := range m.stringValues(f) {
		if m.matchOneString(v) {
			return true
		}
	}
	return false
}

// stringValues looks up the target in the fact set. An empty result means
// the fact is absent, which evaluates as a non-match.
func (m *simpleMatcher) stringValues(f *Facts) []string {
	var v string
	switch m.target {
	case TargetURI:
		v = f.URI
	case TargetPath:
		v = f.Path
	case TargetQueryString:
		v = f.QueryString
	case TargetMethod:
		v = f.Method
	case TargetDomain:
		v = f.Domain
	case TargetUserAgent:
		v = f.UserAgent
	case TargetHeader:
		if m.selector != "" {
			return f.headerValues(m.selector)
		}
		var all []string
		for _, vv := range f.Headers {
			all = append(all, vv...)
		}
		return all
	}
	if v == "" {
		return nil
	}
	return []string{v}
}

func (m *simpleMatcher) matchOneString(v string) bool {
	switch m.matchType {
	case MatchEqual:
		return v == m.value
	case MatchNotEqual:
		return v != m.value
	case MatchContains:
		return strings.Contains(v, m.value)
	case MatchPrefix:
		return strings.HasPrefix(v, m.value)
	case MatchSuffix:
		return strings.HasSuffix(v, m.value)
	case MatchRegex:
		return m.re.MatchString(v)
	default: // MatchInList
		_, ok := m.set[v]
		return ok
	}
}
