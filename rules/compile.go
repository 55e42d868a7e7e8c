package rules

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// targetKind groups targets by the value domain their predicates operate
// on. Which match types are legal depends on the kind.
type targetKind int

const (
	stringKind targetKind = iota
	portKind
	ipKind
)

var targetKinds = map[Target]targetKind{
	TargetSourceIP:        ipKind,
	TargetDestinationIP:   ipKind,
	TargetSourcePort:      portKind,
	TargetDestinationPort: portKind,
	TargetURI:             stringKind,
	TargetPath:            stringKind,
	TargetQueryString:     stringKind,
	TargetMethod:          stringKind,
	TargetDomain:          stringKind,
	TargetHeader:          stringKind,
	TargetUserAgent:       stringKind,
}

// compileCondition validates a condition tree and turns it into an
// immutable matcher. All rejection happens here, at build time: a rule set
// that built successfully can never fail evaluation at request time.
func compileCondition(c Condition, depth, maxDepth int) (matcher, error) {
	if depth > maxDepth {
		return nil, ErrDepthExceeded
	}

	switch c.Type {
	case ConditionSimple:
		return compileSimple(c)
	case ConditionComposite:
		return compileComposite(c, depth, maxDepth)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionType, c.Type)
	}
}

func compileComposite(c Condition, depth, maxDepth int) (matcher, error) {
	switch c.Operator {
	case OperatorAnd, OperatorOr:
		if len(c.Conditions) == 0 {
			return nil, ErrEmptyComposite
		}
	case OperatorNot:
		if len(c.Conditions) != 1 {
			return nil, fmt.Errorf("%w: got %d", ErrNotArity, len(c.Conditions))
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}

	m := &compositeMatcher{op: c.Operator}
	for _, child := range c.Conditions {
		cm, err := compileCondition(child, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		m.children = append(m.children, cm)
	}
	return m, nil
}

func compileSimple(c Condition) (matcher, error) {
	kind, ok := targetKinds[c.Target]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, c.Target)
	}

	m := &simpleMatcher{
		target:    c.Target,
		kind:      kind,
		matchType: c.MatchType,
		selector:  strings.ToLower(c.Selector),
		value:     c.MatchValue,
	}

	// Normalize values for targets the fact extractor normalizes too.
	switch c.Target {
	case TargetMethod:
		m.value = strings.ToUpper(m.value)
	case TargetDomain:
		m.value = strings.ToLower(m.value)
	}

	switch kind {
	case stringKind:
		return compileStringPredicate(m)
	case portKind:
		return compilePortPredicate(m)
	default:
		return compileIPPredicate(m)
	}
}

func compileStringPredicate(m *simpleMatcher) (matcher, error) {
	switch m.matchType {
	case MatchEqual, MatchNotEqual, MatchContains, MatchPrefix, MatchSuffix:
		return m, nil
	case MatchRegex:
		re, err := regexp.Compile(m.value)
		if err != nil {
			return nil, fmt.Errorf("compiling regex: %w", err)
		}
		m.re = re
		return m, nil
	case MatchInList:
		m.set = make(map[string]struct{})
		for _, v := range splitList(m.value) {
			m.set[v] = struct{}{}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q for target %q", ErrUnknownMatchType, m.matchType, m.target)
	}
}

func compilePortPredicate(m *simpleMatcher) (matcher, error) {
	switch m.matchType {
	case MatchEqual, MatchNotEqual:
		n, err := strconv.Atoi(strings.TrimSpace(m.value))
		if err != nil {
			return nil, fmt.Errorf("parsing port %q: %w", m.value, err)
		}
		m.num = n
		return m, nil
	case MatchInList:
		m.nums = make(map[int]struct{})
		for _, v := range splitList(m.value) {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("parsing port %q: %w", v, err)
			}
			m.nums[n] = struct{}{}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q for target %q", ErrUnknownMatchType, m.matchType, m.target)
	}
}

func compileIPPredicate(m *simpleMatcher) (matcher, error) {
	switch m.matchType {
	case MatchEqual, MatchNotEqual:
		addr, err := netip.ParseAddr(strings.TrimSpace(m.value))
		if err != nil {
			return nil, fmt.Errorf("parsing IP address: %w", err)
		}
		m.addr = addr
		return m, nil
	case MatchIPMatch:
		prefixes, err := parsePrefixList(m.value)
		if err != nil {
			return nil, err
		}
		m.prefixes = prefixes
		return m, nil
	case MatchInList:
		m.addrs = make(map[netip.Addr]struct{})
		for _, v := range splitList(m.value) {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, fmt.Errorf("parsing IP address %q: %w", v, err)
			}
			m.addrs[addr] = struct{}{}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q for target %q", ErrUnknownMatchType, m.matchType, m.target)
	}
}

// parsePrefixList parses a comma-separated list of CIDR ranges or plain
// addresses (treated as single-address ranges).
func parsePrefixList(value string) (prefixes []netip.Prefix, err error) {
	for _, v := range splitList(value) {
		var p netip.Prefix
		if strings.Contains(v, "/") {
			p, err = netip.ParsePrefix(v)
		} else {
			var addr netip.Addr
			addr, err = netip.ParseAddr(v)
			if err == nil {
				p = netip.PrefixFrom(addr, addr.BitLen())
			}
		}
		if err != nil {
			return nil, fmt.Errorf("parsing IP range %q: %w", v, err)
		}
		prefixes = append(prefixes, p)
	}
	return
}

func splitList(value string) (items []string) {
	for _, v := range strings.Split(value, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			items = append(items, v)
		}
	}
	return
}
