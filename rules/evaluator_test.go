package rules

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testFacts() *Facts {
	return &Facts{
		SourceIP:        netip.MustParseAddr("1.2.3.4"),
		SourcePort:      54321,
		DestinationIP:   netip.MustParseAddr("10.0.0.1"),
		DestinationPort: 443,
		Method:          "GET",
		URI:             "/login?user=admin",
		Path:            "/login",
		QueryString:     "user=admin",
		Domain:          "a.com",
		UserAgent:       "curl/8.0",
		Headers: map[string][]string{
			"user-agent":      {"curl/8.0"},
			"x-forwarded-for": {"9.9.9.9"},
			"cookie":          {"session=abc", "lang=en"},
		},
	}
}

func TestSimpleConditionMatchTypes(t *testing.T) {
	type testcase struct {
		name      string
		target    Target
		matchType MatchType
		selector  string
		value     string
		expected  bool
	}
	tests := []testcase{
		{"ip equal match", TargetSourceIP, MatchEqual, "", "1.2.3.4", true},
		{"ip equal no match", TargetSourceIP, MatchEqual, "", "5.6.7.8", false},
		{"ip not_equal", TargetSourceIP, MatchNotEqual, "", "5.6.7.8", true},
		{"ip in_list", TargetSourceIP, MatchInList, "", "5.6.7.8, 1.2.3.4", true},
		{"ip cidr match", TargetSourceIP, MatchIPMatch, "", "1.2.3.0/24", true},
		{"ip cidr no match", TargetSourceIP, MatchIPMatch, "", "1.2.4.0/24", false},
		{"ip cidr list bare addr", TargetSourceIP, MatchIPMatch, "", "8.8.8.8, 1.2.3.4", true},
		{"dst ip equal", TargetDestinationIP, MatchEqual, "", "10.0.0.1", true},
		{"port equal", TargetDestinationPort, MatchEqual, "", "443", true},
		{"port not_equal", TargetDestinationPort, MatchNotEqual, "", "80", true},
		{"port in_list", TargetSourcePort, MatchInList, "", "80, 443, 54321", true},
		{"port in_list no match", TargetSourcePort, MatchInList, "", "80, 443", false},
		{"uri contains", TargetURI, MatchContains, "", "user=", true},
		{"uri regex", TargetURI, MatchRegex, "", `user=adm.n`, true},
		{"uri regex no match", TargetURI, MatchRegex, "", `user=root`, false},
		{"path equal", TargetPath, MatchEqual, "", "/login", true},
		{"path equal case sensitive", TargetPath, MatchEqual, "", "/Login", false},
		{"path prefix", TargetPath, MatchPrefix, "", "/log", true},
		{"path suffix", TargetPath, MatchSuffix, "", "gin", true},
		{"query equal", TargetQueryString, MatchEqual, "", "user=admin", true},
		{"method equal normalizes case", TargetMethod, MatchEqual, "", "get", true},
		{"method in_list", TargetMethod, MatchInList, "", "POST, PUT", false},
		{"domain equal normalizes case", TargetDomain, MatchEqual, "", "A.COM", true},
		{"user agent contains", TargetUserAgent, MatchContains, "", "curl", true},
		{"header with selector", TargetHeader, MatchEqual, "X-Forwarded-For", "9.9.9.9", true},
		{"header selector any value", TargetHeader, MatchContains, "Cookie", "lang=", true},
		{"header without selector scans all", TargetHeader, MatchContains, "", "session=", true},
		{"header missing selector is non-match", TargetHeader, MatchEqual, "X-Real-IP", "9.9.9.9", false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			c := Condition{
				Type:       ConditionSimple,
				Target:     test.target,
				Selector:   test.selector,
				MatchType:  test.matchType,
				MatchValue: test.value,
			}
			m, err := compileCondition(c, 1, DefaultMaxConditionDepth)
			assert.Nil(t, err)

			// Act
			got := m.match(testFacts())

			// Assert
			assert.Equal(t, test.expected, got)
		})
	}
}

func TestMissingFactIsNonMatch(t *testing.T) {
	// A request with no facts at all matches nothing, including not_equal.
	empty := &Facts{}

	tests := []Condition{
		{Type: ConditionSimple, Target: TargetSourceIP, MatchType: MatchEqual, MatchValue: "1.2.3.4"},
		{Type: ConditionSimple, Target: TargetSourceIP, MatchType: MatchNotEqual, MatchValue: "1.2.3.4"},
		{Type: ConditionSimple, Target: TargetSourcePort, MatchType: MatchNotEqual, MatchValue: "80"},
		{Type: ConditionSimple, Target: TargetURI, MatchType: MatchNotEqual, MatchValue: "/x"},
		{Type: ConditionSimple, Target: TargetHeader, Selector: "X-Real-IP", MatchType: MatchNotEqual, MatchValue: "z"},
	}

	for _, c := range tests {
		m, err := compileCondition(c, 1, DefaultMaxConditionDepth)
		assert.Nil(t, err)
		assert.False(t, m.match(empty), "target %s", c.Target)
	}
}

func TestEvaluationIsPure(t *testing.T) {
	m, err := compileCondition(Condition{
		Type: ConditionComposite, Operator: OperatorOr,
		Conditions: []Condition{
			{Type: ConditionSimple, Target: TargetURI, MatchType: MatchRegex, MatchValue: `admin`},
			{Type: ConditionSimple, Target: TargetSourceIP, MatchType: MatchIPMatch, MatchValue: "1.2.3.0/24"},
		},
	}, 1, DefaultMaxConditionDepth)
	assert.Nil(t, err)

	facts := testFacts()
	first := m.match(facts)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, m.match(facts))
	}
}

// countingMatcher records how often it was evaluated, to observe
// short-circuiting.
type countingMatcher struct {
	result bool
	calls  int
}

func (m *countingMatcher) match(f *Facts) bool {
	m.calls++
	return m.result
}

func TestAndShortCircuits(t *testing.T) {
	// Arrange
	c1 := &countingMatcher{result: true}
	c2 := &countingMatcher{result: false}
	c3 := &countingMatcher{result: true}
	and := &compositeMatcher{op: OperatorAnd, children: []matcher{c1, c2, c3}}

	// Act
	got := and.match(&Facts{})

	// Assert
	assert.False(t, got)
	assert.Equal(t, 1, c1.calls)
	assert.Equal(t, 1, c2.calls)
	assert.Equal(t, 0, c3.calls)
}

func TestOrShortCircuits(t *testing.T) {
	// Arrange
	c1 := &countingMatcher{result: false}
	c2 := &countingMatcher{result: true}
	c3 := &countingMatcher{result: false}
	or := &compositeMatcher{op: OperatorOr, children: []matcher{c1, c2, c3}}

	// Act
	got := or.match(&Facts{})

	// Assert
	assert.True(t, got)
	assert.Equal(t, 1, c1.calls)
	assert.Equal(t, 1, c2.calls)
	assert.Equal(t, 0, c3.calls)
}

func TestNotInverts(t *testing.T) {
	inner := &countingMatcher{result: true}
	not := &compositeMatcher{op: OperatorNot, children: []matcher{inner}}

	assert.False(t, not.match(&Facts{}))

	inner.result = false
	assert.True(t, not.match(&Facts{}))
}

func TestNestedComposite(t *testing.T) {
	// (source_ip == 1.2.3.4 AND (method == POST OR uri contains admin))
	c := Condition{
		Type: ConditionComposite, Operator: OperatorAnd,
		Conditions: []Condition{
			{Type: ConditionSimple, Target: TargetSourceIP, MatchType: MatchEqual, MatchValue: "1.2.3.4"},
			{
				Type: ConditionComposite, Operator: OperatorOr,
				Conditions: []Condition{
					{Type: ConditionSimple, Target: TargetMethod, MatchType: MatchEqual, MatchValue: "POST"},
					{Type: ConditionSimple, Target: TargetURI, MatchType: MatchContains, MatchValue: "admin"},
				},
			},
		},
	}
	m, err := compileCondition(c, 1, DefaultMaxConditionDepth)
	assert.Nil(t, err)

	assert.True(t, m.match(testFacts()))

	other := testFacts()
	other.URI = "/health"
	assert.False(t, m.match(other))
}
