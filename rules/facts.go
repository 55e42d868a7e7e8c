package rules

import "net/netip"

// Facts is the normalized view of one request that conditions are
// evaluated against. It is built once per inspection and read-only from
// then on.
//
// Domain and header names are lowercased during extraction; the method is
// uppercased. All other string facts keep their original case, so string
// match types compare case-sensitively against them.
type Facts struct {
	SourceIP        netip.Addr
	SourcePort      int
	DestinationIP   netip.Addr
	DestinationPort int
	Method          string
	URI             string
	Path            string
	QueryString     string
	Domain          string
	UserAgent       string
	Headers         map[string][]string
}

// headerValues returns all values for a header name (already lowercased
// by the caller at compile time). A missing header means no values, which
// evaluates as a non-match.
func (f *Facts) headerValues(name string) []string {
	if f.Headers == nil {
		return nil
	}
	return f.Headers[name]
}
