package inspection

import (
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"bastionwaf/rules"
	"bastionwaf/waf"
)

// ExtractFacts normalizes a request into the fact set conditions are
// evaluated against. Extraction never fails: unparseable parts are left
// absent, and absent facts evaluate as non-matches.
func ExtractFacts(req waf.HTTPRequest) *rules.Facts {
	f := &rules.Facts{
		Method:  strings.ToUpper(req.Method()),
		URI:     req.URI(),
		Domain:  normalizeDomain(req.Host()),
		Headers: make(map[string][]string),
	}

	f.SourceIP, f.SourcePort = splitAddr(req.RemoteAddr())
	f.DestinationIP, f.DestinationPort = splitAddr(req.LocalAddr())

	if u, err := url.ParseRequestURI(req.URI()); err == nil {
		f.Path = u.Path
		f.QueryString = u.RawQuery
	}

	for _, h := range req.Headers() {
		k := strings.ToLower(h.Key())
		f.Headers[k] = append(f.Headers[k], h.Value())
		if k == "user-agent" && f.UserAgent == "" {
			f.UserAgent = h.Value()
		}
	}

	return f
}

func splitAddr(addr string) (netip.Addr, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port; maybe a bare IP.
		host = addr
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, 0
	}
	port, _ := strconv.Atoi(portStr)
	return ip.Unmap(), port
}

func normalizeDomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
