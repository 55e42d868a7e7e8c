package waf

// HeaderPair represents a header line in an HTTP request.
type HeaderPair interface {
	Key() string
	Value() string
}

// HTTPRequest represents an inbound HTTP request to be evaluated by the WAF.
type HTTPRequest interface {
	Method() string
	URI() string
	Protocol() string
	Headers() []HeaderPair
	RemoteAddr() string // client ip:port
	LocalAddr() string  // server ip:port the request arrived on
	Host() string       // domain the request was addressed to
	TransactionID() string
}
