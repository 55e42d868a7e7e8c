package inspection

import (
	"bastionwaf/waf"
)

type mockHeader struct {
	k, v string
}

func (h mockHeader) Key() string   { return h.k }
func (h mockHeader) Value() string { return h.v }

type mockRequest struct {
	method     string
	uri        string
	protocol   string
	remoteAddr string
	localAddr  string
	host       string
	txid       string
	headers    []waf.HeaderPair
}

func (r *mockRequest) Method() string            { return r.method }
func (r *mockRequest) URI() string               { return r.uri }
func (r *mockRequest) Protocol() string          { return r.protocol }
func (r *mockRequest) Headers() []waf.HeaderPair { return r.headers }
func (r *mockRequest) RemoteAddr() string        { return r.remoteAddr }
func (r *mockRequest) LocalAddr() string         { return r.localAddr }
func (r *mockRequest) Host() string              { return r.host }
func (r *mockRequest) TransactionID() string     { return r.txid }

func newMockRequest(srcIP, uri string) *mockRequest {
	return &mockRequest{
		method:     "GET",
		uri:        uri,
		protocol:   "HTTP/1.1",
		remoteAddr: srcIP + ":54321",
		localAddr:  "10.0.0.1:9000",
		host:       "a.com",
		headers: []waf.HeaderPair{
			mockHeader{"Host", "a.com"},
			mockHeader{"User-Agent", "curl/8.0"},
		},
	}
}
