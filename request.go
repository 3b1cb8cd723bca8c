package mocaca

import (
	"context"
	"net/http"
	"net/url"
)

// Request represents an HTTP request.
type Request struct {
	// Method specifies the HTTP method (GET, POST, PUT, etc.).
	Method string

	// URL specifies the URL being requested.
	URL *url.URL

	// Proto is the protocol version.
	Proto string

	// Header contains the request header fields.
	Header Header

	// Body is the request's body.
	Body []byte

	// ContentLength records the length of the associated content.
	ContentLength int64

	// Host specifies the host on which the URL is sought.
	Host string

	// RemoteAddr is the network address that sent the request.
	RemoteAddr string

	// RequestURI is the unmodified request-target as sent by the client.
	RequestURI string

	// Close is true when the connection must be closed after the response.
	Close bool

	ctx context.Context
}

// NewRequest creates a new Request from an http.Request and its already
// read body.
func NewRequest(r *http.Request, body []byte) *Request {
	if r == nil {
		return &Request{
			Method: MethodGet,
			URL:    &url.URL{Path: "/"},
			Proto:  "HTTP/1.1",
			Header: make(Header),
			ctx:    context.Background(),
		}
	}

	u := r.URL
	if u == nil {
		u = &url.URL{Path: "/"}
	}

	return &Request{
		Method:        r.Method,
		URL:           u,
		Proto:         r.Proto,
		Header:        Header(r.Header),
		Body:          body,
		ContentLength: int64(len(body)),
		Host:          r.Host,
		RemoteAddr:    r.RemoteAddr,
		RequestURI:    r.RequestURI,
		Close:         r.Close,
		ctx:           r.Context(),
	}
}

// Context returns the request's context. It is cancelled when the client
// goes away.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx == nil {
		panic("nil context")
	}
	r2 := new(Request)
	*r2 = *r
	r2.ctx = ctx
	return r2
}
