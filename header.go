package mocaca

import (
	"net/textproto"
	"strings"
)

// Header represents the key-value pairs in an HTTP header.
// The keys should be in canonical form, as returned by
// textproto.CanonicalMIMEHeaderKey.
type Header map[string][]string

// Add adds the key, value pair to the header.
func (h Header) Add(key, value string) {
	textproto.MIMEHeader(h).Add(key, value)
}

// Set replaces any existing values associated with key.
func (h Header) Set(key, value string) {
	textproto.MIMEHeader(h).Set(key, value)
}

// Get gets the first value associated with the given key.
// If there are no values associated with the key, Get returns "".
func (h Header) Get(key string) string {
	return textproto.MIMEHeader(h).Get(key)
}

// Values returns all values associated with the given key.
// The returned slice is not a copy.
func (h Header) Values(key string) []string {
	return textproto.MIMEHeader(h).Values(key)
}

// Del deletes the values associated with key.
func (h Header) Del(key string) {
	textproto.MIMEHeader(h).Del(key)
}

// Clone returns a copy of h or nil if h is nil.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}

	nv := 0
	for _, vv := range h {
		nv += len(vv)
	}
	sv := make([]string, nv)
	h2 := make(Header, len(h))
	for k, vv := range h {
		n := copy(sv, vv)
		h2[k] = sv[:n:n]
		sv = sv[n:]
	}
	return h2
}

// reset empties h keeping its storage.
func (h Header) reset() {
	for k := range h {
		delete(h, k)
	}
}

var headerValueReplacer = strings.NewReplacer("\r", " ", "\n", " ")

// sanitized returns h with line breaks stripped from every value so a
// handler cannot inject extra header lines into the response head.
func (h Header) sanitized() map[string][]string {
	for k, vv := range h {
		for i, v := range vv {
			if strings.ContainsAny(v, "\r\n") {
				vv[i] = strings.TrimSpace(headerValueReplacer.Replace(v))
			}
		}
		h[k] = vv
	}
	return h
}
