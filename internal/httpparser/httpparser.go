// Package httpparser frames HTTP/1.x requests read from a connection buffer
// and serializes response heads.
package httpparser

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/evanphx/wildcat"
)

// MaxHeaderSize bounds the request line plus headers.
const MaxHeaderSize = 64 * 1024

var (
	// ErrIncomplete means more bytes are needed before a request can be parsed.
	ErrIncomplete = errors.New("httpparser: incomplete request")
	// ErrMalformed means the bytes are not a valid HTTP/1.x request.
	ErrMalformed = errors.New("httpparser: malformed request")
	// ErrHeaderTooLarge means the head exceeded MaxHeaderSize.
	ErrHeaderTooLarge = errors.New("httpparser: request header too large")
	// ErrBodyTooLarge means Content-Length exceeded the codec limit.
	ErrBodyTooLarge = errors.New("httpparser: request body too large")
	// ErrLengthRequired means the request used a transfer coding other than
	// identity. Only Content-Length delimited bodies are accepted.
	ErrLengthRequired = errors.New("httpparser: length required")
)

var headTerminator = []byte("\r\n\r\n")

var readerPool = sync.Pool{
	New: func() interface{} {
		return bufio.NewReaderSize(nil, 4096)
	},
}

// Codec parses requests for one connection.
type Codec struct {
	parser      *wildcat.HTTPParser
	maxBodySize int64
}

// NewCodec creates a Codec that rejects bodies larger than maxBodySize bytes.
func NewCodec(maxBodySize int64) *Codec {
	return &Codec{
		parser:      wildcat.NewHTTPParser(),
		maxBodySize: maxBodySize,
	}
}

// Parse parses the first request in data. It returns the request, its body
// (copied out of data) and the number of bytes consumed. ErrIncomplete means
// data holds only part of a request and nothing was consumed.
func (hc *Codec) Parse(data []byte) (*http.Request, []byte, int, error) {
	idx := bytes.Index(data, headTerminator)
	if idx == -1 {
		if len(data) > MaxHeaderSize {
			return nil, nil, 0, ErrHeaderTooLarge
		}
		return nil, nil, 0, ErrIncomplete
	}
	headEnd := idx + len(headTerminator)
	if headEnd > MaxHeaderSize {
		return nil, nil, 0, ErrHeaderTooLarge
	}

	if _, err := hc.parser.Parse(data[:headEnd]); err != nil {
		return nil, nil, 0, ErrMalformed
	}

	br := readerPool.Get().(*bufio.Reader)
	br.Reset(bytes.NewReader(data[:headEnd]))
	req, err := http.ReadRequest(br)
	br.Reset(nil)
	readerPool.Put(br)
	if err != nil {
		return nil, nil, 0, ErrMalformed
	}

	if len(req.TransferEncoding) > 0 {
		return nil, nil, 0, ErrLengthRequired
	}
	if req.ContentLength < 0 {
		req.ContentLength = 0
	}
	if hc.maxBodySize > 0 && req.ContentLength > hc.maxBodySize {
		return nil, nil, 0, ErrBodyTooLarge
	}

	end := headEnd + int(req.ContentLength)
	if len(data) < end {
		return nil, nil, 0, ErrIncomplete
	}

	var body []byte
	if req.ContentLength > 0 {
		body = make([]byte, req.ContentLength)
		copy(body, data[headEnd:end])
	}
	req.Body = http.NoBody
	return req, body, end, nil
}

var (
	httpVersion         = []byte("HTTP/1.1 ")
	crlfBytes           = []byte("\r\n")
	colonSpace          = []byte(": ")
	contentLengthPrefix = []byte("Content-Length: ")
	serverHeader        = []byte("Server: mocaca\r\n")
	connectionClose     = []byte("Connection: close\r\n")
	dateHeaderPrefix    = []byte("Date: ")
)

var (
	dateMu          sync.RWMutex
	cachedDate      []byte
	lastDateSeconds int64
)

// dateHeader returns the Date header line, recomputed at most once a second.
func dateHeader() []byte {
	now := time.Now()

	dateMu.RLock()
	if now.Unix() == lastDateSeconds && cachedDate != nil {
		h := cachedDate
		dateMu.RUnlock()
		return h
	}
	dateMu.RUnlock()

	dateMu.Lock()
	defer dateMu.Unlock()

	h := make([]byte, 0, len(dateHeaderPrefix)+31)
	h = append(h, dateHeaderPrefix...)
	h = now.UTC().AppendFormat(h, http.TimeFormat)
	h = append(h, crlfBytes...)
	cachedDate = h
	lastDateSeconds = now.Unix()
	return h
}

// Head describes a response head.
type Head struct {
	Status int
	Header map[string][]string
	// ContentLength is written unless it is negative.
	ContentLength int64
	// Close adds "Connection: close".
	Close bool
}

// AppendHead serializes h onto buf. Content-Length is taken from the Head,
// never from the header map.
func AppendHead(buf []byte, h Head) []byte {
	buf = append(buf, httpVersion...)
	buf = strconv.AppendInt(buf, int64(h.Status), 10)
	buf = append(buf, ' ')
	buf = append(buf, http.StatusText(h.Status)...)
	buf = append(buf, crlfBytes...)

	buf = append(buf, dateHeader()...)
	buf = append(buf, serverHeader...)

	for k, values := range h.Header {
		if k == "Content-Length" || k == "Connection" {
			continue
		}
		for _, v := range values {
			buf = append(buf, k...)
			buf = append(buf, colonSpace...)
			buf = append(buf, v...)
			buf = append(buf, crlfBytes...)
		}
	}

	if h.ContentLength >= 0 {
		buf = append(buf, contentLengthPrefix...)
		buf = strconv.AppendInt(buf, h.ContentLength, 10)
		buf = append(buf, crlfBytes...)
	}
	if h.Close {
		buf = append(buf, connectionClose...)
	}
	return append(buf, crlfBytes...)
}
