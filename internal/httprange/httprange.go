// Package httprange resolves single byte-range requests against a file size.
package httprange

import (
	"errors"
	"strconv"
	"strings"
)

// MaxSpan is the largest span served for one range request. Longer requests
// are shortened to exactly this many bytes.
const MaxSpan int64 = 10 << 20

var (
	// ErrInvalidRange means the header could not be understood. Callers serve
	// the whole file instead.
	ErrInvalidRange = errors.New("httprange: invalid range")
	// ErrOutOfBounds means the header was well formed but cannot be satisfied
	// for the file size. Callers answer 416.
	ErrOutOfBounds = errors.New("httprange: range not satisfiable")
)

// Span is an inclusive byte range.
type Span struct {
	Start int64
	End   int64
}

// Full returns the span covering a whole file of the given size.
func Full(size int64) Span {
	return Span{Start: 0, End: size - 1}
}

// Length returns the number of bytes in the span.
func (s Span) Length() int64 {
	return s.End - s.Start + 1
}

// ContentRange formats the Content-Range value for the span.
func (s Span) ContentRange(size int64) string {
	b := make([]byte, 0, 48)
	b = append(b, "bytes "...)
	b = strconv.AppendInt(b, s.Start, 10)
	b = append(b, '-')
	b = strconv.AppendInt(b, s.End, 10)
	b = append(b, '/')
	b = strconv.AppendInt(b, size, 10)
	return string(b)
}

// Unsatisfiable formats the Content-Range value sent with a 416.
func Unsatisfiable(size int64) string {
	return "bytes */" + strconv.FormatInt(size, 10)
}

// Resolve parses a Range header of the form "bytes=start-end" against size.
//
// Either bound may be left out: a missing end means the last byte, and
// "bytes=-" selects the whole file. The suffix form "bytes=-N", multiple
// ranges, other units and non-numeric bounds are reported as ErrInvalidRange.
// A start or end at or past size, or a start after the end, is
// ErrOutOfBounds. Valid spans longer than MaxSpan are clamped.
func Resolve(header string, size int64) (Span, error) {
	unit, spec, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || strings.TrimSpace(unit) != "bytes" {
		return Span{}, ErrInvalidRange
	}
	if strings.Contains(spec, ",") {
		return Span{}, ErrInvalidRange
	}

	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return Span{}, ErrInvalidRange
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" && last != "" {
		return Span{}, ErrInvalidRange
	}

	var (
		span Span
		err  error
	)
	if first != "" {
		if span.Start, err = parseBound(first); err != nil {
			return Span{}, err
		}
	}
	if last == "" {
		span.End = size - 1
	} else if span.End, err = parseBound(last); err != nil {
		return Span{}, err
	}

	if span.Start >= size || span.End >= size || span.Start > span.End {
		return Span{}, ErrOutOfBounds
	}

	if span.Length() > MaxSpan {
		span.End = span.Start + MaxSpan - 1
	}
	return span, nil
}

func parseBound(s string) (int64, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrInvalidRange
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidRange
	}
	return n, nil
}
