package log

import (
	"bytes"
	"io"
	"sync"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorWhite  = "\033[37m"
	ColorBold   = "\033[1m"
)

var separator = []byte(" | ")

// ConsoleWriter is a writer that formats logs for console output
type ConsoleWriter struct {
	Out     io.Writer
	NoColor bool

	mu  sync.Mutex
	buf []byte
}

// NewConsoleWriter creates a new ConsoleWriter
func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	if out == nil {
		out = io.Discard
	}
	return &ConsoleWriter{
		Out: out,
		buf: make([]byte, 0, 512),
	}
}

// Write implements io.Writer. Lines that do not carry the
// "timestamp | LEVEL | message" layout are passed through unchanged.
func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	first := bytes.Index(p, separator)
	if first == -1 {
		return w.Out.Write(p)
	}
	second := bytes.Index(p[first+len(separator):], separator)
	if second == -1 {
		return w.Out.Write(p)
	}
	second += first + len(separator)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = w.buf[:0]
	w.buf = append(w.buf, ColoredString(string(p[:first]), ColorCyan, w.NoColor)...)
	w.buf = append(w.buf, ' ')
	w.buf = append(w.buf, ColoredLevel(levelFromBytes(p[first+len(separator):second]), w.NoColor)...)
	w.buf = append(w.buf, ' ')

	msg := bytes.TrimRight(p[second+len(separator):], "\n")
	if idx := bytes.Index(msg, []byte(" error=")); idx != -1 && !w.NoColor {
		w.buf = append(w.buf, msg[:idx+1]...)
		w.buf = append(w.buf, ColorRed...)
		w.buf = append(w.buf, msg[idx+1:]...)
		w.buf = append(w.buf, ColorReset...)
	} else {
		w.buf = append(w.buf, msg...)
	}
	w.buf = append(w.buf, '\n')

	if _, err := w.Out.Write(w.buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func levelFromBytes(b []byte) Level {
	for lvl, name := range levelNames {
		if string(b) == name {
			return lvl
		}
	}
	return Level(-1)
}

// ColoredString returns a colored string if color is enabled
func ColoredString(s string, color string, noColor bool) string {
	if noColor {
		return s
	}
	return color + s + ColorReset
}

var levelBadges = map[Level]struct {
	text  string
	color string
}{
	DebugLevel: {"| DEBUG |", ColorBlue},
	InfoLevel:  {"| INFO  |", ColorGreen},
	WarnLevel:  {"| WARN  |", ColorYellow},
	ErrorLevel: {"| ERROR |", ColorRed},
	FatalLevel: {"| FATAL |", ColorRed + ColorBold},
}

// ColoredLevel returns a fixed-width level badge, colored unless noColor is set.
func ColoredLevel(level Level, noColor bool) string {
	badge, ok := levelBadges[level]
	if !ok {
		return "| UNKN  |"
	}
	return ColoredString(badge.text, badge.color, noColor)
}
