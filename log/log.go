package log

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level represents the log level
type Level int8

const (
	// DebugLevel defines debug log level
	DebugLevel Level = iota
	// InfoLevel defines info log level
	InfoLevel
	// WarnLevel defines warn log level
	WarnLevel
	// ErrorLevel defines error log level
	ErrorLevel
	// FatalLevel defines fatal log level
	FatalLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

// String returns the string representation of the log level
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", l)
}

// ParseLevel converts a level name such as "info" or "WARN" into a Level.
func ParseLevel(s string) (Level, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for lvl, name := range levelNames {
		if name == upper {
			return lvl, nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// exit is replaced in tests so Fatal events can be observed.
var exit = os.Exit

// Logger writes leveled, single-line events to an io.Writer.
//
// A line has the form
//
//	2006-01-02 15:04:05 | LEVEL | message key=value key=value
//
// which ConsoleWriter knows how to colorize.
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	level  Level
	buf    []byte
}

// New creates a new logger with the given writer and level
func New(writer io.Writer, level Level) *Logger {
	if writer == nil {
		writer = os.Stdout
	}
	return &Logger{
		writer: writer,
		level:  level,
		buf:    make([]byte, 0, 512),
	}
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetOutput replaces the writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.writer = w
	l.mu.Unlock()
}

func (l *Logger) newEvent(level Level) *Event {
	if level < l.GetLevel() {
		return nil
	}
	return &Event{logger: l, level: level}
}

// Debug returns a debug level event
func (l *Logger) Debug() *Event { return l.newEvent(DebugLevel) }

// Info returns an info level event
func (l *Logger) Info() *Event { return l.newEvent(InfoLevel) }

// Warn returns a warn level event
func (l *Logger) Warn() *Event { return l.newEvent(WarnLevel) }

// Error returns an error level event
func (l *Logger) Error() *Event { return l.newEvent(ErrorLevel) }

// Fatal returns a fatal level event. Sending it terminates the process.
func (l *Logger) Fatal() *Event { return &Event{logger: l, level: FatalLevel} }

// Event represents a log event. A nil *Event is valid and discards everything,
// so callers can chain on events below the logger's level.
type Event struct {
	logger *Logger
	level  Level
	err    error
	fields []byte
}

// Err adds an error to the event
func (e *Event) Err(err error) *Event {
	if e == nil {
		return nil
	}
	e.err = err
	return e
}

// Str adds a string field.
func (e *Event) Str(key, val string) *Event {
	if e == nil {
		return nil
	}
	e.fields = append(e.fields, ' ')
	e.fields = append(e.fields, key...)
	e.fields = append(e.fields, '=')
	if strings.ContainsAny(val, " \t\"") || val == "" {
		e.fields = strconv.AppendQuote(e.fields, val)
	} else {
		e.fields = append(e.fields, val...)
	}
	return e
}

// Int adds an int field.
func (e *Event) Int(key string, val int) *Event {
	return e.Int64(key, int64(val))
}

// Int64 adds an int64 field.
func (e *Event) Int64(key string, val int64) *Event {
	if e == nil {
		return nil
	}
	e.fields = append(e.fields, ' ')
	e.fields = append(e.fields, key...)
	e.fields = append(e.fields, '=')
	e.fields = strconv.AppendInt(e.fields, val, 10)
	return e
}

// Dur adds a duration field.
func (e *Event) Dur(key string, d time.Duration) *Event {
	if e == nil {
		return nil
	}
	return e.Str(key, d.String())
}

// Msg logs a message
func (e *Event) Msg(msg string) {
	if e == nil {
		return
	}
	e.logger.write(e, msg)
	if e.level == FatalLevel {
		exit(1)
	}
}

// Msgf logs a formatted message
func (e *Event) Msgf(format string, v ...interface{}) {
	if e == nil {
		return
	}
	e.Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) write(e *Event, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = appendTimestamp(l.buf[:0], time.Now())
	l.buf = append(l.buf, " | "...)
	l.buf = append(l.buf, e.level.String()...)
	l.buf = append(l.buf, " | "...)
	l.buf = append(l.buf, msg...)
	l.buf = append(l.buf, e.fields...)
	if e.err != nil {
		l.buf = append(l.buf, " error="...)
		l.buf = strconv.AppendQuote(l.buf, e.err.Error())
	}
	l.buf = append(l.buf, '\n')

	_, _ = l.writer.Write(l.buf)
}

// appendTimestamp formats t as "2006-01-02 15:04:05" without allocating.
func appendTimestamp(buf []byte, t time.Time) []byte {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	buf = appendDigits(buf, year, 4)
	buf = append(buf, '-')
	buf = appendDigits(buf, int(month), 2)
	buf = append(buf, '-')
	buf = appendDigits(buf, day, 2)
	buf = append(buf, ' ')
	buf = appendDigits(buf, hour, 2)
	buf = append(buf, ':')
	buf = appendDigits(buf, min, 2)
	buf = append(buf, ':')
	return appendDigits(buf, sec, 2)
}

func appendDigits(buf []byte, n, width int) []byte {
	var tmp [8]byte
	i := len(tmp)
	for w := 0; w < width || n > 0; w++ {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
	}
	return append(buf, tmp[i:]...)
}

// Default logger
var defaultLogger = New(os.Stdout, InfoLevel)

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger
}

// Debug returns a debug level event from the default logger
func Debug() *Event { return defaultLogger.Debug() }

// Info returns an info level event from the default logger
func Info() *Event { return defaultLogger.Info() }

// Warn returns a warn level event from the default logger
func Warn() *Event { return defaultLogger.Warn() }

// Error returns an error level event from the default logger
func Error() *Event { return defaultLogger.Error() }

// Fatal returns a fatal level event from the default logger
func Fatal() *Event { return defaultLogger.Fatal() }

// SetLevel sets the log level for the default logger
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// SetOutput sets the output writer for the default logger
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}
