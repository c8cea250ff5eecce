// Package rlog is a small structured, leveled logger in the style of
// go-ethereum's log package (itself a log15 derivative): colorized
// terminal output when attached to a tty, plain output otherwise, and
// call-site capture for anything at Warn level or above.
package rlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level orders log severities from most to least verbose.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "?????"
	}
}

var levelColor = map[Level]*color.Color{
	LevelTrace: color.New(color.FgHiBlack),
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// Logger emits leveled, key/value structured log lines carrying a fixed
// set of context pairs established by New.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	ctx []interface{}
}

var (
	mu       sync.Mutex
	out      io.Writer
	colorize bool
	minLevel = LevelInfo
)

func init() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = colorable.NewColorable(os.Stderr)
		colorize = true
	} else {
		out = os.Stderr
		colorize = false
	}
}

// SetOutput redirects all log output; primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	colorize = false
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// New returns a root logger carrying ctx as a fixed key/value prefix on
// every line it emits.
func New(ctx ...interface{}) Logger {
	return &logger{ctx: ctx}
}

func (l *logger) New(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &logger{ctx: merged}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LevelError, msg, ctx) }

func (l *logger) write(level Level, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if level < minLevel {
		return
	}

	var b strings.Builder
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	if colorize {
		c := levelColor[level]
		fmt.Fprintf(&b, "%s %s %s", ts, c.Sprintf("%-5s", level), msg)
	} else {
		fmt.Fprintf(&b, "%s %-5s %s", ts, level, msg)
	}

	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}

	if level >= LevelWarn {
		// Capture the caller two frames up: write -> Warn/Error -> caller.
		fmt.Fprintf(&b, " caller=%+v", stack.Caller(2))
	}
	fmt.Fprintln(&b)
	io.WriteString(out, b.String())
}
