package voxmesh

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

type Logger interface {
	DebugEnabled() bool
	SetDebug(enabled bool)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type level string

const (
	levelDebug level = "DEBUG"
	levelInfo  level = "INFO"
	levelWarn  level = "WARN"
	levelError level = "ERROR"
)

// DefaultLogger writes debug and info lines to one sink and warnings and
// errors to another, each tagged with the domain prefix.
type DefaultLogger struct {
	debug  atomic.Bool
	prefix string
	out    *log.Logger
	err    *log.Logger
}

func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	return NewLoggerTo(os.Stdout, os.Stderr, prefix, debug)
}

func NewLoggerTo(out, errOut io.Writer, prefix string, debug bool) *DefaultLogger {
	flags := log.LstdFlags | log.Lmicroseconds
	l := &DefaultLogger{
		prefix: prefix,
		out:    log.New(out, "", flags),
		err:    log.New(errOut, "", flags),
	}
	l.debug.Store(debug)
	return l
}

func (l *DefaultLogger) DebugEnabled() bool        { return l.debug.Load() }
func (l *DefaultLogger) SetDebug(enabled bool)     { l.debug.Store(enabled) }
func (l *DefaultLogger) Debugf(f string, a ...any) { l.logf(levelDebug, f, a...) }
func (l *DefaultLogger) Infof(f string, a ...any)  { l.logf(levelInfo, f, a...) }
func (l *DefaultLogger) Warnf(f string, a ...any)  { l.logf(levelWarn, f, a...) }
func (l *DefaultLogger) Errorf(f string, a ...any) { l.logf(levelError, f, a...) }

func (l *DefaultLogger) logf(lv level, format string, args ...any) {
	sink := l.out
	switch lv {
	case levelDebug:
		if !l.debug.Load() {
			return
		}
	case levelWarn, levelError:
		sink = l.err
	}
	msg := fmt.Sprintf(format, args...)
	if l.prefix == "" {
		sink.Printf("%s: %s", lv, msg)
		return
	}
	sink.Printf("[%s] %s: %s", l.prefix, lv, msg)
}

// LoggingModule installs a logger as a resource. Install it first: modules
// capture app.Logger() while installing. An empty Prefix uses the domain name.
type LoggingModule struct {
	Prefix string
	Debug  bool
	// Logger, when set, is shared instead of creating a new one.
	Logger Logger
}

func (m LoggingModule) Install(app *App, cmd *Commands) {
	logger := m.Logger
	if logger == nil {
		prefix := m.Prefix
		if prefix == "" {
			prefix = app.name
		}
		logger = NewDefaultLogger(prefix, m.Debug)
	}
	app.addResources(&LoggerResource{Logger: logger})
}

// LoggerResource holds the domain's logger; systems declare a Logger
// parameter instead of taking it directly.
type LoggerResource struct {
	Logger
}

type nopLogger struct{}

func NewNopLogger() Logger { return &nopLogger{} }
func (n *nopLogger) DebugEnabled() bool                { return false }
func (n *nopLogger) SetDebug(enabled bool)             {}
func (n *nopLogger) Debugf(format string, args ...any) {}
func (n *nopLogger) Infof(format string, args ...any)  {}
func (n *nopLogger) Warnf(format string, args ...any)  {}
func (n *nopLogger) Errorf(format string, args ...any) {}

// Logger returns the installed logger, otherwise a no-op logger.
// Safe to call at any time; never returns nil.
func (app *App) Logger() Logger {
	if app == nil || app.resources == nil {
		return NewNopLogger()
	}
	if r, ok := Resource[LoggerResource](app); ok && r.Logger != nil {
		return r.Logger
	}
	return NewNopLogger()
}
