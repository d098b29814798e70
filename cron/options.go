package cron

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser represents a cron expression parser type
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the timezone location for the scheduler
func WithLocation(loc *time.Location) Option {
	return func(cs *Scheduler) {
		cs.location = loc
	}
}

// WithLogger sets a custom logger for the scheduler
func WithLogger(logger Logger) Option {
	return func(cs *Scheduler) {
		cs.logger = logger
	}
}

// WithLogWriter sets a custom writer for logging
func WithLogWriter(writer io.Writer) Option {
	return func(cs *Scheduler) {
		cs.logWriter = writer
	}
}

// WithLogLevel sets the logging level
func WithLogLevel(level LogLevel) Option {
	return func(cs *Scheduler) {
		cs.logLevel = level
	}
}

// WithErrorHandler sets a custom error handler for the scheduler
func WithErrorHandler(handler func(error)) Option {
	return func(cs *Scheduler) {
		cs.errorHandler = handler
	}
}

// WithParser sets the type of cron expression parser to use
func WithParser(p Parser) Option {
	return func(cs *Scheduler) {
		cs.parser = p
	}
}

// loggerAdapter adapts our Logger interface to robfig/cron's logger, which
// passes key/value pairs rather than printf arguments.
type loggerAdapter struct {
	logger Logger
	level  LogLevel
}

func (l *loggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	if l.level >= LogLevelInfo {
		l.logger.Info("%s", withKeysAndValues(msg, keysAndValues))
	}
}

func (l *loggerAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.level < LogLevelError {
		return
	}
	line := withKeysAndValues(msg, keysAndValues)
	if err != nil {
		line = fmt.Sprintf("%s: %v", line, err)
	}
	l.logger.Error("%s", line)
}

func withKeysAndValues(msg string, kv []interface{}) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
			continue
		}
		fmt.Fprintf(&b, "%v", kv[i])
	}
	return b.String()
}

// errorHandlerAdapter adapts a simple error handler function to implement cron.Logger
type errorHandlerAdapter struct {
	handler func(error)
}

func (e *errorHandlerAdapter) Info(string, ...interface{}) {}

func (e *errorHandlerAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	if e.handler == nil {
		return
	}
	if err == nil {
		err = fmt.Errorf("%s", withKeysAndValues(msg, keysAndValues))
	}
	e.handler(err)
}
