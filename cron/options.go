package cron

import (
	"fmt"
	"io"
	"time"

	taskscope "github.com/goliatone/go-taskscope"
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

// Option configures a Starter.
type Option func(*Starter)

// WithLocation sets the timezone expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Starter) {
		s.location = loc
	}
}

func WithLogger(logger taskscope.Logger) Option {
	return func(s *Starter) {
		s.logger = logger
	}
}

// WithLogWriter sets a custom writer for the cron loop log.
func WithLogWriter(writer io.Writer) Option {
	return func(s *Starter) {
		s.logWriter = writer
	}
}

func WithLogLevel(level LogLevel) Option {
	return func(s *Starter) {
		s.logLevel = level
	}
}

// WithErrorHandler receives failed starts and recovered job panics.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Starter) {
		if handler != nil {
			s.errorHandler = handler
		}
	}
}

// WithParser sets the type of cron expression parser to use
func WithParser(p Parser) Option {
	return func(s *Starter) {
		s.parser = p
	}
}

// WithStartTimeout bounds input building plus the start call. Zero disables it.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Starter) {
		s.timeout = d
	}
}

// loggerAdapter adapts taskscope.Logger to the robfig/cron logger.
type loggerAdapter struct {
	logger taskscope.Logger
	level  LogLevel
}

func (l *loggerAdapter) Info(msg string, args ...interface{}) {
	if l.level >= LogLevelInfo {
		l.logger.Info("%s %v", msg, args)
	}
}

func (l *loggerAdapter) Error(err error, msg string, args ...interface{}) {
	if l.level >= LogLevelError {
		l.logger.Error("%s %v: %v", msg, args, err)
	}
}

// errorHandlerAdapter forwards recovered job panics to an error handler.
type errorHandlerAdapter struct {
	handler func(error)
}

func (e *errorHandlerAdapter) Info(msg string, args ...interface{}) {}

func (e *errorHandlerAdapter) Error(err error, msg string, args ...interface{}) {
	if e.handler == nil {
		return
	}
	if err != nil {
		e.handler(err)
		return
	}
	e.handler(fmt.Errorf("%s %v", msg, args))
}
