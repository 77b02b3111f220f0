// Package cron starts orchestration instances on a recurring schedule.
package cron

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	taskscope "github.com/goliatone/go-taskscope"
)

// OrchestrationScheduler starts orchestration instances. The in-memory
// backend implements it.
type OrchestrationScheduler interface {
	ScheduleOrchestration(ctx context.Context, name, version string, input any) (string, error)
}

// InputFunc builds the input of every started instance. It may be nil.
type InputFunc func(ctx context.Context, firedAt time.Time) (any, error)

// Starter fires orchestration starts from cron expressions.
type Starter struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	target       OrchestrationScheduler
	location     *time.Location
	errorHandler func(error)
	timeout      time.Duration

	logger    taskscope.Logger
	parser    Parser
	logWriter io.Writer
	logLevel  LogLevel

	nextHandleID int64
	handles      map[int64]*schedule
}

// NewStarter returns a stopped starter that schedules on target.
func NewStarter(target OrchestrationScheduler, opts ...Option) *Starter {
	s := &Starter{
		target:   target,
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		timeout:  30 * time.Second,
		errorHandler: func(err error) {
			log.Printf("error: %v\n", err)
		},
		handles: make(map[int64]*schedule),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.cron = rcron.New(s.build()...)
	return s
}

// Schedule starts name@version every time expr fires.
func (s *Starter) Schedule(expr, name, version string, input InputFunc) (Handle, error) {
	if expr == "" {
		return nil, taskscope.NewError(taskscope.ErrConfigInvalid, "cron expression cannot be empty", nil, map[string]any{
			"name": name,
		})
	}
	if err := s.check(name); err != nil {
		return nil, err
	}

	sub := s.newHandle(name, version)
	job := rcron.FuncJob(func() {
		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		if err := s.fire(sub, input, time.Now()); err != nil {
			sub.setStatus(ScheduleStatusFailed, err)
			s.errorHandler(err)
			return
		}
		if !isTerminalStatus(sub.Status()) {
			sub.setStatus(ScheduleStatusIdle, nil)
		}
	})

	entryID, err := s.cron.AddJob(expr, job)
	if err != nil {
		return nil, taskscope.NewError(taskscope.ErrConfigInvalid, "invalid cron expression", err, map[string]any{
			"name":       name,
			"expression": expr,
		})
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	return sub, nil
}

// ScheduleAfter starts name@version once after delay.
func (s *Starter) ScheduleAfter(delay time.Duration, name, version string, input InputFunc) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), name, version, input)
}

// ScheduleAt starts name@version once at a specific time.
func (s *Starter) ScheduleAt(at time.Time, name, version string, input InputFunc) (Handle, error) {
	if err := s.check(name); err != nil {
		return nil, err
	}

	sub := s.newHandle(name, version)
	s.storeHandle(sub)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		err := s.fire(sub, input, time.Now())
		s.removeStoredHandle(sub.id)
		if err != nil {
			sub.setTerminal(ScheduleStatusFailed, err)
			s.errorHandler(err)
			return
		}
		sub.setTerminal(ScheduleStatusCompleted, nil)
	}()

	return sub, nil
}

// Remove cancels every handle bound to a cron entry.
func (s *Starter) Remove(entryID int) {
	var affected []*schedule
	s.mu.Lock()
	for id, handle := range s.handles {
		if handle != nil && handle.entryID == entryID {
			affected = append(affected, handle)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	s.cron.Remove(rcron.EntryID(entryID))
	for _, handle := range affected {
		handle.setTerminal(ScheduleStatusCanceled, nil)
	}
}

// Start begins firing recurring schedules.
func (s *Starter) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops the cron loop, waits for running jobs until ctx is done and
// marks active handles as stopped.
func (s *Starter) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()

	var handles []*schedule
	s.mu.Lock()
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*schedule)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if !isTerminalStatus(handle.Status()) {
			handle.setTerminal(ScheduleStatusStopped, nil)
		}
	}

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of active handles.
func (s *Starter) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Starter) check(name string) error {
	if s.target == nil {
		return taskscope.NewError(taskscope.ErrBackendMissing, "cron starter has no orchestration scheduler", nil, map[string]any{
			"name": name,
		})
	}
	if _, err := taskscope.Decode(name); err != nil {
		return taskscope.NewError(taskscope.ErrDescriptorInvalid, "invalid orchestration name", err, map[string]any{
			"name": name,
		})
	}
	return nil
}

// fire builds the input and starts one instance.
func (s *Starter) fire(sub *schedule, input InputFunc, firedAt time.Time) (err error) {
	fields := map[string]any{
		"handler":  sub.name,
		"version":  sub.version,
		"schedule": sub.id,
	}
	defer taskscope.RecoverError("cron.fire", &err, fields)

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var payload any
	if input != nil {
		if payload, err = input(ctx, firedAt); err != nil {
			return fmt.Errorf("build input for %s: %w", sub.name, err)
		}
	}

	id, err := s.target.ScheduleOrchestration(ctx, sub.name, sub.version, payload)
	if err != nil {
		return err
	}
	sub.recordRun(id)
	if s.logger != nil {
		taskscope.WithLoggerFields(s.logger, fields).Debug("cron started instance_key=%s", id)
	}
	return nil
}

func (s *Starter) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle == nil {
		return
	}
	if handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Starter) removeStoredHandle(id int64) *schedule {
	if id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Starter) storeHandle(handle *schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[handle.id] = handle
}

func (s *Starter) newHandle(name, version string) *schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &schedule{
		starter: s,
		id:      s.nextHandleID,
		name:    name,
		version: version,
		status:  ScheduleStatusScheduled,
		done:    make(chan struct{}),
	}
}

func isTerminalStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

func makeLogger(out io.Writer, level LogLevel) rcron.Logger {
	stdLogger := log.New(out, "cron: ", log.LstdFlags)
	if level >= LogLevelDebug {
		return rcron.VerbosePrintfLogger(stdLogger)
	}
	return rcron.PrintfLogger(stdLogger)
}

// build converts starter options to rcron options.
func (s *Starter) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	opts = append(opts, rcron.WithChain(
		rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
	))

	var cronLogger rcron.Logger
	switch {
	case s.logger != nil:
		cronLogger = &loggerAdapter{logger: s.logger, level: s.logLevel}
	case s.logWriter != nil:
		cronLogger = makeLogger(s.logWriter, s.logLevel)
	default:
		if s.logLevel > LogLevelSilent {
			cronLogger = makeLogger(os.Stdout, s.logLevel)
		}
	}
	if cronLogger != nil {
		opts = append(opts, rcron.WithLogger(cronLogger))
	}
	return opts
}
