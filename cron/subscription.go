package cron

import "sync"

// ScheduleStatus reports a schedule handle state.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusIdle      ScheduleStatus = "idle"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCanceled  ScheduleStatus = "canceled"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusStopped   ScheduleStatus = "stopped"
)

// Handle controls one scheduled orchestration start.
type Handle interface {
	Cancel()
	Status() ScheduleStatus
	Err() error
	Done() <-chan struct{}
	ID() int64
	// Instances returns the ids of the instances started so far.
	Instances() []string
}

type schedule struct {
	starter *Starter
	id      int64
	entryID int
	name    string
	version string
	done    chan struct{}

	mu        sync.RWMutex
	status    ScheduleStatus
	err       error
	instances []string
	once      sync.Once
}

func (s *schedule) Cancel() {
	s.once.Do(func() {
		s.starter.removeHandle(s.id)
		s.setTerminal(ScheduleStatusCanceled, nil)
	})
}

func (s *schedule) Status() ScheduleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *schedule) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *schedule) Done() <-chan struct{} { return s.done }

func (s *schedule) ID() int64 { return s.id }

func (s *schedule) Instances() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.instances...)
}

func (s *schedule) recordRun(instanceID string) {
	s.mu.Lock()
	s.instances = append(s.instances, instanceID)
	s.mu.Unlock()
}

func (s *schedule) setStatus(status ScheduleStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
}

func (s *schedule) setTerminal(status ScheduleStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
