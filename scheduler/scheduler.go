// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs one task on a cron schedule. A run that is still in
// progress when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron     *cron.Cron
	mu       sync.Mutex
	entryID  cron.EntryID
	location *time.Location
}

// New creates a Scheduler in the given timezone.
func New(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}

	logger := slogLogger{log: slog.Default().With("component", "scheduler")}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		cron:     c,
		location: loc,
	}, nil
}

// Schedule registers task at when, a standard five-field cron expression or
// a daily "HH:MM" time. A previous schedule is replaced.
func (s *Scheduler) Schedule(when string, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expr := when
	if hour, minute, err := parseTime(when); err == nil {
		expr = fmt.Sprintf("%d %d * * *", minute, hour)
	}

	entryID, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return fmt.Errorf("adding cron entry %q: %w", when, err)
	}

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = entryID
	slog.Info("run scheduled", "cron", expr, "timezone", s.location.String())
	return nil
}

// Next returns the next activation time, or the zero time when nothing is
// scheduled or the scheduler is not running.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron scheduler and waits for a running task to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// parseTime extracts hour and minute from HH:MM format.
func parseTime(t string) (int, int, error) {
	if len(t) != 5 || t[2] != ':' {
		return 0, 0, fmt.Errorf("invalid time format %q: must be HH:MM", t)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if t[i] < '0' || t[i] > '9' {
			return 0, 0, fmt.Errorf("invalid time format %q: must be HH:MM", t)
		}
	}

	hour := (int(t[0]-'0') * 10) + int(t[1]-'0')
	minute := (int(t[3]-'0') * 10) + int(t[4]-'0')

	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q: hour 0-23, minute 0-59", t)
	}

	return hour, minute, nil
}

// slogLogger adapts slog to cron.Logger.
type slogLogger struct {
	log *slog.Logger
}

func (l slogLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l slogLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
