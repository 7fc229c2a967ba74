// Package scheduler provides scheduling logic for PiDogd.
//
// It starts behaviors (such as a morning wake-up or an hourly patrol) on cron expressions.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/PiDogd/internal/behavior"
	"github.com/BTreeMap/PiDogd/internal/config"
	"github.com/robfig/cron/v3"
)

// Starter starts a behavior by name. behavior.Supervisor satisfies it.
type Starter interface {
	Start(name string) (behavior.Status, error)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron (min, hour, dom, month, dow) plus @hourly / @every descriptors, with recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := slogLogger{}
	c := cron.New(cron.WithParser(parser), cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleBehavior starts the named behavior on sup every time expr fires.
func (s *Scheduler) ScheduleBehavior(expr, name string, sup Starter) error {
	err := s.AddJob(expr, func() {
		st, err := sup.Start(name)
		if err != nil {
			slog.Error("Scheduler: scheduled behavior failed to start", "cron", expr, "behavior", name, "error", err)
			return
		}
		slog.Info("Scheduler: scheduled behavior started", "cron", expr, "behavior", st.Behavior, "run_id", st.RunID)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for %s: %w", expr, name, err)
	}
	return nil
}

// Load schedules every configured entry against sup. Entries with an unknown behavior or a
// bad expression are reported together; the valid ones are still scheduled.
func (s *Scheduler) Load(schedules []config.Schedule, reg *behavior.Registry, sup Starter) error {
	var errs []error
	for _, sc := range schedules {
		if reg != nil {
			if _, ok := reg.Lookup(sc.Behavior); !ok {
				errs = append(errs, fmt.Errorf("%w: %q", behavior.ErrNotSupported, sc.Behavior))
				continue
			}
		}
		if err := s.ScheduleBehavior(sc.Cron, sc.Behavior, sup); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Debug("Scheduler.Load: behavior scheduled", "cron", sc.Cron, "behavior", sc.Behavior)
	}
	return errors.Join(errs...)
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// slogLogger routes cron's own logging through slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
