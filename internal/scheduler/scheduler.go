// Package scheduler arms one trigger per configured daily time per task
// and fires each one in its own goroutine.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"reportbot/internal/logging"
	"reportbot/internal/task"
)

// tickInterval is how often the control loop polls for due triggers.
const tickInterval = time.Second

type trigger struct {
	task *task.Task
	at   string
	next time.Time
}

// Scheduler holds the full set of tasks. Firings run in isolated
// goroutines so a stuck task cannot block the control loop or other
// tasks; in-flight firings are not awaited on shutdown because each
// task releases its own resources on every exit path.
type Scheduler struct {
	tasks    []*task.Task
	triggers []*trigger
	log      *logging.Logger
	debug    bool

	tick time.Duration
	now  func() time.Time
}

func New(tasks []*task.Task, debug bool, log *logging.Logger) *Scheduler {
	return &Scheduler{
		tasks: tasks,
		log:   log,
		debug: debug,
		tick:  tickInterval,
		now:   time.Now,
	}
}

// Run arms all triggers and blocks polling for due ones until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.arm(); err != nil {
		return err
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Plain().WithField("triggers", len(s.triggers)).Info("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Plain().Info("scheduler stopping")
			return nil
		case <-ticker.C:
			s.fireDue()
		}
	}
}

// arm computes the next occurrence of every configured daily time.
func (s *Scheduler) arm() error {
	now := s.now()
	for _, t := range s.tasks {
		for _, at := range t.ScheduleTimes() {
			next, err := nextAfter(now, at)
			if err != nil {
				return fmt.Errorf("task %s: %w", t.Name(), err)
			}
			s.triggers = append(s.triggers, &trigger{task: t, at: at, next: next})
			s.log.Plain().WithTask(t.Name()).
				WithField("at", at).Info("trigger armed")
		}
	}
	return nil
}

// fireDue launches every due trigger and re-arms it for the next day.
func (s *Scheduler) fireDue() {
	now := s.now()
	for _, tr := range s.triggers {
		if now.Before(tr.next) {
			continue
		}
		tr.next = tr.next.AddDate(0, 0, 1)
		s.log.Plain().WithTask(tr.task.Name()).WithField("at", tr.at).Info("trigger fired")
		go tr.task.Execute(context.Background(), s.debug)
	}
}

// RunAll executes every task immediately, synchronously, in caller
// order. Used for debugging.
func (s *Scheduler) RunAll(ctx context.Context) {
	for _, t := range s.tasks {
		s.log.Plain().WithTask(t.Name()).Info("running task now")
		t.Execute(ctx, s.debug)
	}
}

// RunOne executes the task at the given index immediately.
func (s *Scheduler) RunOne(ctx context.Context, index int) error {
	if index < 0 || index >= len(s.tasks) {
		return fmt.Errorf("task index %d out of range (have %d tasks)", index, len(s.tasks))
	}
	t := s.tasks[index]
	s.log.Plain().WithTask(t.Name()).Info("running task now")
	t.Execute(ctx, s.debug)
	return nil
}

// nextAfter returns the first occurrence of the daily HH:MM time
// strictly after now, in now's location.
func nextAfter(now time.Time, hhmm string) (time.Time, error) {
	at, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad trigger time %q", hhmm)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
