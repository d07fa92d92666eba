// Package task binds one report configuration to the stage executor and
// the delivery pipeline. A Task is the unit of failure isolation: its
// Execute never propagates a fault to the caller.
package task

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"reportbot/internal/config"
	"reportbot/internal/delivery"
	"reportbot/internal/executor"
	"reportbot/internal/logging"
	"reportbot/internal/metrics"
	"reportbot/internal/spreadsheet"
	"reportbot/internal/tracing"
)

// refreshFailedMessage is the fixed warning sent when the refresh stage
// fails or times out.
const refreshFailedMessage = "data refresh failed, please check the upstream connection"

// validateFailedMessage is used when the validation block configures no
// message of its own.
const validateFailedMessage = "report data is stale, freshness check did not pass"

// Task is one configured report job bound to its collaborators.
type Task struct {
	cfg      config.Task
	engine   spreadsheet.Engine
	notifier *delivery.Notifier
	pipeline *delivery.Pipeline
	log      *logging.Logger

	// inFlight counts concurrent firings of this task. Overlap is a
	// configuration hazard, warned about but not serialized.
	inFlight atomic.Int32
}

func New(cfg config.Task, engine spreadsheet.Engine, notifier *delivery.Notifier, pipeline *delivery.Pipeline, log *logging.Logger) *Task {
	return &Task{
		cfg:      cfg,
		engine:   engine,
		notifier: notifier,
		pipeline: pipeline,
		log:      log,
	}
}

func (t *Task) Name() string {
	return t.cfg.Name
}

// ScheduleTimes returns the configured daily trigger times.
func (t *Task) ScheduleTimes() []string {
	return t.cfg.Schedule.Times
}

// Execute runs one firing to completion: open a session, run the
// stages, notify or deliver, release the session on every exit path.
// Any unexpected fault is caught here and logged with elapsed time.
func (t *Task) Execute(ctx context.Context, debug bool) {
	if n := t.inFlight.Add(1); n > 1 {
		t.log.Plain().WithTask(t.cfg.Name).
			Warnf("previous firing still in flight (%d running)", n)
	}
	defer t.inFlight.Add(-1)

	firingID := uuid.NewString()
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "task.firing",
		attribute.String("task", t.cfg.Name),
		attribute.String("firing_id", firingID),
	)
	defer span.End()

	outcome := "error"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			t.log.WithContext(ctx).WithTask(t.cfg.Name).WithFiring(firingID).
				Errorf("firing panicked: %v", r)
		}
		elapsed := time.Since(start)
		metrics.RecordFiring(outcome, elapsed.Seconds())
		t.log.WithContext(ctx).WithTask(t.cfg.Name).WithFiring(firingID).
			WithField("elapsed", elapsed.String()).Infof("firing finished: %s", outcome)
	}()

	t.log.WithContext(ctx).WithTask(t.cfg.Name).WithFiring(firingID).Info("firing started")

	sess, err := spreadsheet.Open(ctx, t.engine, t.cfg.SourcePath, debug, t.log)
	if err != nil {
		t.log.WithContext(ctx).WithTask(t.cfg.Name).WithFiring(firingID).
			WithError(err).Error("session open failed")
		tracing.SetSpanError(ctx, err)
		return
	}
	// Released on every exit path; Close is idempotent so the explicit
	// close on the success path below is safe.
	defer sess.Close(ctx)

	res := executor.New(sess, t.log).Run(ctx, t.cfg)

	switch res.Reason {
	case executor.FailRefresh:
		outcome = "refresh_failed"
		msg := delivery.NewTextMessage(refreshFailedMessage, nil)
		_ = t.notifier.Send(ctx, t.cfg.WarningWebhook(), msg, "refresh failure warning")
		return
	case executor.FailValidate:
		outcome = "validate_failed"
		content := validateFailedMessage
		var mentioned []string
		if v := t.cfg.Validation; v != nil {
			if v.NotifyMessage != "" {
				content = v.NotifyMessage
			}
			mentioned = v.NotifyUsers
		}
		msg := delivery.NewTextMessage(content, mentioned)
		_ = t.notifier.Send(ctx, t.cfg.WarningWebhook(), msg, "validation failure warning")
		return
	}

	// The session must be released before delivery starts sending: the
	// pipeline only needs the files on disk, not the live handle.
	sess.Close(ctx)

	outcome = "success"
	t.pipeline.Deliver(ctx, res.Artifacts, t.cfg.Attachment, t.cfg.Schedule.Webhook)
}
