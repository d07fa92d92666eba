// Package executor runs the refresh/validate/capture stage sequence
// against one spreadsheet session.
package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"reportbot/internal/config"
	"reportbot/internal/logging"
	"reportbot/internal/metrics"
	"reportbot/internal/spreadsheet"
	"reportbot/internal/tracing"
)

// validSentinel is the sole indicator value that counts as a passed
// freshness check. A literal match, not a truthiness check.
const validSentinel = "1"

// FailureReason identifies which stage ended a firing early.
type FailureReason string

const (
	FailRefresh  FailureReason = "refresh"
	FailValidate FailureReason = "validate"
)

// Result is the outcome of one stage sequence: either a set of produced
// artifacts or a typed failure. Task logic branches on this, never on
// recovered panics.
type Result struct {
	Artifacts []spreadsheet.Artifact
	Reason    FailureReason
}

// Failed reports whether the sequence ended in a stage failure.
func (r Result) Failed() bool {
	return r.Reason != ""
}

// Executor drives the stage state machine
// Start -> Refreshed -> (Validated?) -> Captured -> Done.
type Executor struct {
	sess *spreadsheet.Session
	log  *logging.Logger

	sleep func(time.Duration)
}

func New(sess *spreadsheet.Session, log *logging.Logger) *Executor {
	return &Executor{
		sess:  sess,
		log:   log,
		sleep: time.Sleep,
	}
}

// Run executes the stages in order. A refresh failure is terminal with
// no retry here; validation retries re-trigger refresh because upstream
// data may still be mid-publish; capture failures skip the region but
// never abort the sequence.
func (e *Executor) Run(ctx context.Context, task config.Task) Result {
	ctx, span := tracing.StartSpan(ctx, "executor.run",
		attribute.String("task", task.Name),
	)
	defer span.End()

	tracing.AddSpanEvent(ctx, "stage.refresh")
	ok, err := e.sess.Refresh(ctx, task.RefreshTimeout)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		e.log.WithContext(ctx).WithStage("refresh").WithError(err).Error("refresh failed")
		return Result{Reason: FailRefresh}
	}
	if !ok {
		return Result{Reason: FailRefresh}
	}

	if v := task.Validation; v != nil {
		tracing.AddSpanEvent(ctx, "stage.validate")
		if !e.validate(ctx, task, v) {
			return Result{Reason: FailValidate}
		}
	}

	tracing.AddSpanEvent(ctx, "stage.capture")
	artifacts := e.capture(ctx, task.Captures)
	span.SetAttributes(attribute.Int("artifacts", len(artifacts)))
	return Result{Artifacts: artifacts}
}

// validate reads the freshness indicator up to MaxAttempts times. Each
// retry is preceded by a delay and a fresh refresh.
func (e *Executor) validate(ctx context.Context, task config.Task, v *config.Validation) bool {
	for attempt := 1; attempt <= v.MaxAttempts; attempt++ {
		metrics.ValidationAttemptsTotal.Inc()

		value, err := e.sess.ReadIndicator(ctx, v.CheckRange)
		if err != nil {
			e.log.WithContext(ctx).WithStage("validate").WithError(err).
				WithField("attempt", attempt).Error("indicator read failed")
		} else if value == validSentinel {
			e.log.WithContext(ctx).WithStage("validate").
				WithField("attempt", attempt).Info("freshness check passed")
			return true
		} else {
			e.log.WithContext(ctx).WithStage("validate").WithFields(map[string]any{
				"attempt": attempt,
				"of":      v.MaxAttempts,
				"value":   value,
			}).Warn("freshness check failed")
		}

		if attempt < v.MaxAttempts {
			e.sleep(v.RetryDelay)
			if ok, err := e.sess.Refresh(ctx, task.RefreshTimeout); err != nil || !ok {
				e.log.WithContext(ctx).WithStage("validate").WithError(err).
					Warn("re-refresh before retry failed")
			}
		}
	}
	return false
}

// capture renders each configured region independently. A failed region
// is logged and skipped; the returned artifacts keep configuration order.
func (e *Executor) capture(ctx context.Context, specs []config.CaptureSpec) []spreadsheet.Artifact {
	artifacts := make([]spreadsheet.Artifact, 0, len(specs))
	for _, spec := range specs {
		art, err := e.sess.CaptureRegion(ctx, spec.SheetName, spec.Range, spec.Name)
		if err != nil {
			metrics.RecordCapture("failed")
			e.log.WithContext(ctx).WithStage("capture").WithError(err).
				WithField("name", spec.Name).Error("region capture failed")
			continue
		}
		metrics.RecordCapture("ok")
		artifacts = append(artifacts, art)
	}
	return artifacts
}
