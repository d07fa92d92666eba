package spreadsheet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"reportbot/internal/logging"
)

// DefaultPollInterval is how often Refresh checks the calculation state
// while waiting for a data reload to settle.
const DefaultPollInterval = 5 * time.Second

// Session is one single-use workbook handle, owned exclusively by one
// task firing. Close is idempotent and never propagates faults: by the
// time it runs the caller has already committed to tearing down.
type Session struct {
	wb         Workbook
	sourcePath string
	outputDir  string
	log        *logging.Logger

	// PollInterval overrides the refresh polling cadence; tests shrink it.
	PollInterval time.Duration

	sleep  func(time.Duration)
	now    func() time.Time
	closed bool
}

// Open acquires a workbook handle from the engine. On failure the
// partially acquired handle, if any, is already released by the engine.
func Open(ctx context.Context, engine Engine, sourcePath string, visible bool, log *logging.Logger) (*Session, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	wb, err := engine.Open(ctx, abs, visible)
	if err != nil {
		return nil, err
	}
	log.WithContext(ctx).WithField("source", filepath.Base(abs)).Debug("workbook opened")
	return &Session{
		wb:           wb,
		sourcePath:   abs,
		outputDir:    filepath.Dir(abs),
		log:          log,
		PollInterval: DefaultPollInterval,
		sleep:        time.Sleep,
		now:          time.Now,
	}, nil
}

// Refresh triggers a full data reload and polls the calculation state
// until it reports idle or timeout elapses. It returns false on timeout
// and an error on an underlying fault; the two are logged distinctly.
func (s *Session) Refresh(ctx context.Context, timeout time.Duration) (bool, error) {
	s.log.WithContext(ctx).WithStage("refresh").Info("refreshing data")
	start := s.now()

	if err := s.wb.RefreshAll(ctx); err != nil {
		return false, fmt.Errorf("start refresh: %w", err)
	}

	for s.now().Sub(start) < timeout {
		state, err := s.wb.CalcState(ctx)
		if err != nil {
			return false, fmt.Errorf("poll calc state: %w", err)
		}
		if state == CalcIdle {
			s.log.WithContext(ctx).WithStage("refresh").
				WithField("elapsed", s.now().Sub(start).String()).Info("data refresh complete")
			return true, nil
		}
		s.sleep(s.PollInterval)
	}

	s.log.WithContext(ctx).WithStage("refresh").
		WithField("timeout", timeout.String()).Error("data refresh timed out")
	return false, nil
}

// ReadIndicator returns the canonical string value of the given range.
func (s *Session) ReadIndicator(ctx context.Context, rangeAddr string) (string, error) {
	return s.wb.ReadCell(ctx, rangeAddr)
}

// CaptureRegion renders one configured region and writes it next to the
// source workbook under a timestamped name.
func (s *Session) CaptureRegion(ctx context.Context, sheet, rangeAddr, namePrefix string) (Artifact, error) {
	data, err := s.wb.CaptureRegion(ctx, sheet, rangeAddr)
	if err != nil {
		return Artifact{}, fmt.Errorf("capture %s!%s: %w", sheet, rangeAddr, err)
	}

	created := s.now()
	path := filepath.Join(s.outputDir,
		fmt.Sprintf("%s_%s.png", namePrefix, created.Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write capture: %w", err)
	}

	s.log.WithContext(ctx).WithStage("capture").WithArtifact(path).Debug("screenshot written")
	return Artifact{Path: path, CreatedAt: created}, nil
}

// Close releases the workbook handle exactly once. Faults are swallowed
// and logged.
func (s *Session) Close(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	if err := s.wb.Close(ctx); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("workbook release failed")
		return
	}
	s.log.WithContext(ctx).Debug("workbook released")
}
