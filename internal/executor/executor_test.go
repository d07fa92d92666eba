package executor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reportbot/internal/config"
	"reportbot/internal/logging"
	"reportbot/internal/spreadsheet"
)

// stubWorkbook drives the executor through the spreadsheet session.
type stubWorkbook struct {
	refreshCalls int
	refreshErr   error
	idle         bool

	indicator string
	readCalls int
	readErr   error

	failRanges map[string]bool
}

func (s *stubWorkbook) RefreshAll(ctx context.Context) error {
	s.refreshCalls++
	return s.refreshErr
}

func (s *stubWorkbook) CalcState(ctx context.Context) (string, error) {
	if s.idle {
		return spreadsheet.CalcIdle, nil
	}
	return "busy", nil
}

func (s *stubWorkbook) ReadCell(ctx context.Context, rangeAddr string) (string, error) {
	s.readCalls++
	if s.readErr != nil {
		return "", s.readErr
	}
	return s.indicator, nil
}

func (s *stubWorkbook) CaptureRegion(ctx context.Context, sheet, rangeAddr string) ([]byte, error) {
	if s.failRanges[rangeAddr] {
		return nil, errors.New("render failed")
	}
	return []byte("png"), nil
}

func (s *stubWorkbook) Close(ctx context.Context) error { return nil }

type stubEngine struct{ wb *stubWorkbook }

func (e *stubEngine) Open(ctx context.Context, path string, visible bool) (spreadsheet.Workbook, error) {
	return e.wb, nil
}

func newTestExecutor(t *testing.T, wb *stubWorkbook) *Executor {
	t.Helper()
	source := filepath.Join(t.TempDir(), "report.xlsx")
	sess, err := spreadsheet.Open(context.Background(), &stubEngine{wb: wb}, source, false, logging.New("test"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sess.PollInterval = time.Millisecond

	e := New(sess, logging.New("test"))
	e.sleep = func(time.Duration) {}
	return e
}

func baseTask() config.Task {
	return config.Task{
		Name:           "report",
		RefreshTimeout: time.Second,
		Captures: []config.CaptureSpec{
			{SheetName: "Summary", Range: "A1:D20", Name: "summary"},
		},
	}
}

func TestRunRefreshTimeout(t *testing.T) {
	wb := &stubWorkbook{idle: false}
	e := newTestExecutor(t, wb)

	task := baseTask()
	task.RefreshTimeout = 10 * time.Millisecond

	res := e.Run(context.Background(), task)
	if !res.Failed() || res.Reason != FailRefresh {
		t.Errorf("Run() reason = %q, want %q", res.Reason, FailRefresh)
	}
	if len(res.Artifacts) != 0 {
		t.Errorf("Run() artifacts = %d, want 0", len(res.Artifacts))
	}
}

func TestRunRefreshFault(t *testing.T) {
	wb := &stubWorkbook{refreshErr: errors.New("bridge down")}
	e := newTestExecutor(t, wb)

	res := e.Run(context.Background(), baseTask())
	if res.Reason != FailRefresh {
		t.Errorf("Run() reason = %q, want %q", res.Reason, FailRefresh)
	}
}

func TestValidationExhaustsAttempts(t *testing.T) {
	wb := &stubWorkbook{idle: true, indicator: "0"}
	e := newTestExecutor(t, wb)

	task := baseTask()
	task.Validation = &config.Validation{
		CheckRange:  "Check!A1",
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}

	res := e.Run(context.Background(), task)
	if res.Reason != FailValidate {
		t.Fatalf("Run() reason = %q, want %q", res.Reason, FailValidate)
	}
	if wb.readCalls != 3 {
		t.Errorf("indicator reads = %d, want exactly 3", wb.readCalls)
	}
	// 1 initial refresh + one re-refresh before each of the 2 retries.
	if wb.refreshCalls != 3 {
		t.Errorf("refreshes = %d, want 3", wb.refreshCalls)
	}
}

func TestValidationPassesFirstAttempt(t *testing.T) {
	wb := &stubWorkbook{idle: true, indicator: "1"}
	e := newTestExecutor(t, wb)

	task := baseTask()
	task.Validation = &config.Validation{
		CheckRange:  "Check!A1",
		MaxAttempts: 5,
		RetryDelay:  time.Millisecond,
	}

	res := e.Run(context.Background(), task)
	if res.Failed() {
		t.Fatalf("Run() reason = %q, want success", res.Reason)
	}
	if wb.readCalls != 1 {
		t.Errorf("indicator reads = %d, want exactly 1", wb.readCalls)
	}
	if wb.refreshCalls != 1 {
		t.Errorf("refreshes = %d, want 1", wb.refreshCalls)
	}
}

func TestValidationSentinelIsLiteral(t *testing.T) {
	// "true" and other truthy values are not the sentinel.
	for _, value := range []string{"true", "yes", "2", ""} {
		wb := &stubWorkbook{idle: true, indicator: value}
		e := newTestExecutor(t, wb)

		task := baseTask()
		task.Validation = &config.Validation{
			CheckRange:  "Check!A1",
			MaxAttempts: 1,
			RetryDelay:  time.Millisecond,
		}

		if res := e.Run(context.Background(), task); res.Reason != FailValidate {
			t.Errorf("indicator %q: reason = %q, want %q", value, res.Reason, FailValidate)
		}
	}
}

func TestCaptureSkipsFailedRegion(t *testing.T) {
	wb := &stubWorkbook{idle: true, failRanges: map[string]bool{"B1:B9": true}}
	e := newTestExecutor(t, wb)

	task := baseTask()
	task.Captures = []config.CaptureSpec{
		{SheetName: "S", Range: "A1:A9", Name: "first"},
		{SheetName: "S", Range: "B1:B9", Name: "second"},
		{SheetName: "S", Range: "C1:C9", Name: "third"},
	}

	res := e.Run(context.Background(), task)
	if res.Failed() {
		t.Fatalf("Run() reason = %q, want success despite capture failure", res.Reason)
	}
	if len(res.Artifacts) != 2 {
		t.Fatalf("Run() artifacts = %d, want 2", len(res.Artifacts))
	}
	for i, want := range []string{"first_", "third_"} {
		if base := filepath.Base(res.Artifacts[i].Path); !strings.HasPrefix(base, want) {
			t.Errorf("artifact[%d] = %q, want prefix %q", i, base, want)
		}
	}
}

func TestAllCapturesFailedStillSucceeds(t *testing.T) {
	wb := &stubWorkbook{idle: true, failRanges: map[string]bool{"A1:D20": true}}
	e := newTestExecutor(t, wb)

	res := e.Run(context.Background(), baseTask())
	if res.Failed() {
		t.Errorf("Run() reason = %q, want success with zero artifacts", res.Reason)
	}
	if len(res.Artifacts) != 0 {
		t.Errorf("Run() artifacts = %d, want 0", len(res.Artifacts))
	}
}
