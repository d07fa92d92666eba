package spreadsheet

import (
	"context"
	"time"
)

// CalcIdle is the calculation state the automation service reports once
// a refresh has fully settled.
const CalcIdle = "idle"

// Artifact is one rendered region image on local disk. Produced by
// capture, consumed by delivery, deleted by cleanup.
type Artifact struct {
	Path      string
	CreatedAt time.Time
}

// Engine opens workbooks on the external document-automation service.
type Engine interface {
	// Open returns a handle to the workbook at path. The visible hint
	// asks the service for an interactive session when debugging.
	Open(ctx context.Context, path string, visible bool) (Workbook, error)
}

// Workbook is one open document handle. All operations are synchronous
// from the caller's point of view; refresh completion is polled through
// CalcState rather than pushed.
type Workbook interface {
	// RefreshAll triggers a full data reload of every connection in the
	// workbook. It returns once the reload has been started.
	RefreshAll(ctx context.Context) error

	// CalcState reports the current calculation state, CalcIdle once all
	// pending recalculation has finished.
	CalcState(ctx context.Context) (string, error)

	// ReadCell returns the canonical string form of the value at the
	// given range address.
	ReadCell(ctx context.Context, rangeAddr string) (string, error)

	// CaptureRegion renders a rectangle of the named sheet to PNG bytes.
	// An explicit "A1:D20" address is used verbatim; a bare anchor cell
	// expands to the current region around it.
	CaptureRegion(ctx context.Context, sheet, rangeAddr string) ([]byte, error)

	// Close releases the handle on the service.
	Close(ctx context.Context) error
}
