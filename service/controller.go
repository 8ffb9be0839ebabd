package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surajmurari02/ocr-card/model"
	"github.com/surajmurari02/ocr-card/pkg/logger"
)

type Validator interface {
	Validate(c *model.UploadCandidate) error
}

type Preparer interface {
	Prepare(ctx context.Context, c *model.UploadCandidate) (*model.UploadCandidate, error)
}

type Scanner interface {
	Submit(ctx context.Context, c *model.UploadCandidate, opts SubmitOptions) (*model.ContactRecord, error)
}

type Exporter interface {
	Export(rec *model.ContactRecord, format string) (*model.ExportArtifact, error)
}

// ControllerDeps are the collaborators injected into every controller.
type ControllerDeps struct {
	Validator Validator
	Preparer  Preparer // optional
	Scanner   Scanner
	Exporter  Exporter

	// Deadline bounds a whole scan including retries so Scanning always resolves.
	Deadline time.Duration
	Submit   SubmitOptions
}

// ScanTicket identifies one started scan.
type ScanTicket struct {
	ID         string
	generation uint64
	done       chan struct{}
}

// Done is closed when the scan has resolved, whether or not its result was kept.
func (t *ScanTicket) Done() <-chan struct{} {
	return t.done
}

// UploadController owns the scan state machine for one page session:
// idle -> file_selected -> validating -> scanning -> result_ready | scan_failed.
// At most one scan is in flight; results of abandoned scans are discarded.
type UploadController struct {
	deps      ControllerDeps
	sessionID string

	mu         sync.Mutex
	state      model.ScanState
	candidate  *model.UploadCandidate
	filename   string
	record     *model.ContactRecord
	err        error
	generation uint64
	scanID     string
	cancel     context.CancelFunc
	startedAt  time.Time
	updatedAt  time.Time
}

func NewUploadController(sessionID string, deps ControllerDeps) *UploadController {
	if deps.Deadline <= 0 {
		deps.Deadline = time.Minute
	}
	return &UploadController{
		deps:      deps,
		sessionID: sessionID,
		state:     model.StateIdle,
		updatedAt: time.Now(),
	}
}

// Select stores a new candidate. Selecting while a scan is running abandons it.
func (c *UploadController) Select(ctx context.Context, candidate *model.UploadCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selectLocked(ctx, candidate)
}

func (c *UploadController) selectLocked(ctx context.Context, candidate *model.UploadCandidate) {
	c.abandonLocked(ctx, "new upload")
	c.candidate = candidate
	c.filename = ""
	if candidate != nil {
		c.filename = candidate.Filename
	}
	c.record = nil
	c.err = nil
	c.setStateLocked(model.StateFileSelected)
}

// Start validates the selected candidate and launches the OCR call in the
// background. Validation failures are returned directly and leave the
// controller in scan_failed without any network traffic.
func (c *UploadController) Start(ctx context.Context) (*ScanTicket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.startLocked(ctx)
}

func (c *UploadController) startLocked(ctx context.Context) (*ScanTicket, error) {
	if c.state == model.StateScanning {
		return nil, scanInProgress()
	}
	if c.candidate == nil {
		return nil, model.NewScanError(model.CategoryState, model.ErrNoFileSelected, "No file selected", nil)
	}

	candidate := c.candidate
	c.setStateLocked(model.StateValidating)
	if err := c.deps.Validator.Validate(candidate); err != nil {
		c.candidate = nil
		c.err = err
		c.setStateLocked(model.StateScanFailed)
		logger.Info(c.logContext(ctx, ""), "scan.rejected", "error", err)
		return nil, err
	}

	c.generation++
	ticket := &ScanTicket{
		ID:         uuid.New().String(),
		generation: c.generation,
		done:       make(chan struct{}),
	}

	scanCtx := c.logContext(context.WithoutCancel(ctx), ticket.ID)
	scanCtx, cancel := context.WithTimeout(scanCtx, c.deps.Deadline)
	c.cancel = cancel
	c.scanID = ticket.ID
	c.startedAt = time.Now()
	c.setStateLocked(model.StateScanning)

	logger.Info(scanCtx, "scan.started", "filename", c.filename, "bytes", candidate.Size)
	go c.run(scanCtx, cancel, ticket, candidate)
	return ticket, nil
}

func (c *UploadController) run(ctx context.Context, cancel context.CancelFunc, ticket *ScanTicket, candidate *model.UploadCandidate) {
	defer close(ticket.done)
	defer cancel()

	rec, err := c.scan(ctx, candidate)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = model.NewScanError(model.CategoryNetwork, model.ErrUnreachable,
			"The scan took too long and was stopped. Please try again.", ctx.Err())
	}
	c.finish(ctx, ticket, rec, err)
}

func (c *UploadController) scan(ctx context.Context, candidate *model.UploadCandidate) (*model.ContactRecord, error) {
	if c.deps.Preparer != nil {
		prepared, err := c.deps.Preparer.Prepare(ctx, candidate)
		if err != nil {
			return nil, err
		}
		candidate = prepared
	}
	return c.deps.Scanner.Submit(ctx, candidate, c.deps.Submit)
}

func (c *UploadController) finish(ctx context.Context, ticket *ScanTicket, rec *model.ContactRecord, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ticket.generation != c.generation || c.state != model.StateScanning {
		logger.Info(ctx, "scan.discarded", "success", err == nil)
		return
	}

	c.candidate = nil
	c.cancel = nil
	elapsed := time.Since(c.startedAt)
	if err != nil {
		c.err = err
		c.record = nil
		c.setStateLocked(model.StateScanFailed)
		logger.Warn(ctx, "scan.failed", "category", model.CategoryOf(err), "error", err, "elapsed_ms", elapsed.Milliseconds())
		return
	}
	c.record = rec
	c.err = nil
	c.setStateLocked(model.StateResultReady)
	logger.Info(ctx, "scan.completed", "elapsed_ms", elapsed.Milliseconds())
}

// Wait starts a scan and blocks until it resolves or ctx is done. When ctx
// ends first the scan is abandoned and its eventual outcome discarded.
func (c *UploadController) Wait(ctx context.Context) (model.Scan, error) {
	ticket, err := c.Start(ctx)
	if err != nil {
		return c.Snapshot(), err
	}
	return c.await(ctx, ticket)
}

// Process selects candidate and scans it to completion. Unlike Select it
// refuses while another scan is in flight, leaving that scan untouched.
func (c *UploadController) Process(ctx context.Context, candidate *model.UploadCandidate) (model.Scan, error) {
	c.mu.Lock()
	if c.state == model.StateScanning {
		c.mu.Unlock()
		logger.Info(c.logContext(ctx, ""), "scan.rejected", "reason", "in progress")
		return c.Snapshot(), scanInProgress()
	}
	c.selectLocked(ctx, candidate)
	ticket, err := c.startLocked(ctx)
	c.mu.Unlock()

	if err != nil {
		return c.Snapshot(), err
	}
	return c.await(ctx, ticket)
}

func (c *UploadController) await(ctx context.Context, ticket *ScanTicket) (model.Scan, error) {
	select {
	case <-ticket.Done():
		snap := c.Snapshot()
		if snap.State == model.StateScanFailed {
			return snap, snap.Err
		}
		if snap.State != model.StateResultReady {
			// Another request replaced this scan before it resolved.
			return snap, abandoned(errors.New("superseded"))
		}
		return snap, nil
	case <-ctx.Done():
		c.Abandon(ctx, ticket)
		return c.Snapshot(), abandoned(ctx.Err())
	}
}

// Abandon cancels the scan identified by ticket if it is still the current
// one, returning the controller to idle.
func (c *UploadController) Abandon(ctx context.Context, ticket *ScanTicket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ticket == nil || ticket.generation != c.generation || c.state != model.StateScanning {
		return
	}
	c.abandonLocked(ctx, "navigated away")
	c.candidate = nil
	c.setStateLocked(model.StateIdle)
}

// Reset is "new scan": any in-flight scan is abandoned and the result destroyed.
func (c *UploadController) Reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandonLocked(ctx, "reset")
	c.candidate = nil
	c.filename = ""
	c.record = nil
	c.err = nil
	c.setStateLocked(model.StateIdle)
}

// Export renders the current result. It never changes state.
func (c *UploadController) Export(format string) (*model.ExportArtifact, error) {
	c.mu.Lock()
	rec := c.record
	ready := c.state == model.StateResultReady
	c.mu.Unlock()

	if !ready {
		rec = nil
	}
	return c.deps.Exporter.Export(rec, format)
}

func (c *UploadController) Snapshot() model.Scan {
	c.mu.Lock()
	defer c.mu.Unlock()

	return model.Scan{
		ID:        c.scanID,
		Filename:  c.filename,
		State:     c.state,
		Record:    c.record,
		Err:       c.err,
		StartedAt: c.startedAt,
		UpdatedAt: c.updatedAt,
	}
}

func (c *UploadController) State() model.ScanState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// abandonLocked cancels the in-flight scan, if any. Bumping the generation
// makes finish discard whatever the scan eventually returns.
func (c *UploadController) abandonLocked(ctx context.Context, reason string) {
	if c.state != model.StateScanning {
		return
	}
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	logger.Info(c.logContext(ctx, c.scanID), "scan.abandoned", "reason", reason)
}

func scanInProgress() error {
	return model.NewScanError(model.CategoryState, model.ErrScanInProgress,
		"A scan is already in progress. Please wait for it to finish.", nil)
}

func (c *UploadController) setStateLocked(s model.ScanState) {
	c.state = s
	c.updatedAt = time.Now()
}

func (c *UploadController) logContext(ctx context.Context, scanID string) context.Context {
	if c.sessionID != "" {
		ctx = context.WithValue(ctx, logger.SessionIDKey, c.sessionID)
	}
	if scanID != "" {
		ctx = context.WithValue(ctx, logger.ScanIDKey, scanID)
	}
	return ctx
}
