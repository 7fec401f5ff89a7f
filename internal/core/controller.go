package core

// controller.go drives one load -> edit -> export round trip.
//
// State machine:
//
//	Empty  --Load ok-->            Loaded
//	Loaded --Load ok-->            Loaded (session replaced)
//	Loaded --EditCell-->           Loaded (dirty)
//	Loaded --Export ok-->          Empty, or Loaded when ReturnToLoadedAfterExport
//	Loaded --Discard-->            Empty
//
// Rejected loads and failed reads or writes leave the state untouched, so a
// failed export never loses edits.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the controller's lifecycle state.
type State int

const (
	StateEmpty State = iota
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "empty":
		*s = StateEmpty
	case "loaded":
		*s = StateLoaded
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// ControllerOptions tunes a Controller. The zero value gives a comma/LF codec,
// a return to Empty after export, ErrBusy for concurrent operations, and no
// timeouts or edit bounds.
type ControllerOptions struct {
	Codec Codec

	// ReturnToLoadedAfterExport keeps the session after a successful export
	// (dirty cleared) instead of returning to Empty.
	ReturnToLoadedAfterExport bool

	// DefaultExportName is used when Export gets an empty name.
	DefaultExportName string

	// MaxRows and MaxColumns bound how far an edit may extend the grid.
	// Zero means unbounded. Existing cells can always be edited.
	MaxRows    int
	MaxColumns int

	// QueueWait is how long an operation waits for an in-flight one to finish.
	// Zero rejects immediately with ErrBusy.
	QueueWait time.Duration

	// OpTimeout bounds each FileReader/FileWriter call. Zero means no timeout.
	OpTimeout time.Duration

	// IO, when set, is a limiter shared with other controllers. A slot is
	// taken only around reader and writer calls, after the single-flight
	// guard, so operations queued behind this controller hold no slot.
	IO *Limiter

	Logger *slog.Logger
}

// EditSession is the working copy of a loaded document.
type EditSession struct {
	Grid     Grid
	Dirty    bool
	Handle   string
	Name     string
	LoadedAt time.Time
	Edits    int
}

// Snapshot is a read-only copy of the controller's state.
type Snapshot struct {
	State    State     `json:"state"`
	Dirty    bool      `json:"dirty"`
	Handle   string    `json:"handle,omitempty"`
	Name     string    `json:"name,omitempty"`
	Rows     int       `json:"rows"`
	Columns  int       `json:"columns"`
	Edits    int       `json:"edits"`
	LoadedAt time.Time `json:"loaded_at,omitzero"`
	Grid     Grid      `json:"grid"`
}

// ExportResult reports where an export landed.
type ExportResult struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
	Bytes  int    `json:"bytes"`
}

// Controller owns one EditSession and serialises operations on it.
type Controller struct {
	reader FileReader
	writer FileWriter
	opts   ControllerOptions
	logger *slog.Logger
	guard  *Limiter
	now    func() time.Time

	mu      sync.RWMutex
	state   State
	session *EditSession
}

// NewController creates a controller in the Empty state.
func NewController(reader FileReader, writer FileWriter, opts ControllerOptions) *Controller {
	if opts.DefaultExportName == "" {
		opts.DefaultExportName = DefaultExportName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		reader: reader,
		writer: writer,
		opts:   opts,
		logger: logger,
		guard:  NewLimiter(1, opts.QueueWait, ErrBusy),
		now:    time.Now,
	}
}

// log returns the controller logger tagged with the caller's request
// metadata, when ctx carries any.
func (c *Controller) log(ctx context.Context) *slog.Logger {
	if meta, ok := RequestMetaFromContext(ctx); ok {
		return c.logger.With("ip", meta.IPAddress, "user_agent", meta.UserAgent)
	}
	return c.logger
}

// begin takes the single-flight slot. Callers must Release the guard.
func (c *Controller) begin(ctx context.Context) error {
	if c.opts.QueueWait > 0 {
		return c.guard.Acquire(ctx)
	}
	if !c.guard.TryAcquire() {
		return ErrBusy
	}
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Busy reports whether an operation is in flight.
func (c *Controller) Busy() bool {
	return c.guard.ActiveCount() > 0
}

// Load reads the document at handle and loads it.
func (c *Controller) Load(ctx context.Context, handle string) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	defer c.guard.Release()

	if c.reader == nil {
		return preconditionf("no file reader configured")
	}

	release, err := c.acquireIO(ctx)
	if err != nil {
		return err
	}
	text, err := c.read(ctx, handle)
	release()
	if err != nil {
		opErr := classify("load", handle, ErrReadFailure, err)
		c.log(ctx).Error("document read failed", "handle", handle, "error", err, "kind", opErr.Kind)
		return opErr
	}

	return c.commit(ctx, RawDocument{Handle: handle, Name: handle, Text: text})
}

// LoadDocument loads text that was already read by the caller.
func (c *Controller) LoadDocument(ctx context.Context, doc RawDocument) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	defer c.guard.Release()

	return c.commit(ctx, doc)
}

// acquireIO takes a shared I/O slot when one is configured.
func (c *Controller) acquireIO(ctx context.Context) (func(), error) {
	if c.opts.IO == nil {
		return func() {}, nil
	}
	if err := c.opts.IO.Acquire(ctx); err != nil {
		return nil, err
	}
	return c.opts.IO.Release, nil
}

func (c *Controller) read(ctx context.Context, handle string) (string, error) {
	if c.opts.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
	}
	return c.reader.Read(ctx, handle)
}

func (c *Controller) write(ctx context.Context, text, name string) (string, error) {
	if c.opts.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
	}
	return c.writer.Write(ctx, text, name)
}

// commit parses doc and, if it is well formed, replaces the session.
// A document with any malformed record is rejected as a whole.
func (c *Controller) commit(ctx context.Context, doc RawDocument) error {
	result := c.opts.Codec.Parse(doc.Text)
	if !result.OK() {
		c.log(ctx).Warn("document rejected",
			"handle", doc.Handle,
			"parse_errors", len(result.Errors),
			"first_error", result.Errors[0].Error(),
		)
		return &LoadRejectedError{Handle: doc.Handle, Errors: result.Errors}
	}

	c.mu.Lock()
	c.state = StateLoaded
	c.session = &EditSession{
		Grid:     result.Grid,
		Handle:   doc.Handle,
		Name:     doc.Name,
		LoadedAt: c.now(),
	}
	c.mu.Unlock()

	c.log(ctx).Info("document loaded",
		"handle", doc.Handle,
		"rows", len(result.Grid),
		"columns", result.Grid.Width(),
	)
	return nil
}

// EditCell sets one cell of the loaded grid, extending it as needed.
func (c *Controller) EditCell(ctx context.Context, row, col int, value string) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	defer c.guard.Release()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateLoaded {
		return preconditionf("cannot edit: no document loaded")
	}
	if row < 0 || col < 0 {
		return preconditionf("cell index (%d, %d) is negative", row, col)
	}
	if err := c.checkBounds(row, col); err != nil {
		return err
	}

	c.session.Grid = SetCell(c.session.Grid, row, col, value)
	c.session.Dirty = true
	c.session.Edits++

	c.log(ctx).Debug("cell edited", "row", row, "col", col)
	return nil
}

// checkBounds rejects edits that would grow the grid past the configured
// limits. Caller holds c.mu.
func (c *Controller) checkBounds(row, col int) error {
	grid := c.session.Grid
	if c.opts.MaxRows > 0 && row >= len(grid) && row >= c.opts.MaxRows {
		return preconditionf("row %d exceeds the %d row limit", row, c.opts.MaxRows)
	}
	if c.opts.MaxColumns > 0 && col >= c.opts.MaxColumns {
		if row >= len(grid) || col >= len(grid[row]) {
			return preconditionf("column %d exceeds the %d column limit", col, c.opts.MaxColumns)
		}
	}
	return nil
}

// Export serializes the edited grid and hands it to the writer under name
// (or DefaultExportName). Without a loaded document it fails with
// ErrPrecondition before any I/O.
func (c *Controller) Export(ctx context.Context, name string) (ExportResult, error) {
	if err := c.begin(ctx); err != nil {
		return ExportResult{}, err
	}
	defer c.guard.Release()

	c.mu.RLock()
	if c.state != StateLoaded {
		c.mu.RUnlock()
		return ExportResult{}, preconditionf("cannot export: no document loaded")
	}
	text := c.opts.Codec.Serialize(c.session.Grid)
	c.mu.RUnlock()

	if c.writer == nil {
		return ExportResult{}, preconditionf("no file writer configured")
	}
	if name == "" {
		name = c.opts.DefaultExportName
	}

	release, err := c.acquireIO(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	handle, err := c.write(ctx, text, name)
	release()
	if err != nil {
		opErr := classify("export", name, ErrWriteFailure, err)
		c.log(ctx).Error("document export failed", "name", name, "error", err, "kind", opErr.Kind)
		return ExportResult{}, opErr
	}

	c.mu.Lock()
	if c.opts.ReturnToLoadedAfterExport {
		c.session.Dirty = false
	} else {
		c.state = StateEmpty
		c.session = nil
	}
	c.mu.Unlock()

	c.log(ctx).Info("document exported", "name", name, "handle", handle, "bytes", len(text))
	return ExportResult{Handle: handle, Name: name, Bytes: len(text)}, nil
}

// Discard drops the session and returns to Empty.
func (c *Controller) Discard(ctx context.Context) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	defer c.guard.Release()

	c.mu.Lock()
	c.state = StateEmpty
	c.session = nil
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current state. The grid is deep-copied.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{State: c.state, Grid: Grid{}}
	if c.session == nil {
		return snap
	}
	snap.Dirty = c.session.Dirty
	snap.Handle = c.session.Handle
	snap.Name = c.session.Name
	snap.Rows = len(c.session.Grid)
	snap.Columns = c.session.Grid.Width()
	snap.Edits = c.session.Edits
	snap.LoadedAt = c.session.LoadedAt
	snap.Grid = c.session.Grid.Clone()
	return snap
}

// CSV serializes the current grid without writing it anywhere.
func (c *Controller) CSV() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateLoaded {
		return "", preconditionf("no document loaded")
	}
	return c.opts.Codec.Serialize(c.session.Grid), nil
}
