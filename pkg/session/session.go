// Package session is the entry point the viewer uses to edit one
// segmentation. A Session ties together the label volume, its lock
// registry, the preview/commit coordinator and the redraw hook, and hands
// out one OperationHandle per stroke.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"voxelseg/internal/models"
	"voxelseg/pkg/locks"
	"voxelseg/pkg/preview"
	"voxelseg/pkg/strategy"
	"voxelseg/pkg/telemetry"
	"voxelseg/pkg/voxel"
)

// Errors returned by the session. They are the coordinator's errors, so
// errors.Is works with either name.
var (
	ErrConcurrentOperation = preview.ErrConcurrentOperation
	ErrInvalidState        = preview.ErrInvalidState
	ErrConflict            = preview.ErrConflict
)

// Volume is a label volume the session can edit.
type Volume interface {
	voxel.Accessor
	Dimensions() models.Dimensions
}

// EventKind says why a redraw was requested.
type EventKind int

const (
	EventCommitted EventKind = iota
	EventCancelled
)

func (k EventKind) String() string {
	if k == EventCommitted {
		return "committed"
	}
	return "cancelled"
}

// Event is passed to the redraw hook after a commit or cancel.
type Event struct {
	Kind        EventKind
	SessionID   string
	OperationID string

	// Indices are the committed voxels; empty for a cancel.
	Indices []int
}

// RedrawFunc is called after each commit or cancel. Failures are the
// renderer's concern: panics are recovered and logged.
type RedrawFunc func(Event)

// OperationConfig selects what a stroke does.
type OperationConfig struct {
	SegmentIndex        models.SegmentIndex
	PreviewSegmentIndex *models.SegmentIndex
	Pipeline            strategy.Pipeline

	Threshold     strategy.ThresholdConfig
	Island        strategy.IslandConfig
	Interpolation strategy.InterpolationConfig
	Seeds         []int

	// Locks overrides the session's lock registry as the snapshot source.
	Locks *locks.Registry
}

// OperationHandle identifies one active operation.
type OperationHandle struct {
	ID       string
	Pipeline strategy.Pipeline
	Started  time.Time

	op *strategy.OperationData
}

// SegmentIndex returns the segment the operation commits.
func (h *OperationHandle) SegmentIndex() models.SegmentIndex { return h.op.SegmentIndex }

// Stats returns the counters accumulated so far.
func (h *OperationHandle) Stats() strategy.Stats { return h.op.Stats }

// Option configures a Session.
type Option func(*Session)

// WithLocks uses an existing lock registry.
func WithLocks(r *locks.Registry) Option {
	return func(s *Session) { s.locks = r }
}

// WithImage sets the intensity image threshold steps read.
func WithImage(img strategy.Intensities) Option {
	return func(s *Session) { s.image = img }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records operation metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithRedraw installs the redraw hook.
func WithRedraw(fn RedrawFunc) Option {
	return func(s *Session) { s.redraw = fn }
}

// Session is the editing context for one label volume.
type Session struct {
	id     string
	volume Volume
	coord  *preview.Coordinator
	locks  *locks.Registry
	tools  *ToolGroups

	image   strategy.Intensities
	logger  *slog.Logger
	metrics *telemetry.Metrics
	redraw  RedrawFunc

	mu      sync.Mutex
	current *OperationHandle
	closed  bool
}

// New creates a session over volume.
func New(volume Volume, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		volume: volume,
		coord:  preview.NewCoordinator(volume),
		locks:  locks.NewRegistry(),
		tools:  NewToolGroups(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Locks returns the session's lock registry.
func (s *Session) Locks() *locks.Registry { return s.locks }

// ToolGroups returns the tool-group registry bound to this session.
func (s *Session) ToolGroups() *ToolGroups { return s.tools }

// Active returns the handle of the active operation, or nil.
func (s *Session) Active() *OperationHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// BeginOperation starts a stroke. The lock state is snapshotted now; lock
// changes made while the operation is active apply to the next one.
func (s *Session) BeginOperation(ctx context.Context, cfg OperationConfig) (h *OperationHandle, err error) {
	pipeline := cfg.Pipeline
	if pipeline == "" {
		pipeline = strategy.PipelineFill
	}
	_, end := telemetry.StartSpan(ctx, "segmentation.begin",
		attribute.String("pipeline", string(pipeline)),
		attribute.Int("segment_index", int(cfg.SegmentIndex)))
	defer func() { end(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("begin operation: %w: session closed", ErrInvalidState)
	}

	strat, err := pipeline.Build()
	if err != nil {
		return nil, fmt.Errorf("begin operation: %w", err)
	}

	source := s.locks
	if cfg.Locks != nil {
		source = cfg.Locks
	}
	segment := cfg.SegmentIndex
	if pipeline.Erases() {
		segment = models.Background
	}

	op := &strategy.OperationData{
		SegmentIndex:        segment,
		PreviewSegmentIndex: cfg.PreviewSegmentIndex,
		Locks:               source.Snapshot(),
		Image:               s.image,
		Dims:                s.volume.Dimensions(),
		Seeds:               append([]int(nil), cfg.Seeds...),
		Threshold:           cfg.Threshold,
		Island:              cfg.Island,
		Interpolation:       cfg.Interpolation,
	}

	if err := s.coord.Begin(op, strat); err != nil {
		if errors.Is(err, ErrConcurrentOperation) {
			s.metrics.BeginRejected()
			attrs := []any{"pipeline", pipeline}
			if s.current != nil {
				attrs = append(attrs, "active_operation", s.current.ID)
			}
			s.logger.Warn("operation rejected", attrs...)
		}
		return nil, fmt.Errorf("begin operation: %w", err)
	}

	h = &OperationHandle{
		ID:       uuid.NewString(),
		Pipeline: pipeline,
		Started:  time.Now(),
		op:       op,
	}
	s.current = h
	s.metrics.OperationBegun()
	s.logger.Debug("operation begun",
		"operation_id", h.ID,
		"pipeline", pipeline,
		"segment_index", segment,
		"locked", op.Locks.Len())
	return h, nil
}

// ApplyAt runs the operation's strategy at one voxel.
func (s *Session) ApplyAt(h *OperationHandle, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkHandle(h); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	return s.coord.Apply(index)
}

// ApplyOverRegion runs the strategy at every index of seq, in order.
func (s *Session) ApplyOverRegion(h *OperationHandle, seq iter.Seq[int]) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkHandle(h); err != nil {
		return 0, fmt.Errorf("apply region: %w", err)
	}
	return s.coord.ApplyRegion(seq)
}

// PreviewValue returns the provisional value at index, if any, for the
// renderer to composite over the committed labels.
func (s *Session) PreviewValue(h *OperationHandle, index int) (models.SegmentIndex, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkHandle(h); err != nil {
		return 0, false, fmt.Errorf("preview value: %w", err)
	}
	return s.coord.PreviewValue(index)
}

// Commit writes the operation's preview into the label volume. On
// ErrConflict the operation stays active: cancel it and start again
// against the current volume.
func (s *Session) Commit(ctx context.Context, h *OperationHandle) (res preview.CommitResult, err error) {
	_, end := telemetry.StartSpan(ctx, "segmentation.commit")
	defer func() { end(err) }()

	s.mu.Lock()
	if err := s.checkHandle(h); err != nil {
		s.mu.Unlock()
		return preview.CommitResult{}, fmt.Errorf("commit: %w", err)
	}

	start := time.Now()
	res, err = s.coord.Commit()
	s.metrics.ObserveCommit(time.Since(start))
	if err != nil {
		reason := telemetry.ReasonFailed
		if errors.Is(err, ErrConflict) {
			reason = telemetry.ReasonConflict
		}
		s.metrics.CommitFailed(string(h.Pipeline), reason)
		s.mu.Unlock()
		s.logger.Warn("commit failed", "operation_id", h.ID, "error", err)
		return preview.CommitResult{}, err
	}

	s.current = nil
	s.metrics.OperationEnded(string(h.Pipeline), telemetry.OutcomeCommitted, len(res.Indices), res.Stats.Suppressed)
	s.mu.Unlock()

	s.logger.Debug("operation committed",
		"operation_id", h.ID,
		"voxels", len(res.Indices),
		"suppressed", res.Stats.Suppressed,
		"removed", res.Stats.Removed,
		"duration", time.Since(h.Started))
	s.notify(Event{Kind: EventCommitted, SessionID: s.id, OperationID: h.ID, Indices: res.Indices})
	return res, nil
}

// Cancel discards the operation's preview. The label volume is untouched.
func (s *Session) Cancel(ctx context.Context, h *OperationHandle) (err error) {
	_, end := telemetry.StartSpan(ctx, "segmentation.cancel")
	defer func() { end(err) }()

	s.mu.Lock()
	if err := s.checkHandle(h); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("cancel: %w", err)
	}
	stats, err := s.coord.Cancel()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.current = nil
	s.metrics.OperationEnded(string(h.Pipeline), telemetry.OutcomeCancelled, 0, stats.Suppressed)
	s.mu.Unlock()

	s.logger.Debug("operation cancelled", "operation_id", h.ID, "previewed", stats.Written)
	s.notify(Event{Kind: EventCancelled, SessionID: s.id, OperationID: h.ID})
	return nil
}

// Close cancels any active operation and destroys every tool group. The
// session rejects new operations afterwards.
func (s *Session) Close(ctx context.Context) error {
	if h := s.Active(); h != nil {
		if err := s.Cancel(ctx, h); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.tools.DestroyAll()
	return nil
}

func (s *Session) checkHandle(h *OperationHandle) error {
	if s.current == nil {
		return fmt.Errorf("%w: no active operation", ErrInvalidState)
	}
	if h == nil || h != s.current {
		return fmt.Errorf("%w: stale operation handle", ErrInvalidState)
	}
	return nil
}

func (s *Session) notify(ev Event) {
	if s.redraw == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("redraw hook panicked", "operation_id", ev.OperationID, "event", ev.Kind.String(), "panic", r)
		}
	}()
	s.redraw(ev)
}
