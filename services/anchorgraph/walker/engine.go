// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package walker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/anchorgraph/pkg/logging"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/execctx"
)

// Control-flow sentinels returned from ability bodies.
var (
	// Disengage stops the walker: the queue is cleared and no further
	// ability fires, pending exits included. The spawn still succeeds.
	Disengage = errors.New("walker disengaged")

	// Skip abandons the current location: the rest of its abilities,
	// exits included, do not fire. The queue is kept.
	Skip = errors.New("walker skipped location")
)

// Engine errors.
var (
	// ErrRegistrySealed is returned when registering on a sealed registry.
	ErrRegistrySealed = errors.New("ability registry is sealed")

	// ErrWalkerCompleted is returned when running a completed walker.
	ErrWalkerCompleted = errors.New("walker already completed")

	// ErrWalkerActive is returned when running a walker that is already
	// running elsewhere.
	ErrWalkerActive = errors.New("walker is already running")

	// ErrStepLimit is returned when a spawn exceeds the engine's step limit.
	ErrStepLimit = errors.New("walker step limit exceeded")
)

// control is the outcome of dispatching one phase at one location.
type control int

const (
	proceed control = iota
	skipped
	disengaged
	failed
)

// location is where a walker stands: a node or edge anchor, or a host
// walker during a walker-to-walker visit.
type location struct {
	kind   anchor.Kind
	typ    string
	id     anchor.ID
	anchor *anchor.Anchor
	host   *Walker
}

// Engine runs walkers.
//
// Thread Safety: Safe for concurrent use. Each spawn runs on the caller's
// goroutine; the engine holds no lock across spawns.
type Engine struct {
	registry     *Registry
	logger       *slog.Logger
	maxSteps     int
	spawnTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps bounds the number of locations one spawn may enter. Zero
// means unbounded.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithSpawnTimeout bounds the duration of one spawn. Zero means no limit
// beyond the caller's context.
func WithSpawnTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.spawnTimeout = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine and seals the registry.
func NewEngine(registry *Registry, opts ...Option) *Engine {
	e := &Engine{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "walker"))
	registry.Seal()
	return e
}

// Registry returns the sealed dispatch table.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Spawn creates a walker of walkerType with args and runs it at target.
//
// Description:
//
//	Args are validated against the walker type's schema first; on failure
//	nothing runs and Result.Err is a *anchor.ValidationError. The target
//	must be a readable node or edge; otherwise Result.Err is ErrNotFound or
//	a *anchor.PermissionError and no ability fires. The walker then
//	enters target and keeps moving until its queue is empty, an ability
//	disengages, an ability fails or ctx ends.
//
// Inputs:
//
//	ctx - Cancels the spawn at the next ability boundary.
//	ec - The execution context. Its session receives every mutation;
//	  nothing is committed.
//	target - Starting anchor.
//	walkerType - Walker type tag.
//	args - Initial walker fields. May be nil.
//
// Outputs:
//
//	Result - Reports emitted before termination and the status.
func (e *Engine) Spawn(ctx context.Context, ec *execctx.Context, target anchor.ID, walkerType string, args map[string]any) Result {
	return e.Run(ctx, ec, target, New(walkerType, args))
}

// SpawnAsync runs Spawn on a new goroutine. The channel receives exactly
// one Result and is then closed.
func (e *Engine) SpawnAsync(ctx context.Context, ec *execctx.Context, target anchor.ID, walkerType string, args map[string]any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- e.Spawn(ctx, ec, target, walkerType, args)
	}()
	return ch
}

// Run runs a prepared walker at target. See Spawn.
func (e *Engine) Run(ctx context.Context, ec *execctx.Context, target anchor.ID, w *Walker) Result {
	if err := e.prepare(ec, w); err != nil {
		return Result{Status: StatusError, Err: err}
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "Engine.Spawn", trace.WithAttributes(
		attribute.String("walker.type", w.Type),
		attribute.Int64("walker.target", int64(target)),
		attribute.String("execctx.session", ec.ID()),
	))
	defer span.End()

	start := time.Now()
	w.setState(StateRunning)
	loc, err := e.locate(ctx, ec, target)
	if err != nil {
		return e.finish(ctx, span, w, start, 0, TerminationNone, err)
	}
	return e.execute(ctx, span, ec, w, loc, start)
}

// Visitor runs visitor with host as its first location.
//
// Description:
//
//	The host walker stands in for a node: host abilities triggered by the
//	visitor's type fire on entry and exit, as do visitor abilities
//	triggered by the host's type. Nodes the visitor then visits are
//	processed normally. The host is not modified by the engine.
func (e *Engine) Visitor(ctx context.Context, ec *execctx.Context, host, visitor *Walker) Result {
	if host == nil {
		return Result{Status: StatusError, Err: errors.New("host walker is required")}
	}
	if err := e.prepare(ec, visitor); err != nil {
		return Result{Status: StatusError, Err: err}
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "Engine.Visitor", trace.WithAttributes(
		attribute.String("walker.type", visitor.Type),
		attribute.String("walker.host", host.Type),
		attribute.String("execctx.session", ec.ID()),
	))
	defer span.End()

	visitor.setState(StateRunning)
	loc := &location{kind: anchor.KindWalker, typ: host.Type, host: host}
	return e.execute(ctx, span, ec, visitor, loc, time.Now())
}

// prepare checks the walker can run and validates its fields.
func (e *Engine) prepare(ec *execctx.Context, w *Walker) error {
	if w == nil {
		return errors.New("walker is required")
	}
	switch w.State() {
	case StateSpawned:
	case StateCompleted:
		return ErrWalkerCompleted
	default:
		return ErrWalkerActive
	}
	fields, err := ec.Session().Tiers().Types().Check(anchor.KindWalker, w.Type, w.Fields)
	if err != nil {
		spawnsRejected.Inc()
		return err
	}
	w.Fields = fields
	return nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.spawnTimeout > 0 {
		return context.WithTimeout(ctx, e.spawnTimeout)
	}
	return context.WithCancel(ctx)
}

// locate loads a queued anchor as a location.
func (e *Engine) locate(ctx context.Context, ec *execctx.Context, id anchor.ID) (*location, error) {
	a, err := ec.Graph().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &location{kind: a.Kind, typ: a.Type, id: a.ID, anchor: a}, nil
}

// execute is the traversal loop, starting with w entering first.
func (e *Engine) execute(ctx context.Context, span trace.Span, ec *execctx.Context, w *Walker, first *location, start time.Time) Result {
	var (
		cur      *location
		next     = first
		skipExit bool
		steps    int
	)
	for {
		if next == nil {
			id, ok := w.pop()
			if !ok {
				break
			}
			loc, err := e.locate(ctx, ec, id)
			if err != nil {
				return e.finish(ctx, span, w, start, steps, TerminationNone, err)
			}
			next = loc
		}
		if e.maxSteps > 0 && steps >= e.maxSteps {
			err := fmt.Errorf("walker %s after %d locations: %w", w.Type, steps, ErrStepLimit)
			return e.finish(ctx, span, w, start, steps, TerminationNone, err)
		}
		steps++

		if cur != nil && !skipExit {
			switch ctl, err := e.dispatch(ctx, ec, w, cur, Exit); ctl {
			case disengaged:
				return e.finish(ctx, span, w, start, steps, TerminationDisengaged, nil)
			case failed:
				return e.finish(ctx, span, w, start, steps, TerminationNone, err)
			}
		}

		cur, next, skipExit = next, nil, false
		w.setLocation(cur.id)
		switch ctl, err := e.dispatch(ctx, ec, w, cur, Entry); ctl {
		case skipped:
			skipExit = true
		case disengaged:
			return e.finish(ctx, span, w, start, steps, TerminationDisengaged, nil)
		case failed:
			return e.finish(ctx, span, w, start, steps, TerminationNone, err)
		}
	}

	if cur != nil && !skipExit {
		switch ctl, err := e.dispatch(ctx, ec, w, cur, Exit); ctl {
		case disengaged:
			return e.finish(ctx, span, w, start, steps, TerminationDisengaged, nil)
		case failed:
			return e.finish(ctx, span, w, start, steps, TerminationNone, err)
		}
	}
	return e.finish(ctx, span, w, start, steps, TerminationExhausted, nil)
}

// abilities returns what fires at loc for phase, in dispatch order.
func (e *Engine) abilities(w *Walker, loc *location, phase Phase) []Ability {
	owned := e.registry.Lookup(loc.kind, loc.typ, phase, w.Type)
	carried := e.registry.Lookup(anchor.KindWalker, w.Type, phase, loc.typ)
	if phase == Entry {
		return slices.Concat(owned, carried)
	}
	return slices.Concat(carried, owned)
}

// dispatch fires one phase at one location.
func (e *Engine) dispatch(ctx context.Context, ec *execctx.Context, w *Walker, loc *location, phase Phase) (control, error) {
	for _, ab := range e.abilities(w, loc, phase) {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		h := &Here{engine: e, ec: ec, walker: w, loc: loc, ability: ab.Name, phase: phase}
		err := e.invoke(ctx, h, ab)
		switch {
		case err == nil:
		case errors.Is(err, Disengage):
			w.clearQueue()
			return disengaged, nil
		case errors.Is(err, Skip):
			return skipped, nil
		case ctx.Err() != nil:
			return failed, ctx.Err()
		default:
			return failed, &anchor.AbilityError{
				Ability:      ab.Name,
				Location:     loc.id,
				LocationType: loc.typ,
				Cause:        err,
			}
		}
	}
	return proceed, nil
}

// invoke runs one ability body, converting a panic into an error.
func (e *Engine) invoke(ctx context.Context, h *Here, ab Ability) (err error) {
	ctx, span := tracer.Start(ctx, "Ability."+ab.Name, trace.WithAttributes(
		attribute.String("walker.phase", ab.Phase.String()),
		attribute.String("walker.location_type", h.loc.typ),
		attribute.Int64("walker.location", int64(h.loc.id)),
	))
	defer span.End()
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			logging.WithTrace(ctx, e.logger).Error("ability panicked",
				slog.String("ability", ab.Name),
				slog.String("panic", fmt.Sprint(p)),
				slog.String("stack", string(debug.Stack())))
		}
		outcome := "ok"
		switch {
		case err == nil:
		case errors.Is(err, Disengage):
			outcome = "disengage"
		case errors.Is(err, Skip):
			outcome = "skip"
		default:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		recordAbility(ctx, ab, outcome, time.Since(start))
	}()

	return ab.Fn(ctx, h)
}

// finish completes the walker and builds the result.
func (e *Engine) finish(ctx context.Context, span trace.Span, w *Walker, start time.Time, steps int, term Termination, err error) Result {
	status := StatusOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = StatusCancelled
	default:
		status = StatusError
	}

	switch term {
	case TerminationDisengaged:
		w.setState(StateDisengaged)
	case TerminationExhausted:
		w.setState(StateExhausted)
	}
	w.setState(StateCompleted)

	res := Result{
		Reports:     w.Reports(),
		Status:      status,
		Termination: term,
		Err:         err,
		Steps:       steps,
	}
	duration := time.Since(start)
	recordSpawn(ctx, w.Type, res, duration)

	span.SetAttributes(
		attribute.String("walker.status", status.String()),
		attribute.String("walker.termination", term.String()),
		attribute.Int("walker.steps", steps),
		attribute.Int("walker.reports", len(res.Reports)),
	)
	logger := logging.WithTrace(ctx, e.logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("walker failed",
			slog.String("walker", w.Type),
			slog.String("status", status.String()),
			slog.Int("reports", len(res.Reports)),
			slog.String("error", err.Error()))
		return res
	}
	logger.Debug("walker completed",
		slog.String("walker", w.Type),
		slog.String("termination", term.String()),
		slog.Int("steps", steps),
		slog.Duration("duration", duration))
	return res
}
