// Package metrics defines the concrete OpenTelemetry instruments a
// LocalDatabase reports through, grounded in the teacher's
// StartMetricsAndTrace/EndMetricsAndTrace wrapping pattern
// (core/indexmanager/btree_indexmanager.go) but naming overlay-specific
// events instead of generic index-manager calls: conflict outcomes,
// commit/abort counts, flush latency, cursor coupling transitions, and
// approximate-match recursion depth (spec.md §4.1, §4.4, §4.5, §4.6).
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Instruments bundles every counter/histogram a LocalDatabase emits.
type Instruments struct {
	ConflictTotal        metric.Int64Counter
	CommitTotal          metric.Int64Counter
	AbortTotal           metric.Int64Counter
	FlushDuration        metric.Float64Histogram
	CursorCouplingTotal  metric.Int64Counter
	ApproxMatchRecursion metric.Int64Histogram
}

// New builds the instrument set from meter. Returns an error only if
// instrument registration itself fails (e.g. duplicate name), never if
// meter is a no-op meter from a disabled telemetry.Config.
func New(meter metric.Meter) (*Instruments, error) {
	conflictTotal, err := meter.Int64Counter("overlaydb.conflict.total",
		metric.WithDescription("conflict check outcomes, by result"))
	if err != nil {
		return nil, err
	}
	commitTotal, err := meter.Int64Counter("overlaydb.txn.commit.total",
		metric.WithDescription("transactions committed"))
	if err != nil {
		return nil, err
	}
	abortTotal, err := meter.Int64Counter("overlaydb.txn.abort.total",
		metric.WithDescription("transactions aborted"))
	if err != nil {
		return nil, err
	}
	flushDuration, err := meter.Float64Histogram("overlaydb.flush.duration_seconds",
		metric.WithDescription("latency of flush_txn_operation calls"))
	if err != nil {
		return nil, err
	}
	cursorCoupling, err := meter.Int64Counter("overlaydb.cursor.coupling.transitions",
		metric.WithDescription("cursor coupling-state transitions, by target state"))
	if err != nil {
		return nil, err
	}
	approxRecursion, err := meter.Int64Histogram("overlaydb.find.approx_match.recursion_depth",
		metric.WithDescription("recursion depth of the approximate-match re-entry in find_txn"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		ConflictTotal:        conflictTotal,
		CommitTotal:          commitTotal,
		AbortTotal:           abortTotal,
		FlushDuration:        flushDuration,
		CursorCouplingTotal:  cursorCoupling,
		ApproxMatchRecursion: approxRecursion,
	}, nil
}

// ConflictResult labels an overlaydb.conflict.total increment.
type ConflictResult string

const (
	ConflictNone      ConflictResult = "none"
	ConflictDuplicate ConflictResult = "duplicate_key"
	ConflictTxn       ConflictResult = "txn_conflict"
	ConflictKeyGone   ConflictResult = "key_not_found"
)

func (in *Instruments) RecordConflict(ctx context.Context, result ConflictResult) {
	if in == nil {
		return
	}
	in.ConflictTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(string(result))))
}

func (in *Instruments) RecordCouplingTransition(ctx context.Context, toState string) {
	if in == nil {
		return
	}
	in.CursorCouplingTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(toState)))
}
