// Package replay rebuilds a named read model (commands, runs, cards,
// decisions, artifacts) from a scoped slice of the event log. It is
// cursor-paginated over pkg/eventlog.ByTSRange using the same composite
// (ts, event_id) cursor the teacher's WebSocket catchup uses
// (pkg/events/catchup_adapter.go, pkg/events/manager.go handleCatchup),
// generalized from "replay missed events to one client" to "replay a whole
// range into the read models."
//
// Every event is applied through pkg/projectors.Apply with replay=true, so
// rebuilding never re-triggers wake signals, WS notifications, or any other
// side effect — idempotent re-application of an already-projected event is
// a no-op by construction of the projectors themselves, not something this
// package special-cases.
package replay

import (
	"context"
	"fmt"
	"io"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/pkg/archive"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/metrics"
	"github.com/tbenself/clawops/pkg/projectors"
)

// batchSize is the default page size for live-store cursor reads, matching
// spec.md's "default 100 events per batch".
const batchSize = 100

// ArchiveSource lists the cold-archive files covering [fromTS, toTS] for a
// project, in chronological order. The archive store itself (object
// storage, filesystem, whatever holds the NDJSON files) is out of scope;
// this is the only seam the Replay Engine needs into it.
type ArchiveSource interface {
	ListArchives(ctx context.Context, tenantID, projectID string, fromTS, toTS int64) ([]io.Reader, error)
}

// Engine rebuilds read models from the event log, optionally reaching past
// the live store's retention window into archived files.
type Engine struct {
	client  *ent.Client
	log     *eventlog.Log
	archive ArchiveSource
}

// New constructs an Engine against the live event log.
func New(client *ent.Client, log *eventlog.Log) *Engine {
	return &Engine{client: client, log: log}
}

// WithArchive attaches the cold-archive source, enabling replay of ranges
// that start before the live store's retention cutoff.
func (e *Engine) WithArchive(a ArchiveSource) *Engine {
	e.archive = a
	return e
}

// modelEventTypes maps each named read model to the event types that
// mutate it. Rebuild applies only the events relevant to the requested
// model, leaving the others untouched even though they're read off the
// same (ts, event_id)-ordered slice.
var modelEventTypes = map[string][]eventlog.Type{
	"commands": {
		eventlog.CommandRequested, eventlog.CommandStarted,
		eventlog.CommandSucceeded, eventlog.CommandFailed, eventlog.CommandCanceled,
	},
	"runs": {
		eventlog.CommandStarted, eventlog.CommandSucceeded,
		eventlog.CommandFailed, eventlog.CommandCanceled,
	},
	"cards": {
		eventlog.CardCreated, eventlog.CardTransitioned,
	},
	"decisions": {
		eventlog.DecisionRequested, eventlog.DecisionClaimed, eventlog.DecisionRendered,
		eventlog.DecisionExpired, eventlog.DecisionClaimExpired, eventlog.DecisionDeferred,
	},
	"artifacts": {
		eventlog.ArtifactProduced,
	},
}

// RebuildInput scopes a rebuild to one project and one named read model
// over a ts range.
type RebuildInput struct {
	TenantID  string
	ProjectID string
	// Model is one of "commands", "runs", "cards", "decisions", "artifacts".
	Model  string
	FromTS int64
	// ToTS bounds the range; nil replays through the present.
	ToTS *int64
	// RetentionCutoffTS is the ts below which the live event log is assumed
	// to have pruned rows to the cold archive. Nil means the live store
	// still holds everything back to FromTS.
	RetentionCutoffTS *int64
}

// Stats summarizes one Rebuild call.
type Stats struct {
	EventsApplied    int
	BatchesRead      int
	ArchiveFilesRead int
}

// Rebuild replays in.Model's events over [in.FromTS, in.ToTS] in ts-then-id
// order, archive-first when the range reaches below RetentionCutoffTS, then
// draining the live store via cursor pagination.
func (e *Engine) Rebuild(ctx context.Context, in RebuildInput) (Stats, error) {
	types, ok := modelEventTypes[in.Model]
	if !ok {
		return Stats{}, fmt.Errorf("replay: unknown read model %q", in.Model)
	}
	wants := func(t eventlog.Type) bool {
		for _, x := range types {
			if x == t {
				return true
			}
		}
		return false
	}

	var stats Stats
	cursorTS := in.FromTS
	var cursorEventID *string

	if in.RetentionCutoffTS != nil && in.FromTS < *in.RetentionCutoffTS {
		if e.archive == nil {
			return stats, fmt.Errorf("replay: range starts before the retention cutoff but no archive source is configured")
		}
		archiveTo := *in.RetentionCutoffTS
		if in.ToTS != nil && *in.ToTS < archiveTo {
			archiveTo = *in.ToTS
		}

		readers, err := e.archive.ListArchives(ctx, in.TenantID, in.ProjectID, in.FromTS, archiveTo)
		if err != nil {
			return stats, fmt.Errorf("listing archives: %w", err)
		}
		for _, r := range readers {
			events, err := archive.ReadFile(r)
			if err != nil {
				return stats, fmt.Errorf("reading archive file: %w", err)
			}
			if err := e.applyBatch(ctx, filterByType(events, wants), &stats); err != nil {
				return stats, err
			}
			stats.ArchiveFilesRead++
		}

		cursorTS = *in.RetentionCutoffTS
		cursorEventID = nil
	}

	for {
		batch, err := e.log.ByTSRange(ctx, in.ProjectID, cursorTS, in.ToTS, cursorEventID, batchSize)
		if err != nil {
			return stats, fmt.Errorf("reading event batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if err := e.applyBatch(ctx, filterByType(batch, wants), &stats); err != nil {
			return stats, err
		}
		stats.BatchesRead++

		last := batch[len(batch)-1]
		cursorTS = last.TS
		lastID := last.ID
		cursorEventID = &lastID

		if len(batch) < batchSize {
			break
		}
	}

	metrics.ReplayEventsAppliedTotal.WithLabelValues(in.Model).Add(float64(stats.EventsApplied))
	return stats, nil
}

func filterByType(events []*eventlog.Event, wants func(eventlog.Type) bool) []*eventlog.Event {
	out := make([]*eventlog.Event, 0, len(events))
	for _, ev := range events {
		if wants(ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

// applyBatch projects events in a single transaction with replay=true,
// matching the live write path's "projector runs inside the append
// transaction" idiom except there is no corresponding Append here — the
// events already exist in the log.
func (e *Engine) applyBatch(ctx context.Context, events []*eventlog.Event, stats *Stats) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := e.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("beginning replay transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range events {
		if err := projectors.Apply(ctx, tx, ev, true); err != nil {
			return fmt.Errorf("applying event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replay batch: %w", err)
	}
	stats.EventsApplied += len(events)
	return nil
}
