// Package projectors holds the idempotent (event, current_row?) -> row_update
// functions that maintain the commands/runs/cards/decisions/artifacts read
// models. They are invoked inline in the same transaction as Append for
// live writes (pkg/commands, pkg/cards, pkg/decisions, pkg/artifacts all
// call Apply before committing) and standalone by pkg/replay for rebuilds.
//
// Apply itself never enqueues jobs, sends notifications, or makes external
// calls — those side effects belong to the caller, which must check the
// replay flag before performing them. This keeps every projector a pure
// function of (event, current row).
package projectors

import (
	"context"
	"fmt"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/ent/card"
	"github.com/tbenself/clawops/ent/command"
	"github.com/tbenself/clawops/ent/decision"
	"github.com/tbenself/clawops/ent/run"
	"github.com/tbenself/clawops/pkg/eventlog"
)

// Apply dispatches ev to its projector. replay suppresses no side effects
// here (Apply has none) but is threaded through so callers and tests can
// assert the flag reaches every code path that might grow one later.
func Apply(ctx context.Context, tx *ent.Tx, ev *eventlog.Event, replay bool) error {
	switch ev.Type {
	case eventlog.CommandRequested:
		return applyCommandRequested(ctx, tx, ev)
	case eventlog.CommandStarted:
		return applyCommandStarted(ctx, tx, ev)
	case eventlog.CommandSucceeded, eventlog.CommandFailed, eventlog.CommandCanceled:
		return applyCommandTerminal(ctx, tx, ev)
	case eventlog.CardCreated:
		return applyCardCreated(ctx, tx, ev)
	case eventlog.CardTransitioned:
		return applyCardTransitioned(ctx, tx, ev)
	case eventlog.ArtifactProduced:
		return applyArtifactProduced(ctx, tx, ev)
	case eventlog.DecisionRequested:
		return applyDecisionRequested(ctx, tx, ev)
	case eventlog.DecisionClaimed:
		return applyDecisionClaimed(ctx, tx, ev)
	case eventlog.DecisionRendered:
		return applyDecisionRendered(ctx, tx, ev)
	case eventlog.DecisionExpired:
		return applyDecisionExpired(ctx, tx, ev)
	case eventlog.DecisionClaimExpired:
		return applyDecisionClaimExpired(ctx, tx, ev)
	case eventlog.DecisionDeferred:
		return applyDecisionDeferred(ctx, tx, ev)
	case eventlog.CommandRetryScheduled, eventlog.CommandSkippedDuplicate,
		eventlog.DecisionRenderRejected, eventlog.SloBreached, eventlog.ReconciliationDrift:
		// Record-only events: nothing in the read model changes on their
		// account alone (the accompanying transition/render event, if any,
		// carries the row update).
		return nil
	default:
		return fmt.Errorf("projectors: unknown event type %q", ev.Type)
	}
}

// isStaleForCommand implements the guard: a live event whose id is <= the
// command row's last_event_id is a no-op. ULIDs are lexicographically
// sortable, so string comparison suffices.
func isStaleForCommand(row *ent.Command, eventID string) bool {
	return row != nil && row.LastEventID >= eventID
}

func applyCommandRequested(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.CommandID == nil {
		return fmt.Errorf("CommandRequested missing command_id")
	}
	existing, err := tx.Command.Get(ctx, *ev.CommandID)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("loading command: %w", err)
	}
	if existing != nil {
		return nil // already projected (idempotent re-apply / replay overlap)
	}

	priority := 50
	constraints := mapVal(ev.Payload, "constraints")
	if constraints != nil {
		priority = intVal(constraints, "priority", 50)
	}

	builder := tx.Command.Create().
		SetID(*ev.CommandID).
		SetTenantID(ev.TenantID).
		SetProjectID(ev.ProjectID).
		SetStatus(command.StatusPENDING).
		SetLastEventID(ev.ID).
		SetPriority(priority).
		SetCommandType(str(ev.Payload, "command_type"))

	if v := strPtr(ev.Payload, "command_version"); v != nil {
		builder.SetCommandVersion(*v)
	}
	if v := mapVal(ev.Payload, "args"); v != nil {
		builder.SetArgs(v)
	}
	if v := mapVal(ev.Payload, "context"); v != nil {
		builder.SetContext(v)
	}
	if constraints != nil {
		builder.SetConstraints(constraints)
	}
	if v := str(ev.Payload, "title"); v != "" {
		builder.SetTitle(v)
	}

	if _, err := builder.Save(ctx); err != nil {
		if ent.IsConstraintError(err) {
			return nil
		}
		return fmt.Errorf("creating command row: %w", err)
	}
	return nil
}

func applyCommandStarted(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.CommandID == nil || ev.RunID == nil {
		return fmt.Errorf("CommandStarted missing command_id/run_id")
	}
	cmdRow, err := tx.Command.Get(ctx, *ev.CommandID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("loading command: %w", err)
	}
	if isStaleForCommand(cmdRow, ev.ID) {
		return nil
	}

	attempt := intVal(ev.Payload, "attempt", 1)
	runBuilder := tx.Run.Create().
		SetID(*ev.RunID).
		SetTenantID(ev.TenantID).
		SetProjectID(ev.ProjectID).
		SetCommandID(*ev.CommandID).
		SetStatus(run.StatusRUNNING).
		SetAttempt(attempt)
	if v := strPtr(ev.Payload, "executor"); v != nil {
		runBuilder.SetExecutor(*v)
	}
	if ts := int64Val(ev.Payload, "started_ts"); ts != 0 {
		runBuilder.SetStartedTs(timeFromMillis(ts))
	}
	if _, err := runBuilder.Save(ctx); err != nil && !ent.IsConstraintError(err) {
		return fmt.Errorf("creating run row: %w", err)
	}

	_, err = tx.Command.UpdateOneID(*ev.CommandID).
		SetStatus(command.StatusRUNNING).
		SetLatestRunID(*ev.RunID).
		SetLastEventID(ev.ID).
		Save(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("updating command to RUNNING: %w", err)
	}
	return nil
}

func applyCommandTerminal(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.CommandID == nil {
		return fmt.Errorf("command terminal event missing command_id")
	}
	cmdRow, err := tx.Command.Get(ctx, *ev.CommandID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("loading command: %w", err)
	}
	if isStaleForCommand(cmdRow, ev.ID) {
		return nil
	}

	var status command.Status
	var runStatus run.Status
	switch ev.Type {
	case eventlog.CommandSucceeded:
		status, runStatus = command.StatusSUCCEEDED, run.StatusSUCCEEDED
	case eventlog.CommandFailed:
		status, runStatus = command.StatusFAILED, run.StatusFAILED
	case eventlog.CommandCanceled:
		status, runStatus = command.StatusCANCELED, run.StatusFAILED
	}

	if _, err := tx.Command.UpdateOneID(*ev.CommandID).
		SetStatus(status).
		SetLastEventID(ev.ID).
		Save(ctx); err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("updating command terminal status: %w", err)
	}

	if ev.RunID != nil {
		upd := tx.Run.UpdateOneID(*ev.RunID).
			SetStatus(runStatus)
		if ts := int64Val(ev.Payload, "ended_ts"); ts != 0 {
			upd = upd.SetEndedTs(timeFromMillis(ts))
		}
		if ev.Type == eventlog.CommandFailed {
			if msg := str(ev.Payload, "error"); msg != "" {
				upd = upd.SetError(msg)
			}
		}
		if err := upd.Exec(ctx); err != nil && !ent.IsNotFound(err) {
			return fmt.Errorf("updating run terminal status: %w", err)
		}
	}
	return nil
}

func applyCardCreated(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.CardID == nil || ev.CommandID == nil {
		return fmt.Errorf("CardCreated missing card_id/command_id")
	}
	builder := tx.Card.Create().
		SetID(*ev.CardID).
		SetTenantID(ev.TenantID).
		SetProjectID(ev.ProjectID).
		SetCommandID(*ev.CommandID).
		SetState(card.StateREADY).
		SetAttempt(0).
		SetTitle(str(ev.Payload, "title")).
		SetCommandType(str(ev.Payload, "command_type"))

	if _, ok := ev.Payload["priority"]; ok {
		builder.SetPriority(intVal(ev.Payload, "priority", 50))
	}
	if v := mapVal(ev.Payload, "args"); v != nil {
		builder.SetArgs(v)
	}
	if v := strPtr(ev.Payload, "concurrency_key"); v != nil {
		builder.SetConcurrencyKey(*v)
	}
	if v, ok := ev.Payload["max_retries"]; ok && v != nil {
		builder.SetMaxRetries(intVal(ev.Payload, "max_retries", 0))
	}
	if v := sliceVal(ev.Payload, "capabilities"); v != nil {
		caps := make([]string, 0, len(v))
		for _, c := range v {
			if s, ok := c.(string); ok {
				caps = append(caps, s)
			}
		}
		builder.SetCapabilities(caps)
	}

	if _, err := builder.Save(ctx); err != nil {
		if ent.IsConstraintError(err) {
			return nil
		}
		return fmt.Errorf("creating card row: %w", err)
	}
	return nil
}

func applyCardTransitioned(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.CardID == nil {
		return fmt.Errorf("CardTransitioned missing card_id")
	}
	to := str(ev.Payload, "to")
	from := str(ev.Payload, "from")

	row, err := tx.Card.Get(ctx, *ev.CardID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("loading card: %w", err)
	}
	if string(row.State) == to {
		return nil // already applied
	}

	upd := tx.Card.UpdateOneID(*ev.CardID).SetState(card.State(to))
	if to == string(card.StateRUNNING) {
		upd = upd.SetAttempt(row.Attempt + 1)
	}
	if to == string(card.StateRETRY_SCHEDULED) {
		if ts := int64Val(ev.Payload, "retry_at_ts"); ts != 0 {
			upd = upd.SetRetryAtTs(timeFromMillis(ts))
		}
	}
	if from == string(card.StateRETRY_SCHEDULED) {
		upd = upd.ClearRetryAtTs()
	}

	if err := upd.Exec(ctx); err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("updating card state: %w", err)
	}
	return nil
}

func applyArtifactProduced(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	artifactID := str(ev.Payload, "artifact_id")
	if artifactID == "" {
		return fmt.Errorf("ArtifactProduced missing artifact_id")
	}
	builder := tx.Artifact.Create().
		SetID(artifactID).
		SetTenantID(ev.TenantID).
		SetProjectID(ev.ProjectID).
		SetContentHash(str(ev.Payload, "content_hash")).
		SetContentType(str(ev.Payload, "content_type")).
		SetSizeBytes(int64Val(ev.Payload, "size_bytes")).
		SetStorageRef(str(ev.Payload, "storage_ref"))

	if ev.CommandID != nil {
		builder.SetCommandID(*ev.CommandID)
	}
	if ev.RunID != nil {
		builder.SetRunID(*ev.RunID)
	}
	if v := strPtr(ev.Payload, "title"); v != nil {
		builder.SetTitle(*v)
	}
	if v := mapVal(ev.Payload, "metadata"); v != nil {
		builder.SetMetadata(v)
	}

	if _, err := builder.Save(ctx); err != nil {
		if ent.IsConstraintError(err) {
			return nil // dedup guard already enforced by pkg/artifacts before Append
		}
		return fmt.Errorf("creating artifact row: %w", err)
	}
	return nil
}

func applyDecisionRequested(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.DecisionID == nil || ev.CardID == nil || ev.CommandID == nil || ev.RunID == nil {
		return fmt.Errorf("DecisionRequested missing scope ids")
	}
	builder := tx.Decision.Create().
		SetID(*ev.DecisionID).
		SetTenantID(ev.TenantID).
		SetProjectID(ev.ProjectID).
		SetCardID(*ev.CardID).
		SetCommandID(*ev.CommandID).
		SetRunID(*ev.RunID).
		SetState(decision.StatePENDING).
		SetUrgency(decision.Urgency(str(ev.Payload, "urgency"))).
		SetTitle(str(ev.Payload, "title")).
		SetOptions(toMapSlice(sliceVal(ev.Payload, "options")))

	if v := strPtr(ev.Payload, "context_summary"); v != nil {
		builder.SetContextSummary(*v)
	}
	if v := sliceVal(ev.Payload, "artifact_refs"); v != nil {
		refs := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				refs = append(refs, s)
			}
		}
		builder.SetArtifactRefs(refs)
	}
	if v := strPtr(ev.Payload, "source_thread"); v != nil {
		builder.SetSourceThread(*v)
	}
	if ts := int64Val(ev.Payload, "expires_at"); ts != 0 {
		builder.SetExpiresAt(timeFromMillis(ts))
	}
	if v := strPtr(ev.Payload, "fallback_option"); v != nil {
		builder.SetFallbackOption(*v)
	}

	if _, err := builder.Save(ctx); err != nil {
		if ent.IsConstraintError(err) {
			return nil
		}
		return fmt.Errorf("creating decision row: %w", err)
	}
	return nil
}

func applyDecisionClaimed(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.DecisionID == nil {
		return fmt.Errorf("DecisionClaimed missing decision_id")
	}
	claimedBy := str(ev.Payload, "claimed_by")
	claimedUntil := int64Val(ev.Payload, "claimed_until")
	err := tx.Decision.UpdateOneID(*ev.DecisionID).
		SetState(decision.StateCLAIMED).
		SetClaimedBy(claimedBy).
		SetClaimedUntil(timeFromMillis(claimedUntil)).
		Exec(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("updating decision to claimed: %w", err)
	}
	return nil
}

func applyDecisionRendered(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.DecisionID == nil {
		return fmt.Errorf("DecisionRendered missing decision_id")
	}
	err := tx.Decision.UpdateOneID(*ev.DecisionID).
		SetState(decision.StateRENDERED).
		SetRenderedOption(str(ev.Payload, "selected_option")).
		SetRenderedBy(str(ev.Payload, "rendered_by")).
		SetRenderedAt(timeFromMillis(ev.TS)).
		ClearClaimedBy().
		ClearClaimedUntil().
		Exec(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("updating decision to rendered: %w", err)
	}
	return nil
}

func applyDecisionExpired(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.DecisionID == nil {
		return fmt.Errorf("DecisionExpired missing decision_id")
	}
	// DecisionExpired itself is a record-only event when a fallback exists
	// (DecisionRendered follows and performs the state write); only a
	// no-fallback expiry patches state here.
	if boolVal(ev.Payload, "hadFallback") {
		return nil
	}
	err := tx.Decision.UpdateOneID(*ev.DecisionID).
		SetState(decision.StateEXPIRED).
		ClearClaimedBy().
		ClearClaimedUntil().
		Exec(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("updating decision to expired: %w", err)
	}
	return nil
}

func applyDecisionClaimExpired(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.DecisionID == nil {
		return fmt.Errorf("DecisionClaimExpired missing decision_id")
	}
	err := tx.Decision.UpdateOneID(*ev.DecisionID).
		SetState(decision.StatePENDING).
		ClearClaimedBy().
		ClearClaimedUntil().
		Exec(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("reclaiming expired decision: %w", err)
	}
	return nil
}

func applyDecisionDeferred(ctx context.Context, tx *ent.Tx, ev *eventlog.Event) error {
	if ev.DecisionID == nil {
		return fmt.Errorf("DecisionDeferred missing decision_id")
	}
	// auto_resolved_with_fallback carries no patch of its own: the
	// DecisionRendered that follows in the same transaction applies it.
	if str(ev.Payload, "action") != "extended_expiry" {
		return nil
	}
	ts := int64Val(ev.Payload, "expires_at")
	if ts == 0 {
		return nil
	}
	err := tx.Decision.UpdateOneID(*ev.DecisionID).
		SetExpiresAt(timeFromMillis(ts)).
		Exec(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("extending decision expiry: %w", err)
	}
	return nil
}

func toMapSlice(in []any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, v := range in {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
