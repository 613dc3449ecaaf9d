// Package decisions implements the decision lifecycle: request, claim,
// renew, and render, with exactly-once CAS semantics on render. Grounded in
// the teacher's claim-and-patch transactional shape (pkg/services/
// session_service.go), generalized to the decision state machine's four
// states and its advisory (non-hard-lock) claim lease.
package decisions

import (
	"context"
	"fmt"
	"time"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/ent/card"
	"github.com/tbenself/clawops/ent/decision"
	"github.com/tbenself/clawops/pkg/artifacts"
	"github.com/tbenself/clawops/pkg/cards"
	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/guard"
	"github.com/tbenself/clawops/pkg/ids"
	"github.com/tbenself/clawops/pkg/jobs"
	"github.com/tbenself/clawops/pkg/projectors"
)

// Option is one enumerated choice a decision offers.
type Option struct {
	Key         string
	Label       string
	Consequence string
}

// Lifecycle wires decision operations to the event log and card machine.
type Lifecycle struct {
	client   *ent.Client
	log      *eventlog.Log
	claimTTL time.Duration
	waker    jobs.Waker
}

func New(client *ent.Client, log *eventlog.Log, claimTTL time.Duration) *Lifecycle {
	return &Lifecycle{client: client, log: log, claimTTL: claimTTL}
}

// WithWaker attaches the background-job wake primitive: render_decision
// signals it so a job suspended on this decision's id resumes immediately
// instead of waiting for its next poll tick. Optional — a Lifecycle with
// no waker simply skips the signal.
func (l *Lifecycle) WithWaker(w jobs.Waker) *Lifecycle {
	l.waker = w
	return l
}

func (l *Lifecycle) signal(ctx context.Context, decisionID string) {
	if l.waker == nil {
		return
	}
	_ = l.waker.Signal(ctx, decisionID)
}

// RequestInput is the input to RequestDecision.
type RequestInput struct {
	TenantID       string
	ProjectID      string
	CardID         string
	CommandID      string
	RunID          string
	CorrelationID  string
	Urgency        decision.Urgency
	Title          string
	ContextSummary *string
	Options        []Option
	ArtifactRefs   []string
	SourceThread   *string
	ExpiresAt      *time.Time
	FallbackOption *string
}

// RequestDecision validates the options/fallback, inserts the decision row
// in PENDING, appends DecisionRequested, and transitions the linked card
// RUNNING -> NEEDS_DECISION, all in one transaction.
func (l *Lifecycle) RequestDecision(ctx context.Context, in RequestInput) (*ent.Decision, error) {
	if len(in.Options) == 0 {
		return nil, coreerr.ErrInvalidOptions
	}
	seen := make(map[string]bool, len(in.Options))
	optMaps := make([]any, 0, len(in.Options))
	for _, o := range in.Options {
		if o.Key == "" || seen[o.Key] {
			return nil, coreerr.ErrInvalidOptions
		}
		seen[o.Key] = true
		optMaps = append(optMaps, map[string]any{
			"key":         o.Key,
			"label":       o.Label,
			"consequence": o.Consequence,
		})
	}
	if in.FallbackOption != nil && !seen[*in.FallbackOption] {
		return nil, coreerr.ErrInvalidFallback
	}

	tx, err := l.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	decisionID := ids.New()
	payload := map[string]any{
		"urgency": string(in.Urgency),
		"title":   in.Title,
		"options": optMaps,
	}
	if in.ContextSummary != nil {
		payload["context_summary"] = *in.ContextSummary
	}
	if in.ArtifactRefs != nil {
		refs := make([]any, len(in.ArtifactRefs))
		for i, r := range in.ArtifactRefs {
			refs[i] = r
		}
		payload["artifact_refs"] = refs
	}
	if in.SourceThread != nil {
		payload["source_thread"] = *in.SourceThread
	}
	if in.ExpiresAt != nil {
		payload["expires_at"] = in.ExpiresAt.UnixMilli()
	}
	if in.FallbackOption != nil {
		payload["fallback_option"] = *in.FallbackOption
	}

	ev, err := l.log.Append(ctx, tx, eventlog.AppendInput{
		TenantID:      in.TenantID,
		ProjectID:     in.ProjectID,
		Type:          eventlog.DecisionRequested,
		CorrelationID: in.CorrelationID,
		CardID:        &in.CardID,
		CommandID:     &in.CommandID,
		RunID:         &in.RunID,
		DecisionID:    &decisionID,
		Payload:       payload,
	})
	if err != nil {
		return nil, err
	}
	if err := projectors.Apply(ctx, tx, ev, false); err != nil {
		return nil, fmt.Errorf("projecting DecisionRequested: %w", err)
	}

	if _, err := cards.TransitionTx(ctx, tx, l.log, cards.TransitionInput{
		CardID:        in.CardID,
		To:            card.StateNEEDS_DECISION,
		Reason:        "decision requested",
		CorrelationID: in.CorrelationID,
		RunID:         &in.RunID,
		DecisionID:    &decisionID,
	}); err != nil {
		return nil, fmt.Errorf("transitioning card to NEEDS_DECISION: %w", err)
	}

	row, err := tx.Decision.Get(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("reloading decision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing request_decision: %w", err)
	}
	return row, nil
}

// ClaimResult is the outcome of ClaimDecision.
type ClaimResult struct {
	Status       string // "claimed" | "already_claimed"
	ClaimedBy    string
	ClaimedUntil time.Time
}

// ClaimDecision attempts to claim decision_id for caller. A decision held by
// someone else with an unexpired lease is not an error: it returns
// already_claimed so the caller can show "X is reviewing".
func (l *Lifecycle) ClaimDecision(ctx context.Context, decisionID, caller string, now time.Time) (*ClaimResult, error) {
	tx, err := l.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	row, err := tx.Decision.Get(ctx, decisionID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, coreerr.ErrNotFound
		}
		return nil, fmt.Errorf("loading decision: %w", err)
	}

	if row.State != decision.StatePENDING && row.State != decision.StateCLAIMED {
		return nil, coreerr.NewNotClaimableError(string(row.State))
	}

	if row.ClaimedBy != nil && *row.ClaimedBy != caller && row.ClaimedUntil != nil && row.ClaimedUntil.After(now) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing claim check: %w", err)
		}
		return &ClaimResult{Status: "already_claimed", ClaimedBy: *row.ClaimedBy, ClaimedUntil: *row.ClaimedUntil}, nil
	}

	claimedUntil := now.Add(l.claimTTL)
	ev, err := l.log.Append(ctx, tx, eventlog.AppendInput{
		TenantID:      row.TenantID,
		ProjectID:     row.ProjectID,
		Type:          eventlog.DecisionClaimed,
		CorrelationID: row.CommandID,
		CardID:        &row.CardID,
		CommandID:     &row.CommandID,
		RunID:         &row.RunID,
		DecisionID:    &decisionID,
		Payload: map[string]any{
			"claimed_by":    caller,
			"claimed_until": claimedUntil.UnixMilli(),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := projectors.Apply(ctx, tx, ev, false); err != nil {
		return nil, fmt.Errorf("projecting DecisionClaimed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return &ClaimResult{Status: "claimed", ClaimedBy: caller, ClaimedUntil: claimedUntil}, nil
}

// RenewClaim extends the caller's existing claim lease. Emits no event:
// renewals are high-frequency and low-signal.
func (l *Lifecycle) RenewClaim(ctx context.Context, decisionID, caller string, now time.Time) (time.Time, error) {
	row, err := l.client.Decision.Get(ctx, decisionID)
	if err != nil {
		if ent.IsNotFound(err) {
			return time.Time{}, coreerr.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("loading decision: %w", err)
	}
	if row.State != decision.StateCLAIMED || row.ClaimedBy == nil || *row.ClaimedBy != caller {
		return time.Time{}, coreerr.ErrNotYourClaim
	}
	claimedUntil := now.Add(l.claimTTL)
	if err := l.client.Decision.UpdateOneID(decisionID).SetClaimedUntil(claimedUntil).Exec(ctx); err != nil {
		return time.Time{}, fmt.Errorf("renewing claim: %w", err)
	}
	return claimedUntil, nil
}

// RenderResult is the outcome of RenderDecision.
type RenderResult struct {
	Status string // "rendered" | "rejected"
	Reason string
}

// RenderDecision is the CAS point: exactly one call across a decision's
// entire life may transition it to RENDERED. Every other call, concurrent
// or not, is durably recorded as a rejection rather than silently dropped.
func (l *Lifecycle) RenderDecision(ctx context.Context, decisionID, optionKey, caller string, note *string, now time.Time) (*RenderResult, error) {
	tx, err := l.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	row, err := tx.Decision.Get(ctx, decisionID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, coreerr.ErrNotFound
		}
		return nil, fmt.Errorf("loading decision: %w", err)
	}

	reject := func(reason string) (*RenderResult, error) {
		ev, err := l.log.Append(ctx, tx, eventlog.AppendInput{
			TenantID:      row.TenantID,
			ProjectID:     row.ProjectID,
			Type:          eventlog.DecisionRenderRejected,
			CorrelationID: row.CommandID,
			CardID:        &row.CardID,
			CommandID:     &row.CommandID,
			RunID:         &row.RunID,
			DecisionID:    &decisionID,
			Payload: map[string]any{
				"attempted_option": optionKey,
				"attempted_by":     caller,
				"current_state":    string(row.State),
				"reason":           reason,
			},
		})
		if err != nil {
			return nil, err
		}
		if err := projectors.Apply(ctx, tx, ev, false); err != nil {
			return nil, fmt.Errorf("projecting DecisionRenderRejected: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing rejection: %w", err)
		}
		return &RenderResult{Status: "rejected", Reason: reason}, nil
	}

	if row.State != decision.StatePENDING && row.State != decision.StateCLAIMED {
		return reject(fmt.Sprintf("already resolved (%s)", row.State))
	}
	if row.State == decision.StateCLAIMED && (row.ClaimedBy == nil || *row.ClaimedBy != caller) {
		return reject("claimed_by_another")
	}

	valid := false
	for _, o := range row.Options {
		if k, _ := o["key"].(string); k == optionKey {
			valid = true
			break
		}
	}
	if !valid {
		return nil, coreerr.ErrInvalidOption
	}

	payload := map[string]any{
		"selected_option": optionKey,
		"rendered_by":     caller,
	}
	if note != nil {
		payload["note"] = *note
	}

	ev, err := l.log.Append(ctx, tx, eventlog.AppendInput{
		TenantID:      row.TenantID,
		ProjectID:     row.ProjectID,
		Type:          eventlog.DecisionRendered,
		CorrelationID: row.CommandID,
		CardID:        &row.CardID,
		CommandID:     &row.CommandID,
		RunID:         &row.RunID,
		DecisionID:    &decisionID,
		Payload:       payload,
	})
	if err != nil {
		return nil, err
	}
	if err := projectors.Apply(ctx, tx, ev, false); err != nil {
		return nil, fmt.Errorf("projecting DecisionRendered: %w", err)
	}

	cardRow, err := tx.Card.Get(ctx, row.CardID)
	if err != nil {
		return nil, fmt.Errorf("loading linked card: %w", err)
	}
	if cardRow.State == card.StateNEEDS_DECISION {
		if _, err := cards.TransitionTx(ctx, tx, l.log, cards.TransitionInput{
			CardID:        row.CardID,
			To:            card.StateRUNNING,
			Reason:        "decision rendered",
			CorrelationID: row.CommandID,
			DecisionID:    &decisionID,
		}); err != nil {
			return nil, fmt.Errorf("transitioning card to RUNNING: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing render: %w", err)
	}
	l.signal(ctx, decisionID)
	return &RenderResult{Status: "rendered"}, nil
}

// urgencyRank orders urgency for PendingDecisions: now < today < whenever.
var urgencyRank = map[decision.Urgency]int{
	decision.UrgencyNow:      0,
	decision.UrgencyToday:    1,
	decision.UrgencyWhenever: 2,
}

// PendingDecisions returns PENDING and CLAIMED decisions in project scope,
// sorted by urgency rank then requested_at ascending.
func (l *Lifecycle) PendingDecisions(ctx context.Context, projectID string, urgency *decision.Urgency) ([]*ent.Decision, error) {
	q := l.client.Decision.Query().Where(
		decision.ProjectID(projectID),
		decision.Or(decision.StateEQ(decision.StatePENDING), decision.StateEQ(decision.StateCLAIMED)),
	)
	if urgency != nil {
		q = q.Where(decision.UrgencyEQ(*urgency))
	}
	rows, err := q.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying pending decisions: %w", err)
	}
	sortByUrgencyThenRequestedAt(rows)
	return rows, nil
}

func sortByUrgencyThenRequestedAt(rows []*ent.Decision) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0; j-- {
			a, b := rows[j-1], rows[j]
			ra, rb := urgencyRank[a.Urgency], urgencyRank[b.Urgency]
			if ra < rb || (ra == rb && !a.RequestedAt.After(b.RequestedAt)) {
				break
			}
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}

// Snapshot is the point-in-time view returned by the Bot Interface's
// await_decision.
type Snapshot struct {
	ProjectID      string
	Status         string
	SelectedOption *string
	RenderedBy     *string
}

// AwaitDecision returns the current status snapshot without blocking;
// suspension on decision_id is the job primitive's concern (pkg/jobs).
func (l *Lifecycle) AwaitDecision(ctx context.Context, decisionID string) (*Snapshot, error) {
	row, err := l.client.Decision.Get(ctx, decisionID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, coreerr.ErrNotFound
		}
		return nil, fmt.Errorf("loading decision: %w", err)
	}
	status := map[decision.State]string{
		decision.StatePENDING:  "pending",
		decision.StateCLAIMED:  "claimed",
		decision.StateRENDERED: "rendered",
		decision.StateEXPIRED:  "expired",
	}[row.State]
	return &Snapshot{ProjectID: row.ProjectID, Status: status, SelectedOption: row.RenderedOption, RenderedBy: row.RenderedBy}, nil
}

// Detail is the context bundle decision_detail assembles at read time: the
// decision itself, its originating command spec, the resolved artifact
// manifests for artifact_refs, and the correlation event chain.
type Detail struct {
	Decision  *ent.Decision
	Command   *ent.Command
	Artifacts []*artifacts.Manifest
	Events    []*eventlog.Event
}

// DecisionDetail assembles the full read-time context bundle for a
// decision. Cross-project access returns NotFound, matching every other
// scoped read in this package.
func (l *Lifecycle) DecisionDetail(ctx context.Context, projectID, decisionID string, registry *artifacts.Registry) (*Detail, error) {
	row, err := l.client.Decision.Get(ctx, decisionID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, coreerr.ErrNotFound
		}
		return nil, fmt.Errorf("loading decision: %w", err)
	}
	if err := guard.CheckScope(projectID, row.ProjectID); err != nil {
		return nil, err
	}

	cmd, err := l.client.Command.Get(ctx, row.CommandID)
	if err != nil && !ent.IsNotFound(err) {
		return nil, fmt.Errorf("loading originating command: %w", err)
	}

	manifests, err := registry.Resolve(ctx, projectID, row.ArtifactRefs)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact refs: %w", err)
	}

	events, err := l.log.ByCorrelation(ctx, projectID, row.CommandID)
	if err != nil {
		return nil, fmt.Errorf("loading correlation chain: %w", err)
	}

	return &Detail{Decision: row, Command: cmd, Artifacts: manifests, Events: events}, nil
}
