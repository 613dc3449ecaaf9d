package eventlog

// Type is one of the closed set of event types the log accepts. Producers
// must use one of these constants; Append does not validate free-form
// strings beyond this set being the documented contract.
type Type string

const (
	CommandRequested        Type = "CommandRequested"
	CommandStarted          Type = "CommandStarted"
	CommandSucceeded        Type = "CommandSucceeded"
	CommandFailed           Type = "CommandFailed"
	CommandCanceled         Type = "CommandCanceled"
	CommandRetryScheduled   Type = "CommandRetryScheduled"
	CommandSkippedDuplicate Type = "CommandSkippedDuplicate"

	DecisionRequested    Type = "DecisionRequested"
	DecisionClaimed      Type = "DecisionClaimed"
	DecisionRendered     Type = "DecisionRendered"
	DecisionRenderRejected Type = "DecisionRenderRejected"
	DecisionExpired      Type = "DecisionExpired"
	DecisionClaimExpired Type = "DecisionClaimExpired"
	DecisionDeferred     Type = "DecisionDeferred"

	ArtifactProduced Type = "ArtifactProduced"

	CardCreated     Type = "CardCreated"
	CardTransitioned Type = "CardTransitioned"

	SloBreached         Type = "SloBreached"
	ReconciliationDrift Type = "ReconciliationDrift"
)

// Producer identifies the service and version that appended an event.
type Producer struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// Event is the in-memory shape of a log row — produced by Append, returned
// by the read primitives, and consumed by the projectors. Tagged for JSON
// so it can be written straight into pkg/archive's NDJSON files.
type Event struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	ProjectID      string         `json:"project_id"`
	Type           Type           `json:"type"`
	Version        int            `json:"version"`
	TS             int64          `json:"ts"`
	CorrelationID  string         `json:"correlation_id"`
	CausationID    *string        `json:"causation_id,omitempty"`
	CommandID      *string        `json:"command_id,omitempty"`
	RunID          *string        `json:"run_id,omitempty"`
	CardID         *string        `json:"card_id,omitempty"`
	DecisionID     *string        `json:"decision_id,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	Producer       Producer       `json:"producer"`
	Tags           map[string]any `json:"tags,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}
