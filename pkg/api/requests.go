package api

// RequestCommandBody is the JSON body for POST /api/v1/commands.
type RequestCommandBody struct {
	CommandType    string         `json:"command_type"`
	CommandVersion *string        `json:"command_version,omitempty"`
	Args           map[string]any `json:"args,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Constraints    map[string]any `json:"constraints,omitempty"`
	CorrelationID  string         `json:"correlation_id"`
	Title          string         `json:"title"`
	Capabilities   []string       `json:"capabilities,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
}

// CreateCardBody is the JSON body for POST /api/v1/cards.
type CreateCardBody struct {
	CommandID      string         `json:"command_id"`
	CorrelationID  string         `json:"correlation_id"`
	Title          string         `json:"title"`
	CommandType    string         `json:"command_type"`
	Priority       int            `json:"priority"`
	Args           map[string]any `json:"args,omitempty"`
	Capabilities   []string       `json:"capabilities,omitempty"`
	ConcurrencyKey string         `json:"concurrency_key,omitempty"`
	MaxRetries     any            `json:"max_retries,omitempty"`
}

// ReportArtifactBody is the JSON body for POST /api/v1/artifacts.
type ReportArtifactBody struct {
	CorrelationID string         `json:"correlation_id"`
	Content       string         `json:"content"`
	Encoding      string         `json:"encoding"`
	ContentType   string         `json:"content_type"`
	LogicalName   string         `json:"logical_name"`
	CommandID     *string        `json:"command_id,omitempty"`
	RunID         *string        `json:"run_id,omitempty"`
	Labels        map[string]any `json:"labels,omitempty"`
	Links         []string       `json:"links,omitempty"`
}

// DecisionOptionBody is one enumerated option on a decision request.
type DecisionOptionBody struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Consequence string `json:"consequence,omitempty"`
}

// RequestDecisionBody is the JSON body for POST /api/v1/decisions.
type RequestDecisionBody struct {
	CardID         string                `json:"card_id"`
	CommandID      string                `json:"command_id"`
	RunID          string                `json:"run_id"`
	CorrelationID  string                `json:"correlation_id"`
	Urgency        string                `json:"urgency"`
	Title          string                `json:"title"`
	ContextSummary *string               `json:"context_summary,omitempty"`
	Options        []DecisionOptionBody  `json:"options"`
	ArtifactRefs   []string              `json:"artifact_refs,omitempty"`
	SourceThread   *string               `json:"source_thread,omitempty"`
	ExpiresInSec   *int64                `json:"expires_in_sec,omitempty"`
	FallbackOption *string               `json:"fallback_option,omitempty"`
}

// RenderDecisionBody is the JSON body for POST /api/v1/decisions/:id/render.
type RenderDecisionBody struct {
	OptionKey string  `json:"option_key"`
	Note      *string `json:"note,omitempty"`
}

// InitProjectBody is the JSON body for POST /api/v1/projects.
type InitProjectBody struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

// AddMemberBody is the JSON body for POST /api/v1/projects/:id/members.
type AddMemberBody struct {
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
}
