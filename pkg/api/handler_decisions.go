package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tbenself/clawops/ent/decision"
	"github.com/tbenself/clawops/pkg/decisions"
	"github.com/tbenself/clawops/pkg/guard"
)

// scopedDecision loads a point-in-time snapshot and rejects one that
// belongs to another project before any claim/renew/render call touches
// it, matching the teacher-grounded CheckScope idiom pkg/botapi.AwaitDecision
// already applies to the same leakage risk.
func (s *Server) scopedDecision(c *echo.Context, projectID, decisionID string) error {
	snap, err := s.decisions.AwaitDecision(c.Request().Context(), decisionID)
	if err != nil {
		return err
	}
	return guard.CheckScope(projectID, snap.ProjectID)
}

// requestDecisionHandler handles POST .../decisions.
func (s *Server) requestDecisionHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, botOrOperatorOrOwner); err != nil {
		return mapDomainError(err)
	}

	var body RequestDecisionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	opts := make([]decisions.Option, 0, len(body.Options))
	for _, o := range body.Options {
		opts = append(opts, decisions.Option{Key: o.Key, Label: o.Label, Consequence: o.Consequence})
	}
	var expiresAt *time.Time
	if body.ExpiresInSec != nil {
		t := time.Now().Add(time.Duration(*body.ExpiresInSec) * time.Second)
		expiresAt = &t
	}

	row, err := s.decisions.RequestDecision(c.Request().Context(), decisions.RequestInput{
		TenantID:       tenantID,
		ProjectID:      projectID,
		CardID:         body.CardID,
		CommandID:      body.CommandID,
		RunID:          body.RunID,
		CorrelationID:  body.CorrelationID,
		Urgency:        decision.Urgency(body.Urgency),
		Title:          body.Title,
		ContextSummary: body.ContextSummary,
		Options:        opts,
		ArtifactRefs:   body.ArtifactRefs,
		SourceThread:   body.SourceThread,
		ExpiresAt:      expiresAt,
		FallbackOption: body.FallbackOption,
	})
	if err != nil {
		return mapDomainError(err)
	}

	s.feed.Broadcast(projectID, map[string]any{"type": "decision.requested", "decision_id": row.ID})
	return c.JSON(http.StatusCreated, row)
}

// pendingDecisionsHandler handles GET .../decisions.
func (s *Server) pendingDecisionsHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, anyMember); err != nil {
		return mapDomainError(err)
	}

	var urgency *decision.Urgency
	if v := c.QueryParam("urgency"); v != "" {
		u := decision.Urgency(v)
		urgency = &u
	}

	rows, err := s.decisions.PendingDecisions(c.Request().Context(), projectID, urgency)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

// decisionDetailHandler handles GET .../decisions/:id.
func (s *Server) decisionDetailHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, anyMember); err != nil {
		return mapDomainError(err)
	}

	detail, err := s.decisions.DecisionDetail(c.Request().Context(), projectID, c.Param("id"), s.artifacts)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

// claimDecisionHandler handles POST .../decisions/:id/claim.
func (s *Server) claimDecisionHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	auth, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, anyMember)
	if err != nil {
		return mapDomainError(err)
	}
	decisionID := c.Param("id")
	if err := s.scopedDecision(c, projectID, decisionID); err != nil {
		return mapDomainError(err)
	}

	res, err := s.decisions.ClaimDecision(c.Request().Context(), decisionID, auth.PrincipalID, time.Now())
	if err != nil {
		return mapDomainError(err)
	}

	s.feed.Broadcast(projectID, map[string]any{"type": "decision.claimed", "decision_id": decisionID, "status": res.Status})
	return c.JSON(http.StatusOK, &ClaimResponse{ClaimedBy: res.ClaimedBy, ClaimedUntil: res.ClaimedUntil.Format(time.RFC3339)})
}

// renewClaimHandler handles POST .../decisions/:id/renew.
func (s *Server) renewClaimHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	auth, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, anyMember)
	if err != nil {
		return mapDomainError(err)
	}
	decisionID := c.Param("id")
	if err := s.scopedDecision(c, projectID, decisionID); err != nil {
		return mapDomainError(err)
	}

	until, err := s.decisions.RenewClaim(c.Request().Context(), decisionID, auth.PrincipalID, time.Now())
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, &RenewClaimResponse{ClaimedUntil: until.Format(time.RFC3339)})
}

// renderDecisionHandler handles POST .../decisions/:id/render.
func (s *Server) renderDecisionHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	auth, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, anyMember)
	if err != nil {
		return mapDomainError(err)
	}
	decisionID := c.Param("id")
	if err := s.scopedDecision(c, projectID, decisionID); err != nil {
		return mapDomainError(err)
	}

	var body RenderDecisionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.decisions.RenderDecision(c.Request().Context(), decisionID, body.OptionKey, auth.PrincipalID, body.Note, time.Now())
	if err != nil {
		return mapDomainError(err)
	}

	s.feed.Broadcast(projectID, map[string]any{"type": "decision.rendered", "decision_id": decisionID, "status": res.Status})
	selected := ""
	if res.Status == "rendered" {
		selected = body.OptionKey
	}
	return c.JSON(http.StatusOK, &RenderResponse{Status: res.Status, SelectedOption: selected, Reason: res.Reason})
}

// awaitDecisionHandler handles GET .../decisions/:id/await. Non-blocking:
// it reports the status at the moment of the call, per spec.md's point-in-time
// await_decision contract for this adapter path.
func (s *Server) awaitDecisionHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, botOrOperatorOrOwner); err != nil {
		return mapDomainError(err)
	}

	decisionID := c.Param("id")
	snap, err := s.decisions.AwaitDecision(c.Request().Context(), decisionID)
	if err != nil {
		return mapDomainError(err)
	}
	if err := guard.CheckScope(projectID, snap.ProjectID); err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, snap)
}
