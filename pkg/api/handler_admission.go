package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tbenself/clawops/pkg/commands"
	"github.com/tbenself/clawops/pkg/guard"
)

var botOrOperatorOrOwner = []guard.Role{guard.RoleBot, guard.RoleOperator, guard.RoleOwner}

// requestCommandHandler handles POST .../commands.
func (s *Server) requestCommandHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, botOrOperatorOrOwner); err != nil {
		return mapDomainError(err)
	}

	var body RequestCommandBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.commands.RequestCommand(c.Request().Context(), commands.RequestInput{
		TenantID:      tenantID,
		ProjectID:     projectID,
		CorrelationID: body.CorrelationID,
		Title:         body.Title,
		Capabilities:  body.Capabilities,
		IdempotencyKey: body.IdempotencyKey,
		Spec: commands.Spec{
			CommandType:    body.CommandType,
			CommandVersion: body.CommandVersion,
			Args:           body.Args,
			Context:        body.Context,
			Constraints:    body.Constraints,
		},
	})
	if err != nil {
		return mapDomainError(err)
	}

	s.feed.Broadcast(projectID, map[string]any{"type": "command.requested", "command_id": res.CommandID, "card_id": res.CardID})
	return c.JSON(http.StatusCreated, &CommandResponse{CommandID: res.CommandID, CardID: res.CardID})
}

// createCardHandler handles POST .../cards.
func (s *Server) createCardHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, botOrOperatorOrOwner); err != nil {
		return mapDomainError(err)
	}

	var body CreateCardBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.commands.CreateCard(c.Request().Context(), commands.CreateCardInput{
		TenantID:       tenantID,
		ProjectID:      projectID,
		CommandID:      body.CommandID,
		CorrelationID:  body.CorrelationID,
		Title:          body.Title,
		CommandType:    body.CommandType,
		Priority:       body.Priority,
		Args:           body.Args,
		Capabilities:   body.Capabilities,
		ConcurrencyKey: body.ConcurrencyKey,
		MaxRetries:     body.MaxRetries,
	})
	if err != nil {
		return mapDomainError(err)
	}

	s.feed.Broadcast(projectID, map[string]any{"type": "card.created", "command_id": res.CommandID, "card_id": res.CardID})
	return c.JSON(http.StatusCreated, &CommandResponse{CommandID: res.CommandID, CardID: res.CardID})
}
