package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tbenself/clawops/pkg/artifacts"
	"github.com/tbenself/clawops/pkg/guard"
)

var anyMember = []guard.Role{guard.RoleOwner, guard.RoleOperator, guard.RoleViewer, guard.RoleBot}

// reportArtifactHandler handles POST .../artifacts.
func (s *Server) reportArtifactHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, botOrOperatorOrOwner); err != nil {
		return mapDomainError(err)
	}

	var body ReportArtifactBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.artifacts.ReportArtifact(c.Request().Context(), artifacts.ReportInput{
		TenantID:      tenantID,
		ProjectID:     projectID,
		CorrelationID: body.CorrelationID,
		Content:       body.Content,
		Encoding:      artifacts.Encoding(body.Encoding),
		ContentType:   body.ContentType,
		LogicalName:   body.LogicalName,
		CommandID:     body.CommandID,
		RunID:         body.RunID,
		Labels:        body.Labels,
		Links:         body.Links,
	})
	if err != nil {
		return mapDomainError(err)
	}

	s.feed.Broadcast(projectID, map[string]any{"type": "artifact.produced", "artifact_id": res.ArtifactID})
	return c.JSON(http.StatusCreated, &ArtifactResponse{ArtifactID: res.ArtifactID, Deduplicated: res.Deduplicated})
}

// getArtifactHandler handles GET .../artifacts/:id.
func (s *Server) getArtifactHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, anyMember); err != nil {
		return mapDomainError(err)
	}

	row, err := s.artifacts.GetArtifact(c.Request().Context(), projectID, c.Param("id"))
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, row)
}

// artifactsForRunHandler handles GET .../runs/:run_id/artifacts.
func (s *Server) artifactsForRunHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, anyMember); err != nil {
		return mapDomainError(err)
	}

	rows, err := s.artifacts.ArtifactsForRun(c.Request().Context(), projectID, c.Param("run_id"))
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

// artifactsForCommandHandler handles GET .../commands/:command_id/artifacts.
func (s *Server) artifactsForCommandHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, anyMember); err != nil {
		return mapDomainError(err)
	}

	rows, err := s.artifacts.ArtifactsForCommand(c.Request().Context(), projectID, c.Param("command_id"))
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, rows)
}
