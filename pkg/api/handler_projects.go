package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tbenself/clawops/pkg/guard"
	"github.com/tbenself/clawops/pkg/projects"
)

// initProjectHandler handles POST /api/v1/projects.
func (s *Server) initProjectHandler(c *echo.Context) error {
	var body InitProjectBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	row, err := s.projects.InitProject(c.Request().Context(), projects.InitProjectInput{
		TenantID:  body.TenantID,
		ProjectID: body.ProjectID,
		Name:      body.Name,
	})
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusCreated, row)
}

// addMemberHandler handles POST .../members.
func (s *Server) addMemberHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")

	var body AddMemberBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	row, err := s.projects.AddMember(c.Request().Context(), tenantID, projectID, body.PrincipalID, guard.Role(body.Role))
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusCreated, &MemberResponse{PrincipalID: row.PrincipalID, Role: string(row.Role)})
}

// removeMemberHandler handles DELETE .../members/:principal_id.
func (s *Server) removeMemberHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if err := s.projects.RemoveMember(c.Request().Context(), tenantID, projectID, c.Param("principal_id")); err != nil {
		return mapDomainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listMembersHandler handles GET .../members.
func (s *Server) listMembersHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	rows, err := s.projects.ListMembers(c.Request().Context(), tenantID, projectID)
	if err != nil {
		return mapDomainError(err)
	}

	out := make([]*MemberResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, &MemberResponse{PrincipalID: row.PrincipalID, Role: string(row.Role)})
	}
	return c.JSON(http.StatusOK, out)
}

// myRoleHandler handles GET .../my-role.
func (s *Server) myRoleHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	role, err := s.projects.MyRole(c.Request().Context(), tenantID, projectID)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, &MyRoleResponse{Role: string(role)})
}
