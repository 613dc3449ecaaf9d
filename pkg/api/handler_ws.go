package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// SetWSOrigins configures the allowlist coder/websocket checks an Origin
// header against. An empty allowlist accepts every origin, matching the
// teacher's handler_ws.go InsecureSkipVerify default.
func (s *Server) SetWSOrigins(origins []string) { s.wsOrigins = origins }

// wsHandler handles GET .../ws, upgrading to a project-scoped WebSocket
// connection. Authorization happens before the upgrade: once accepted, the
// connection is scoped to this project for its entire lifetime, so there
// is no per-message re-check the way an HTTP handler re-authorizes on
// every call.
func (s *Server) wsHandler(c *echo.Context) error {
	tenantID, projectID := c.Param("tenant_id"), c.Param("project_id")
	if _, err := s.guard.Authorize(c.Request().Context(), tenantID, projectID, anyMember); err != nil {
		return mapDomainError(err)
	}

	opts := &websocket.AcceptOptions{}
	if len(s.wsOrigins) > 0 {
		opts.OriginPatterns = s.wsOrigins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	s.feed.HandleConnection(c.Request().Context(), projectID, conn)
	return nil
}
