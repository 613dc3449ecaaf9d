// Package api provides the HTTP and WebSocket transport: echo/v5 routes
// under /api/v1, each a thin wrapper translating JSON requests into the
// corresponding domain-package call and back, plus one health endpoint.
// Grounded in the teacher's pkg/api/server.go.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tbenself/clawops/pkg/artifacts"
	"github.com/tbenself/clawops/pkg/commands"
	"github.com/tbenself/clawops/pkg/database"
	"github.com/tbenself/clawops/pkg/decisions"
	"github.com/tbenself/clawops/pkg/guard"
	"github.com/tbenself/clawops/pkg/projects"
	"github.com/tbenself/clawops/pkg/wsfeed"
)

// Server is the HTTP+WebSocket API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	db         *sql.DB
	botSecret  string
	wsOrigins  []string

	guard     *guard.Guard
	commands  *commands.Admitter
	artifacts *artifacts.Registry
	decisions *decisions.Lifecycle
	projects  *projects.Service
	feed      *wsfeed.Manager
}

// NewServer creates a new API server with echo/v5, registering routes
// immediately (wiring the domain packages happens via the Set* methods
// below, matching the teacher's NewServer/Set*/ValidateWiring split).
func NewServer(db *sql.DB, botSecret string) *Server {
	e := echo.New()
	s := &Server{echo: e, db: db, botSecret: botSecret}
	s.echo.Use(securityHeaders())
	s.echo.Use(s.authContext())
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.setupRoutes()
	return s
}

func (s *Server) SetGuard(g *guard.Guard)               { s.guard = g }
func (s *Server) SetCommands(c *commands.Admitter)      { s.commands = c }
func (s *Server) SetArtifacts(a *artifacts.Registry)    { s.artifacts = a }
func (s *Server) SetDecisions(d *decisions.Lifecycle)   { s.decisions = d }
func (s *Server) SetProjects(p *projects.Service)       { s.projects = p }
func (s *Server) SetFeed(f *wsfeed.Manager)             { s.feed = f }

// ValidateWiring checks that every Set* method has been called, so that a
// wiring gap is caught at startup instead of surfacing as a nil-pointer
// panic at request time. Grounded in the teacher's server.ValidateWiring.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.guard == nil {
		errs = append(errs, fmt.Errorf("guard not set (call SetGuard)"))
	}
	if s.commands == nil {
		errs = append(errs, fmt.Errorf("commands not set (call SetCommands)"))
	}
	if s.artifacts == nil {
		errs = append(errs, fmt.Errorf("artifacts not set (call SetArtifacts)"))
	}
	if s.decisions == nil {
		errs = append(errs, fmt.Errorf("decisions not set (call SetDecisions)"))
	}
	if s.projects == nil {
		errs = append(errs, fmt.Errorf("projects not set (call SetProjects)"))
	}
	if s.feed == nil {
		errs = append(errs, fmt.Errorf("feed not set (call SetFeed)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers every route spec.md §6 names.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthHandler)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1/tenants/:tenant_id/projects/:project_id")

	v1.POST("/commands", s.requestCommandHandler)
	v1.POST("/cards", s.createCardHandler)

	v1.POST("/artifacts", s.reportArtifactHandler)
	v1.GET("/artifacts/:id", s.getArtifactHandler)
	v1.GET("/runs/:run_id/artifacts", s.artifactsForRunHandler)
	v1.GET("/commands/:command_id/artifacts", s.artifactsForCommandHandler)

	v1.POST("/decisions", s.requestDecisionHandler)
	v1.GET("/decisions", s.pendingDecisionsHandler)
	v1.GET("/decisions/:id", s.decisionDetailHandler)
	v1.POST("/decisions/:id/claim", s.claimDecisionHandler)
	v1.POST("/decisions/:id/renew", s.renewClaimHandler)
	v1.POST("/decisions/:id/render", s.renderDecisionHandler)
	v1.GET("/decisions/:id/await", s.awaitDecisionHandler)

	v1.POST("/members", s.addMemberHandler)
	v1.DELETE("/members/:principal_id", s.removeMemberHandler)
	v1.GET("/members", s.listMembersHandler)
	v1.GET("/my-role", s.myRoleHandler)

	v1.GET("/ws", s.wsHandler)

	s.echo.POST("/api/v1/projects", s.initProjectHandler)
}

// Start runs the HTTP server on addr. Blocks until Shutdown or an error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the server on a pre-created listener, used by
// test infrastructure binding to a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /healthz.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{Status: "healthy", Checks: map[string]string{}}
	if dbHealth, err := database.Health(reqCtx, s.db); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Checks["database"] = dbHealth.Status
	}
	if s.feed != nil {
		resp.ActiveConnections = s.feed.ActiveConnections()
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}
