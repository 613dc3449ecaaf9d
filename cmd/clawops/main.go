// clawops runs the coordination runtime: an append-only event log, a
// card/command/decision/artifact domain layer, a periodic sweeper, and the
// HTTP/WebSocket transport in front of it all.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tbenself/clawops/pkg/api"
	"github.com/tbenself/clawops/pkg/artifacts"
	"github.com/tbenself/clawops/pkg/commands"
	"github.com/tbenself/clawops/pkg/config"
	"github.com/tbenself/clawops/pkg/database"
	"github.com/tbenself/clawops/pkg/decisions"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/guard"
	"github.com/tbenself/clawops/pkg/jobs"
	"github.com/tbenself/clawops/pkg/metrics"
	"github.com/tbenself/clawops/pkg/projects"
	"github.com/tbenself/clawops/pkg/sweeper"
	"github.com/tbenself/clawops/pkg/wsfeed"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	dbClient, err := database.NewClient(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("closing database client", "error", err)
		}
	}()
	slog.Info("connected to PostgreSQL")

	for _, c := range metrics.All() {
		if err := prometheus.Register(c); err != nil {
			slog.Warn("registering metrics collector", "error", err)
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("closing redis client", "error", err)
		}
	}()
	jobsPrimitive := jobs.New(rdb)

	eventLog := eventlog.New(dbClient.Client, eventlog.Producer{Service: "clawops", Version: "dev"})

	identityResolver := api.ContextResolver{}
	accessGuard := guard.New(dbClient.Client, identityResolver)

	commandAdmitter := commands.New(dbClient.Client, eventLog)
	artifactStore := artifacts.NewLocalStore(".clawops/artifacts")
	artifactRegistry := artifacts.New(dbClient.Client, eventLog, artifactStore)
	decisionLifecycle := decisions.New(dbClient.Client, eventLog, cfg.Sweeper.ClaimTTL).WithWaker(jobsPrimitive)
	projectService := projects.New(dbClient.Client, accessGuard)

	// pkg/botapi wraps the same commandAdmitter/artifactRegistry/decisionLifecycle
	// behind the bot-only role set; it is an alternate in-process entrypoint for a
	// bot driver embedding clawops directly rather than over HTTP, not something
	// this daemon calls itself.

	feed := wsfeed.New(eventLog, 10*time.Second)

	sweep := sweeper.New(dbClient.Client, eventLog, cfg.Sweeper).WithJobs(jobsPrimitive)
	sweep.Start(ctx)
	defer sweep.Stop()

	server := api.NewServer(dbClient.DB(), cfg.Server.BotSecret)
	server.SetGuard(accessGuard)
	server.SetCommands(commandAdmitter)
	server.SetArtifacts(artifactRegistry)
	server.SetDecisions(decisionLifecycle)
	server.SetProjects(projectService)
	server.SetFeed(feed)
	server.SetWSOrigins(cfg.Server.AllowedWSOrigins)

	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("server wiring incomplete: %v", err)
	}

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := server.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutting down HTTP server", "error", err)
	}
}
