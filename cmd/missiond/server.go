package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/kalambet/missiond/internal/api"
	"github.com/kalambet/missiond/internal/archive"
	"github.com/kalambet/missiond/internal/channels"
	"github.com/kalambet/missiond/internal/config"
	"github.com/kalambet/missiond/internal/cron"
	"github.com/kalambet/missiond/internal/engine"
	"github.com/kalambet/missiond/internal/events"
	"github.com/kalambet/missiond/internal/intelligence"
	"github.com/kalambet/missiond/internal/missions"
	"github.com/kalambet/missiond/internal/notify"
	"github.com/kalambet/missiond/internal/outbound"
	"github.com/kalambet/missiond/internal/pipeline"
	"github.com/kalambet/missiond/internal/push"
	"github.com/kalambet/missiond/internal/router"
	"github.com/kalambet/missiond/internal/storage"
	"github.com/kalambet/missiond/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the missiond server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show missiond system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "missiond version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	// An unreachable backend is not fatal: the pipeline falls back to
	// default intelligence until it comes back.
	eng, err := engine.Detect(engine.DetectConfig{
		Backend:       cfg.Intelligence.Backend,
		BaseURL:       cfg.Intelligence.BaseURL,
		APIKey:        cfg.Intelligence.APIKey,
		RatePerMinute: cfg.Intelligence.RatePerMinute,
		Timeout:       cfg.Intelligence.TimeoutDuration(),
	})
	if err != nil {
		return fmt.Errorf("detecting intelligence backend: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Intelligence.Model, os.Stderr); err != nil {
		slog.Warn("intelligence backend not ready", "backend", cfg.Intelligence.Backend, "error", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	gateway, closeGateway := pushGateway(ctx, cfg.Push)
	defer closeGateway()

	loc, err := time.LoadLocation(cfg.Notify.Timezone)
	if err != nil {
		return fmt.Errorf("loading notify.timezone: %w", err)
	}
	dispatcher := notify.NewDispatcher(store, gateway, notify.Settings{
		MaxPushPerDay: cfg.Notify.MaxPushPerDay,
		QuietStart:    cfg.Notify.QuietStart,
		QuietEnd:      cfg.Notify.QuietEnd,
		Location:      loc,
	})

	pipe := pipeline.New(store, intelligence.NewAdapter(eng, cfg.Intelligence.Model), dispatcher)
	digester := missions.NewDigester(store, dispatcher)
	handlers := missions.New(store, pipe, dispatcher, digester)

	metrics, err := telemetry.NewMissionMetrics(nil)
	if err != nil {
		return fmt.Errorf("creating mission metrics: %w", err)
	}
	opts := []router.Option{router.WithMetrics(metrics)}

	var nc *nats.Conn
	if cfg.Events.NATSURL != "" {
		nc, err = events.Connect(cfg.Events.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		opts = append(opts, router.WithPublisher(events.NewNATSPublisher(nc, cfg.Events.SubjectPrefix)))
		slog.Info("publishing mission records", "url", cfg.Events.NATSURL, "prefix", cfg.Events.SubjectPrefix)
	}
	rt := router.New(handlers, store, opts...)

	if nc != nil && cfg.Events.IngressSubject != "" {
		stopIngress, err := events.NewIngress(nc, cfg.Events.IngressSubject, rt).Start(ctx)
		if err != nil {
			return err
		}
		defer stopIngress()
		slog.Info("event ingress subscribed", "subject", cfg.Events.IngressSubject)
	}

	senders := channels.FromConfig(cfg.Channels)
	slog.Info("reply channels configured", "channels", senders.Channels())
	worker := outbound.NewWorker(store, senders, 500*time.Millisecond)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	if cfg.Schedule.Enabled {
		sched, err := newScheduler(ctx, cfg, rt, store)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Router: rt, Digester: digester})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	if cfg.Server.Token == "" {
		slog.Warn("server.token is not set; the API accepts unauthenticated requests")
	}
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Store:    store,
			Router:   rt,
			Digester: digester,
			Token:    cfg.Server.Token,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("missiond listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stop()
	<-workerDone
	return err
}

// pushGateway returns the Redis gateway when an address is configured and
// the logging gateway otherwise.
func pushGateway(ctx context.Context, cfg config.PushConfig) (push.Gateway, func()) {
	if cfg.RedisAddr == "" {
		return push.NewLogGateway(), func() {}
	}
	g := push.NewRedisGateway(cfg.RedisAddr, cfg.RedisQueue)
	if err := g.Ping(ctx); err != nil {
		slog.Warn("redis push gateway unreachable; pushes will be retried per notification", "addr", cfg.RedisAddr, "error", err)
	}
	return g, func() {
		if err := g.Close(); err != nil {
			slog.Warn("closing redis gateway", "error", err)
		}
	}
}

func newScheduler(ctx context.Context, cfg config.Config, rt cron.Router, store *storage.Store) (*cron.Scheduler, error) {
	var archiver cron.Archiver
	if cfg.Archive.S3Bucket != "" {
		dest, err := archive.NewS3Destination(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Region, cfg.Archive.S3Endpoint)
		if err != nil {
			return nil, fmt.Errorf("configuring audit archive: %w", err)
		}
		archiver = archive.NewExporter(store, dest, cfg.Archive.S3Prefix)
	}

	sched := cron.NewScheduler(rt, store, archiver)
	if err := sched.Configure(cfg.Schedule); err != nil {
		return nil, err
	}
	return sched, nil
}

func showStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus(out, "Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus(out, "Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus(out, "Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus(out, "Intelligence", "%s (%s) at %s", cfg.Intelligence.Backend, cfg.Intelligence.Model, cfg.Intelligence.BaseURL)
	printStatus(out, "Push", "%s", orDefault(cfg.Push.RedisAddr, "log only"))
	printStatus(out, "Event bus", "%s", orDefault(cfg.Events.NATSURL, "disabled"))
	printStatus(out, "Archive", "%s", orDefault(cfg.Archive.S3Bucket, "disabled"))
	printStatus(out, "Channels", "%s", strings.Join(channels.FromConfig(cfg.Channels).Channels(), ", "))

	if running {
		c := &apiClient{baseURL: serverURL, token: cfg.Server.Token, httpClient: client}
		if resp, err := c.get(cmd.Context(), "/v1/missions?limit=100"); err == nil {
			var logs []json.RawMessage
			if decodeJSON(resp, &logs) == nil {
				printStatus(out, "Recent missions", "%s", countLabel(len(logs), 100))
			}
		}
	}

	printStatus(out, "Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
