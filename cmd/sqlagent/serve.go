package sqlagent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/igorsilveira/sqlagent/pkg/agent"
	"github.com/igorsilveira/sqlagent/pkg/audit"
	"github.com/igorsilveira/sqlagent/pkg/config"
	"github.com/igorsilveira/sqlagent/pkg/gateway"
	"github.com/igorsilveira/sqlagent/pkg/llm"
	"github.com/igorsilveira/sqlagent/pkg/scheduler"
	"github.com/igorsilveira/sqlagent/pkg/telemetry"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SQL agent A2A server",
	RunE:  runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides [server].host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides [server].port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := *config.Current()
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, nil)
	logger.Info("starting sql agent server",
		slog.String("version", version),
		slog.String("addr", cfg.Server.Addr()),
		slog.String("store", cfg.Store.Driver),
		slog.String("model", cfg.Agent.Model),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracer(sctx)
	}()

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  cfg.Agent.Provider,
		Model:     cfg.Agent.Model,
		BaseURL:   cfg.Agent.BaseURL,
		APIKeyEnv: cfg.Agent.APIKeyEnv,
	})
	if err != nil {
		return fmt.Errorf("creating llm provider: %w", err)
	}

	be, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = be.Close() }()

	runtime := agent.NewRuntime(agent.RuntimeConfig{
		Provider:        provider,
		Model:           cfg.Agent.Model,
		MaxOutputTokens: cfg.Agent.MaxOutputTokens,
		Schema:          agent.NewSchemaSource(cfg.Agent.SchemaPath),
	})

	handler := a2a.NewHandler(a2a.HandlerConfig{
		Card:      a2a.DefaultAgentCard(cfg.Server.PublicURL(), version),
		Store:     be.tasks,
		Runner:    runtime,
		AuditLog:  be.audit,
		Logger:    logger,
		AuthToken: cfg.Server.AuthToken,
	})

	gw := gateway.New(gateway.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Agent:       handler,
		CORSOrigins: cfg.Server.CORSOrigins,
		Ready:       be.ready,
		Logger:      logger,
	})

	if be.sql != nil && cfg.Store.TTL.Duration > 0 && cfg.Store.PruneSchedule != "" {
		sched := scheduler.New()
		if err := sched.Add(scheduler.PruneJob(be.sql, cfg.Store.PruneSchedule, cfg.Store.TTL.Duration)); err != nil {
			return err
		}
		schedCtx, stopSched := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			sched.Run(schedCtx)
		}()
		defer func() {
			stopSched()
			<-done
		}()
	}

	logServerEvent(ctx, be.audit, audit.EventServerStart, gw.Addr())
	err = gw.Start(ctx)
	logServerEvent(context.WithoutCancel(ctx), be.audit, audit.EventServerStop, gw.Addr())
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	logger.Info("shut down")
	return nil
}

func logServerEvent(ctx context.Context, auditLog *audit.Logger, event, addr string) {
	if auditLog == nil {
		return
	}
	if err := auditLog.Log(ctx, event, "", a2a.SkillSQLAgent, "system", "addr="+addr); err != nil {
		telemetry.FromContext(ctx).Warn("audit log write failed", slog.String("err", err.Error()))
	}
}
