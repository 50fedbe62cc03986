package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/config"
	"github.com/nexuscore/core/internal/observability"
	"github.com/nexuscore/core/internal/resilience"
	"github.com/nexuscore/core/internal/scout"
)

const healthCheckInterval = 30 * time.Second

func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the core's ambient loops (health monitor, scout scheduler, audit sink)",
		Long: `Start the core's long-running supporting loops: the resilience kit's
health monitor, the scout scheduler, and the audit logger's write
goroutine. This does not open a channel transport — wiring Telegram,
Discord, Slack, or an HTTP API in front of the orchestrator is out of
scope here; a real deployment embeds these packages behind its own
channel adapter.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	auditor, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("start audit logger: %w", err)
	}
	defer auditor.Close()

	metrics := observability.NewMetrics()

	monitor := resilience.NewMonitor()
	monitor.Register(resilience.Check{
		Name: "audit_sink", Critical: true,
		Probe: func(ctx context.Context) error {
			select {
			case err := <-auditor.Errors():
				return err
			default:
				return nil
			}
		},
	})

	digest := scout.NewDigest(cfg.Scout.DigestCapacity)
	escalation := scout.NewEscalationManager(auditor)
	scheduler := scout.NewScheduler(auditor, digest, escalation, metrics)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go monitor.Run(ctx, healthCheckInterval)

	slog.Info("nexuscore serve started",
		"host", cfg.Server.Host, "port", cfg.Server.Port)

	<-ctx.Done()
	monitor.Stop()
	scheduler.Wait()

	slog.Info("nexuscore serve stopped")
	return nil
}
