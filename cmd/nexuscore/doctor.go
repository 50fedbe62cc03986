package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/config"
	"github.com/nexuscore/core/internal/memory"
	"github.com/nexuscore/core/internal/netguard"
	"github.com/nexuscore/core/internal/resilience"
)

func buildDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and report system health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context())
		},
	}
	return cmd
}

func runDoctor(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Println("config: OK")

	_ = netguard.NewGuard(cfg.NetGuard)
	fmt.Println("netGuard: OK")

	auditor, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("audit config invalid: %w", err)
	}
	defer auditor.Close()
	fmt.Println("audit: OK")

	mem, err := memory.NewManager(cfg.Memory, auditor)
	if err != nil {
		return fmt.Errorf("memory config invalid: %w", err)
	}
	defer mem.Close()
	fmt.Println("memory: OK")

	monitor := resilience.NewMonitor()
	monitor.Register(resilience.Check{
		Name: "audit_dir", Critical: true,
		Probe: func(ctx context.Context) error {
			select {
			case err := <-auditor.Errors():
				return err
			default:
				return nil
			}
		},
	})
	summary := monitor.CheckNow(ctx)
	for _, check := range summary.Checks {
		status := "OK"
		if !check.OK {
			status = "FAIL: " + check.Error
		}
		fmt.Printf("%s: %s\n", check.Name, status)
	}
	if !summary.Healthy {
		return fmt.Errorf("one or more critical checks failed")
	}
	return nil
}
