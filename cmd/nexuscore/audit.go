package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/config"
)

func buildAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(buildAuditVerifyCmd())
	return cmd
}

func buildAuditVerifyCmd() *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log's hash chain for one day",
		Long: `Walks a single day's audit-<day>.jsonl file and recomputes each
entry's hash, reporting the first entry (if any) whose hash or
prev_hash no longer matches — evidence the file was edited after the
fact (spec §4.5's tamper-evidence guarantee, P-CHAIN).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditVerify(day)
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "Day to verify, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func runAuditVerify(day string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer logger.Close()

	entries, err := logger.QueryDay(day)
	if err != nil {
		return fmt.Errorf("read %s: %w", day, err)
	}
	if len(entries) == 0 {
		fmt.Printf("no entries for %s\n", day)
		return nil
	}

	result, err := audit.VerifyChain(entries)
	if err != nil {
		return fmt.Errorf("verify %s: %w", day, err)
	}
	if result.Valid {
		fmt.Printf("%s: chain valid (%d entries)\n", day, len(entries))
		return nil
	}
	return fmt.Errorf("%s: chain broken at entry %d of %d", day, result.BrokenAt, len(entries))
}
