package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "audit", "doctor"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestAuditCmdIncludesVerify(t *testing.T) {
	cmd := buildAuditCmd()
	for _, sub := range cmd.Commands() {
		if sub.Name() == "verify" {
			return
		}
	}
	t.Fatal("expected verify subcommand under audit")
}
