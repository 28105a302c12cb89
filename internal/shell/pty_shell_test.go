package shell

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPersistentShell_RunCapturesOutputAndExitCode(t *testing.T) {
	s, err := NewPersistentShell("/bin/sh", 80, 24)
	if err != nil {
		t.Fatalf("NewPersistentShell: %v", err)
	}
	defer s.Close()

	res, err := s.Run(context.Background(), "echo hello-agentd", 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TimedOut {
		t.Fatal("unexpected timeout")
	}
	if !strings.Contains(res.Output, "hello-agentd") {
		t.Fatalf("Output = %q, want it to contain hello-agentd", res.Output)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestPersistentShell_RunPreservesStateAcrossCalls(t *testing.T) {
	s, err := NewPersistentShell("/bin/sh", 80, 24)
	if err != nil {
		t.Fatalf("NewPersistentShell: %v", err)
	}
	defer s.Close()

	if _, err := s.Run(context.Background(), "export AGENTD_VAR=persisted", 5*time.Second); err != nil {
		t.Fatalf("Run (export): %v", err)
	}
	res, err := s.Run(context.Background(), "echo $AGENTD_VAR", 5*time.Second)
	if err != nil {
		t.Fatalf("Run (echo): %v", err)
	}
	if !strings.Contains(res.Output, "persisted") {
		t.Fatalf("Output = %q, want it to contain persisted", res.Output)
	}
}

func TestPersistentShell_RunReportsNonZeroExit(t *testing.T) {
	s, err := NewPersistentShell("/bin/sh", 80, 24)
	if err != nil {
		t.Fatalf("NewPersistentShell: %v", err)
	}
	defer s.Close()

	res, err := s.Run(context.Background(), "sh -c 'exit 7'", 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", res.ExitCode)
	}
}
