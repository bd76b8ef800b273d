package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const checkYAML = `
devices:
  - driver: lirc
  - driver: denon
triggers:
  - name: volume-up
    patterns:
      - source: lirc
        message: sony.KEY_VOLUMEUP
    action: denon.volume
    args: [UP]
    repeat: true
timers:
  - name: night
    schedule:
      hour: [1]
      minute: [0]
    action: denon.standby
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "halirc.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "halirc dev") {
		t.Errorf("output = %q", out)
	}
}

func TestCheckCommand(t *testing.T) {
	out, err := execute(t, "check", "--config", writeConfig(t, checkYAML))
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	for _, want := range []string{
		"ok",
		"  lirc\n",
		"volume-up: [lirc:sony.KEY_VOLUMEUP.00] -> denon.volume [UP] (repeat)",
		"night: [0 1 * * *] -> denon.standby []",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckCommand_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "devices:\n  - driver: toaster\n")
	if _, err := execute(t, "check", "-c", path); err == nil || !strings.Contains(err.Error(), "toaster") {
		t.Errorf("check error = %v", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HALIRC_CONFIG", "/nonexistent/path/halirc.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, ""); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	// No devices and no services: only the Hal runs.
	path := writeConfig(t, "logging:\n  level: error\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
