package systemd

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/clusterprep/pkg/runner"
)

func testLogger() *zap.SugaredLogger {
	log, _ := zap.NewDevelopment()
	return log.Sugar()
}

func TestIsActive(t *testing.T) {
	run := runner.NewFake()
	run.Set("systemctl is-active systemd-networkd", "active\n", 0)
	run.Set("systemctl is-active NetworkManager", "inactive\n", 3)
	mgr := NewManager(run, testLogger())

	if !mgr.IsActive(context.Background(), "systemd-networkd") {
		t.Error("expected systemd-networkd active")
	}
	if mgr.IsActive(context.Background(), "NetworkManager") {
		t.Error("expected NetworkManager inactive")
	}
}

func TestWaitActiveSingleCheck(t *testing.T) {
	run := runner.NewFake()
	run.Set("systemctl is-active systemd-networkd", "failed\n", 3)
	mgr := NewManager(run, testLogger())

	if err := mgr.WaitActive(context.Background(), "systemd-networkd", 0); err == nil {
		t.Error("expected error for inactive unit")
	}
	if got := len(run.Calls()); got != 1 {
		t.Errorf("expected exactly one check, got %d", got)
	}
}

func TestWaitActiveTimeout(t *testing.T) {
	run := runner.NewFake()
	run.Set("systemctl is-active systemd-networkd", "activating\n", 3)
	mgr := NewManager(run, testLogger())
	mgr.pollInterval = 5 * time.Millisecond

	err := mgr.WaitActive(context.Background(), "systemd-networkd", 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if len(run.Calls()) < 2 {
		t.Errorf("expected polling, got calls %v", run.Calls())
	}
}

func TestWaitActiveRecovers(t *testing.T) {
	run := runner.NewFake()
	run.Set("systemctl is-active systemd-networkd", "activating\n", 3)
	checks := 0
	run.OnRun("systemctl is-active systemd-networkd", func() {
		checks++
		if checks == 2 {
			run.Set("systemctl is-active systemd-networkd", "active\n", 0)
		}
	})
	mgr := NewManager(run, testLogger())
	mgr.pollInterval = 5 * time.Millisecond

	if err := mgr.WaitActive(context.Background(), "systemd-networkd", time.Second); err != nil {
		t.Fatalf("expected unit to settle, got %v", err)
	}
}

func TestFirstInstalled(t *testing.T) {
	run := runner.NewFake()
	run.Set("systemctl cat ssh.service", "No files found for ssh.service.", 1)
	mgr := NewManager(run, testLogger())

	unit, ok := mgr.FirstInstalled(context.Background(), "ssh", "sshd")
	if !ok || unit != "sshd" {
		t.Errorf("expected sshd, got %q (ok=%v)", unit, ok)
	}
}

func TestEnableNowAndReload(t *testing.T) {
	run := runner.NewFake()
	run.Set("systemctl reload ssh", "Job failed", 1)
	mgr := NewManager(run, testLogger())

	if err := mgr.EnableNow(context.Background(), "ssh"); err != nil {
		t.Fatalf("EnableNow: %v", err)
	}
	if !run.Ran("systemctl enable --now ssh") {
		t.Error("expected enable --now")
	}
	if err := mgr.Reload(context.Background(), "ssh"); err == nil {
		t.Error("expected reload failure to surface")
	}
}
