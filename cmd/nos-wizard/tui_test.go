package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"nithronos/poolwizard/internal/config"
	"nithronos/poolwizard/internal/kvstore"
	"nithronos/poolwizard/internal/wizard"
)

func fixtureDisks() []wizard.Disk {
	temp := 34.0
	return []wizard.Disk{
		{ID: "sda", Model: "WD Red", Size: "4 TB", Type: wizard.DiskHDD, Temp: &temp},
		{ID: "sdb", Model: "WD Red", Size: "2 TB", Type: wizard.DiskHDD},
		{ID: "nvme0n1", Model: "Samsung 980", Size: "1 TB", Type: wizard.DiskNVMe},
	}
}

func memoryApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Defaults()
	cfg.StateBackend = kvstore.BackendMemory
	cfg.StateDir = t.TempDir()
	a, err := newApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewAppMemoryBackend(t *testing.T) {
	a := memoryApp(t)
	if a.orch.Runs() != nil {
		t.Fatalf("memory backend should not record runs on disk")
	}
	ctx := context.Background()
	a.wiz.SetDisks(ctx, fixtureDisks())
	if err := a.wiz.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.wiz.ToggleData(ctx, "sdb"); err != nil {
		t.Fatal(err)
	}
	snap, err := wizard.NewPersistence(a.store, zerolog.Nop()).Load(ctx)
	if err != nil || snap == nil {
		t.Fatalf("snapshot not stored: %v %v", snap, err)
	}
	if snap.CurrentStep != int(wizard.StepData) || len(snap.SelectedDataDisks) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestNewAppRejectsUnknownSource(t *testing.T) {
	cfg := config.Defaults()
	cfg.StateBackend = kvstore.BackendMemory
	cfg.DiskSource = "floppy"
	if _, err := newApp(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unknown disk source")
	}
}

func TestDiskLabel(t *testing.T) {
	d := fixtureDisks()
	if got := diskLabel(d[0]); !strings.HasPrefix(got, "sda") || !strings.HasSuffix(got, "34°C") {
		t.Fatalf("label %q", got)
	}
	if got := diskLabel(d[2]); strings.Contains(got, "°C") || !strings.Contains(got, "NVMe") {
		t.Fatalf("label %q", got)
	}
}

func TestRoleOptions(t *testing.T) {
	a := memoryApp(t)
	ctx := context.Background()
	a.wiz.SetDisks(ctx, fixtureDisks())
	_ = a.wiz.Next(ctx)
	if err := a.wiz.ToggleData(ctx, "sdb"); err != nil {
		t.Fatal(err)
	}
	opts, ids := roleOptions(a.wiz.Candidates(), wizard.RoleParity)
	if len(opts) != 1 || ids[opts[0]] != "sda" {
		t.Fatalf("parity options %v", opts)
	}
	opts, ids = roleOptions(a.wiz.Candidates(), wizard.RoleCache)
	if len(opts) != 1 || ids[opts[0]] != "nvme0n1" {
		t.Fatalf("cache options %v", opts)
	}
}

func TestSummaryLines(t *testing.T) {
	parity := "sda"
	v := wizard.View{
		Disks:      fixtureDisks(),
		DataDisks:  []string{"sdb"},
		ParityDisk: &parity,
	}
	lines := summaryLines(v)
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"data    sdb (2 TB)", "parity  sda (4 TB)", "cache   none", "usable  2.0 TiB"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("summary missing %q:\n%s", want, joined)
		}
	}
}

func TestTaskProgress(t *testing.T) {
	tasks := []wizard.Task{
		{ID: wizard.TaskFormat, Label: "Formatting disks", Status: wizard.TaskDone},
		{ID: wizard.TaskMount, Label: "Mounting disks", Status: wizard.TaskRunning},
		{ID: wizard.TaskSnapraid, Label: "Configuring SnapRAID", Status: wizard.TaskPending},
		{ID: wizard.TaskMergerfs, Label: "Configuring mergerfs", Status: wizard.TaskPending},
	}
	desc, pct := taskProgress(tasks)
	if desc != "Mounting disks" || pct != 25 {
		t.Fatalf("got %q %d", desc, pct)
	}
	for i := range tasks {
		tasks[i].Status = wizard.TaskDone
	}
	desc, pct = taskProgress(tasks)
	if desc != "Done" || pct != 100 {
		t.Fatalf("got %q %d", desc, pct)
	}
}

func TestLogFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wizard.log")
	t.Setenv("NOS_LOG_FILE", path)
	initConfig()
	if got := logFilePath(); got != path {
		t.Fatalf("log file = %q, want %q", got, path)
	}
	t.Setenv("NOS_STATE_DIR", "/srv/wizard-state")
	if cfg := loadConfig(); cfg.StateDir != "/srv/wizard-state" {
		t.Fatalf("state dir = %q", cfg.StateDir)
	}
}
