package wizard

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"nithronos/poolwizard/internal/kvstore"

	"github.com/rs/zerolog"
)

func bay() []Disk {
	return []Disk{
		{ID: "sda", Model: "WD Red Plus", Size: "2 TB", Type: DiskHDD},
		{ID: "sdb", Model: "WD Red Plus", Size: "4 TB", Type: DiskHDD},
		{ID: "sdc", Model: "IronWolf", Size: "1 TB", Type: DiskHDD},
		{ID: "sdd", Model: "IronWolf Pro", Size: "6 TB", Type: DiskHDD},
		{ID: "nvme0n1", Model: "Samsung 980", Size: "1 TB", Type: DiskNVMe},
		{ID: "sde", Model: "Crucial MX500", Size: "500 GB", Type: DiskSSD},
	}
}

func newWizard(t *testing.T) (*Wizard, *kvstore.Memory) {
	t.Helper()
	mem := kvstore.NewMemory()
	w := New(NewPersistence(mem, zerolog.Nop()))
	w.SetDisks(context.Background(), bay())
	return w, mem
}

func candidate(t *testing.T, w *Wizard, id string) Candidate {
	t.Helper()
	for _, c := range w.Candidates() {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("no candidate %s", id)
	return Candidate{}
}

func TestDataDisksExcludedFromParityAndTooSmallFlag(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	_ = w.ToggleData(ctx, "sda")
	_ = w.ToggleData(ctx, "sdb")

	for _, id := range []string{"sda", "sdb"} {
		c := candidate(t, w, id)
		if !c.InData || c.ParityEligible || c.CacheEligible {
			t.Fatalf("%s: data disk offered for another role: %+v", id, c)
		}
	}
	c := candidate(t, w, "sdc")
	if !c.TooSmall || c.ParityEligible {
		t.Fatalf("1 TB disk must be too small for parity over 4 TB data: %+v", c)
	}
	if err := w.SelectParity(ctx, "sdc"); !errors.Is(err, ErrIneligible) {
		t.Fatalf("want ErrIneligible, got %v", err)
	}
	if c := candidate(t, w, "sdd"); !c.ParityEligible || c.TooSmall {
		t.Fatalf("6 TB disk should be parity eligible: %+v", c)
	}
}

func TestParityClearedWhenLargerDataDiskAdded(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	_ = w.ToggleData(ctx, "sda")
	if err := w.SelectParity(ctx, "sdb"); err != nil {
		t.Fatalf("select parity: %v", err)
	}
	if w.Selection().ParityDisk != "sdb" {
		t.Fatalf("parity not set")
	}
	_ = w.ToggleData(ctx, "sdd")
	if p := w.Selection().ParityDisk; p != "" {
		t.Fatalf("4 TB parity must be cleared under 6 TB data, still %q", p)
	}
}

func TestParityClearedWhenAddedToData(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	_ = w.ToggleData(ctx, "sda")
	_ = w.SelectParity(ctx, "sdd")
	_ = w.SelectCache(ctx, "nvme0n1")
	_ = w.ToggleData(ctx, "sdd")
	_ = w.ToggleData(ctx, "nvme0n1")
	sel := w.Selection()
	if sel.ParityDisk != "" || sel.CacheDisk != "" {
		t.Fatalf("selections must not dangle: %+v", sel)
	}
}

func TestCacheRules(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	_ = w.ToggleData(ctx, "sdc")
	if err := w.SelectCache(ctx, "sdd"); !errors.Is(err, ErrIneligible) {
		t.Fatalf("hdd as cache: %v", err)
	}
	if c := candidate(t, w, "sdd"); c.CacheEligible {
		t.Fatalf("hdd offered as cache")
	}
	if err := w.SelectCache(ctx, "sde"); err != nil {
		t.Fatalf("ssd cache: %v", err)
	}
	if err := w.SelectCache(ctx, "nvme0n1"); err != nil {
		t.Fatalf("nvme cache: %v", err)
	}
	if w.Selection().CacheDisk != "nvme0n1" {
		t.Fatalf("single select should replace previous cache")
	}
	// choosing the cache disk as parity evicts it from cache
	if err := w.SelectParity(ctx, "nvme0n1"); err != nil {
		t.Fatalf("nvme parity: %v", err)
	}
	sel := w.Selection()
	if sel.ParityDisk != "nvme0n1" || sel.CacheDisk != "" {
		t.Fatalf("parity/cache overlap: %+v", sel)
	}
	if err := w.SelectCache(ctx, "nvme0n1"); !errors.Is(err, ErrIneligible) {
		t.Fatalf("parity disk as cache: %v", err)
	}
	if err := w.SelectCache(ctx, ""); err != nil || w.Selection().CacheDisk != "" {
		t.Fatalf("clearing cache: %v", err)
	}
}

func TestUnknownDiskIgnored(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	for _, fn := range []func(context.Context, string) error{w.ToggleData, w.SelectParity, w.SelectCache} {
		if err := fn(ctx, "sdz"); err != nil {
			t.Fatalf("unknown id should be a no-op, got %v", err)
		}
	}
	sel := w.Selection()
	if len(sel.DataDisks) != 0 || sel.ParityDisk != "" || sel.CacheDisk != "" {
		t.Fatalf("unknown id changed selection: %+v", sel)
	}
}

func TestEmptyDataSetAllowsAnyParity(t *testing.T) {
	w, _ := newWizard(t)
	for _, c := range w.Candidates() {
		if c.TooSmall || !c.ParityEligible {
			t.Fatalf("with no data disks every disk is parity eligible: %+v", c)
		}
	}
}

func TestRoleInvariantsHoldUnderRandomActions(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	rng := rand.New(rand.NewSource(7))
	ids := []string{"sda", "sdb", "sdc", "sdd", "nvme0n1", "sde", "missing"}
	for i := 0; i < 2000; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(5) {
		case 0, 1:
			_ = w.ToggleData(ctx, id)
		case 2:
			_ = w.SelectParity(ctx, id)
		case 3:
			_ = w.SelectCache(ctx, id)
		case 4:
			_ = w.SelectParity(ctx, "")
		}
		sel := w.Selection()
		var maxData uint64
		for _, d := range sel.DataDisks {
			if d == sel.ParityDisk || d == sel.CacheDisk {
				t.Fatalf("step %d: %s holds two roles: %+v", i, d, sel)
			}
			for _, disk := range bay() {
				if disk.ID == d && disk.Bytes() > maxData {
					maxData = disk.Bytes()
				}
			}
		}
		if sel.ParityDisk != "" && sel.ParityDisk == sel.CacheDisk {
			t.Fatalf("step %d: parity and cache share %s", i, sel.ParityDisk)
		}
		if sel.ParityDisk != "" {
			for _, disk := range bay() {
				if disk.ID == sel.ParityDisk && disk.Bytes() < maxData {
					t.Fatalf("step %d: parity %s smaller than largest data disk", i, disk.ID)
				}
			}
		}
		if sel.CacheDisk != "" {
			for _, disk := range bay() {
				if disk.ID == sel.CacheDisk && !disk.Type.IsFlash() {
					t.Fatalf("step %d: cache %s is not flash", i, disk.ID)
				}
			}
		}
	}
}

func TestStepSequence(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	if err := w.Back(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("back from detect: %v", err)
	}
	if err := w.Next(ctx); err != nil || w.Step() != StepData {
		t.Fatalf("detect->data: %v %s", err, w.Step())
	}
	if err := w.Next(ctx); !errors.Is(err, ErrNoDataDisks) || w.Step() != StepData {
		t.Fatalf("data->parity without disks: %v %s", err, w.Step())
	}
	_ = w.ToggleData(ctx, "sda")
	if err := w.Next(ctx); err != nil || w.Step() != StepParity {
		t.Fatalf("data->parity: %v", err)
	}
	if err := w.SkipCache(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("skip cache from parity: %v", err)
	}
	_ = w.SelectParity(ctx, "sdb")
	if err := w.SkipParity(ctx); err != nil || w.Step() != StepCache {
		t.Fatalf("skip parity: %v", err)
	}
	if w.Selection().ParityDisk != "" {
		t.Fatalf("skip parity must clear the parity selection")
	}
	_ = w.SelectCache(ctx, "sde")
	if err := w.SkipCache(ctx); err != nil || w.Step() != StepSummary || w.Selection().CacheDisk != "" {
		t.Fatalf("skip cache: %v %+v", err, w.Selection())
	}
	if err := w.Next(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("summary has no plain next: %v", err)
	}
	if err := w.Back(ctx); err != nil || w.Step() != StepCache {
		t.Fatalf("summary->cache: %v", err)
	}
	if err := w.Next(ctx); err != nil || w.Step() != StepSummary {
		t.Fatalf("cache->summary: %v", err)
	}
}

func TestSkipParityPublishesSingleConsistentEvent(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	_ = w.ToggleData(ctx, "sda")
	_ = w.Next(ctx)
	_ = w.Next(ctx)
	_ = w.SelectParity(ctx, "sdd")

	events, cancel := w.Subscribe(16)
	defer cancel()
	if err := w.SkipParity(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 1 {
		t.Fatalf("want exactly one event, got %d", len(got))
	}
	if got[0].View.Step != StepCache || got[0].View.ParityDisk != nil {
		t.Fatalf("intermediate state leaked: %+v", got[0].View)
	}
}

func TestProvisioningGuardAndFinish(t *testing.T) {
	ctx := context.Background()
	w, mem := newWizard(t)
	if _, err := w.BeginProvisioning(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("begin from detect: %v", err)
	}
	_ = w.Next(ctx)
	_ = w.ToggleData(ctx, "sda")
	_ = w.Next(ctx)
	_ = w.Next(ctx)
	_ = w.Next(ctx)
	if _, err := mem.Get(ctx, StateKey); err != nil {
		t.Fatalf("summary step should be persisted: %v", err)
	}

	sel, err := w.BeginProvisioning(ctx)
	if err != nil || len(sel.DataDisks) != 1 || w.Step() != StepProvisioning || !w.IsConfiguring() {
		t.Fatalf("begin: %v %+v", err, sel)
	}
	if _, err := mem.Get(ctx, StateKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("entering provisioning must erase the persisted copy: %v", err)
	}
	if _, err := w.BeginProvisioning(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("second begin: %v", err)
	}
	if err := w.ToggleData(ctx, "sdb"); !errors.Is(err, ErrSelectionLocked) {
		t.Fatalf("selection during provisioning: %v", err)
	}
	if err := w.Back(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("back while configuring: %v", err)
	}
	if err := w.Reset(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("reset while configuring: %v", err)
	}

	w.FailProvisioning("disk busy")
	v := w.View()
	if v.IsConfiguring || v.Step != StepProvisioning || v.Error != "disk busy" {
		t.Fatalf("failure view: %+v", v)
	}
	if _, err := w.Finish(ctx, true); !errors.Is(err, ErrNotFinished) {
		t.Fatalf("finish before done: %v", err)
	}
	// retry from the provisioning step
	if _, err := w.BeginProvisioning(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	w.CompleteProvisioning("/mnt/storage")
	v = w.View()
	if v.Step != StepDone || v.IsConfiguring || v.PoolMount != "/mnt/storage" {
		t.Fatalf("done view: %+v", v)
	}
	route, err := w.Finish(ctx, false)
	if err != nil || route != RouteLogin {
		t.Fatalf("finish without session: %v %s", err, route)
	}
	if w.Step() != StepDetect || len(w.Selection().DataDisks) != 0 || len(w.Disks()) != 0 {
		t.Fatalf("finish must clear state: %+v", w.View())
	}
}

func TestBackFromFailedProvisioningPersistsAgain(t *testing.T) {
	ctx := context.Background()
	w, mem := newWizard(t)
	_ = w.Next(ctx)
	_ = w.ToggleData(ctx, "sda")
	for i := 0; i < 3; i++ {
		_ = w.Next(ctx)
	}
	if _, err := w.BeginProvisioning(ctx); err != nil {
		t.Fatal(err)
	}
	w.UpdateTasks([]Task{{ID: TaskFormat, Label: "Formatting disks", Status: TaskError, Message: "boom"}})
	w.FailProvisioning("boom")
	if err := w.Back(ctx); err != nil || w.Step() != StepSummary {
		t.Fatalf("back to summary: %v", err)
	}
	if v := w.View(); v.Error != "" || len(v.Tasks) != 0 {
		t.Fatalf("failed run still shown on summary: %+v", v)
	}
	snap, _ := NewPersistence(mem, zerolog.Nop()).Load(ctx)
	if snap == nil || snap.CurrentStep != int(StepSummary) {
		t.Fatalf("summary not persisted after leaving provisioning: %+v", snap)
	}
}

func TestConcurrentBeginProvisioningSingleFlight(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	_ = w.Next(ctx)
	_ = w.ToggleData(ctx, "sda")
	for i := 0; i < 3; i++ {
		_ = w.Next(ctx)
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.BeginProvisioning(ctx); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("want exactly one provisioning start, got %d", wins)
	}
}

func TestSetDisksPrunesVanishedSelections(t *testing.T) {
	ctx := context.Background()
	w, _ := newWizard(t)
	_ = w.ToggleData(ctx, "sda")
	_ = w.ToggleData(ctx, "sdb")
	_ = w.SelectParity(ctx, "sdd")
	_ = w.SelectCache(ctx, "sde")
	w.SetDisks(ctx, []Disk{
		{ID: "sda", Size: "2 TB", Type: DiskHDD},
		{ID: "sdd", Size: "6 TB", Type: DiskHDD},
	})
	sel := w.Selection()
	if len(sel.DataDisks) != 1 || sel.DataDisks[0] != "sda" || sel.ParityDisk != "sdd" || sel.CacheDisk != "" {
		t.Fatalf("unexpected selection after refresh: %+v", sel)
	}
}

func TestParseDiskTypeCaseInsensitive(t *testing.T) {
	for in, want := range map[string]DiskType{"hdd": DiskHDD, "Ssd": DiskSSD, "NVME": DiskNVMe, "nvme": DiskNVMe} {
		if got := ParseDiskType(in); got != want {
			t.Fatalf("%s: got %s", in, got)
		}
	}
	if DiskHDD.IsFlash() || !DiskNVMe.IsFlash() || !DiskSSD.IsFlash() {
		t.Fatalf("flash classification")
	}
}
