package wizard

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"nithronos/poolwizard/internal/kvstore"

	"github.com/rs/zerolog"
)

type brokenStore struct{ err error }

func (b brokenStore) Get(context.Context, string) ([]byte, error) { return nil, b.err }
func (b brokenStore) Put(context.Context, string, []byte) error   { return b.err }
func (b brokenStore) Delete(context.Context, string) error        { return b.err }

func strp(s string) *string { return &s }

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(kvstore.NewFile(t.TempDir()), zerolog.Nop())
	snaps := []Snapshot{
		{CurrentStep: 1, SelectedDataDisks: []string{}},
		{CurrentStep: 3, SelectedDataDisks: []string{"sda", "sdb"}, SelectedParityDisk: strp("sdd")},
		{CurrentStep: 5, SelectedDataDisks: []string{"sda"}, SelectedParityDisk: strp("sdd"), SelectedCacheDisk: strp("nvme0n1")},
	}
	for _, want := range snaps {
		if err := p.Save(ctx, want); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := p.Load(ctx)
		if err != nil || got == nil {
			t.Fatalf("load: %v %v", got, err)
		}
		if !reflect.DeepEqual(*got, want) {
			t.Fatalf("round trip: got %+v want %+v", *got, want)
		}
	}
}

func TestLoadIgnoresUnusableContent(t *testing.T) {
	ctx := context.Background()
	mem := kvstore.NewMemory()
	p := NewPersistence(mem, zerolog.Nop())
	for _, raw := range []string{
		`{not json`,
		`{"currentStep":"two","selectedDataDisks":[]}`,
		`{"currentStep":2,"selectedDataDisks":"sda"}`,
		`{"selectedDataDisks":[]}`,
	} {
		_ = mem.Put(ctx, StateKey, []byte(raw))
		snap, err := p.Load(ctx)
		if err != nil || snap != nil {
			t.Fatalf("%s: want absent, got %+v %v", raw, snap, err)
		}
	}
	_ = mem.Delete(ctx, StateKey)
	if snap, err := p.Load(ctx); err != nil || snap != nil {
		t.Fatalf("missing key: %+v %v", snap, err)
	}
}

func TestRestoreResumesSelectionSteps(t *testing.T) {
	ctx := context.Background()
	mem := kvstore.NewMemory()
	p := NewPersistence(mem, zerolog.Nop())
	_ = p.Save(ctx, Snapshot{CurrentStep: 4, SelectedDataDisks: []string{"sda"}, SelectedParityDisk: strp("sdd")})

	w := New(p)
	if !w.Restore(ctx) {
		t.Fatalf("expected restore")
	}
	w.SetDisks(ctx, bay())
	if w.Step() != StepCache {
		t.Fatalf("step = %s", w.Step())
	}
	sel := w.Selection()
	if !reflect.DeepEqual(sel.DataDisks, []string{"sda"}) || sel.ParityDisk != "sdd" {
		t.Fatalf("selection = %+v", sel)
	}
}

func TestRestoreFromProvisioningStartsOver(t *testing.T) {
	ctx := context.Background()
	mem := kvstore.NewMemory()
	_ = mem.Put(ctx, StateKey, []byte(`{"currentStep":6,"selectedDataDisks":["sda"],"selectedParityDisk":"sdb","selectedCacheDisk":null}`))

	w := New(NewPersistence(mem, zerolog.Nop()))
	if w.Restore(ctx) {
		t.Fatalf("provisioning must not resume")
	}
	v := w.View()
	if v.Step != StepDetect || len(v.DataDisks) != 0 || v.ParityDisk != nil || v.CacheDisk != nil {
		t.Fatalf("expected defaults, got %+v", v)
	}
}

func TestRestoreClampsStepWithoutDataDisks(t *testing.T) {
	ctx := context.Background()
	mem := kvstore.NewMemory()
	_ = NewPersistence(mem, zerolog.Nop()).Save(ctx, Snapshot{CurrentStep: 5})
	w := New(NewPersistence(mem, zerolog.Nop()))
	w.Restore(ctx)
	if w.Step() != StepData {
		t.Fatalf("step = %s, want data", w.Step())
	}
}

func TestWizardContinuesWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("read-only file system")
	w := New(NewPersistence(brokenStore{err: boom}, zerolog.Nop()))
	if w.Restore(ctx) {
		t.Fatalf("nothing to restore")
	}
	w.SetDisks(ctx, bay())
	if err := w.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := w.ToggleData(ctx, "sda"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if w.Step() != StepData || len(w.Selection().DataDisks) != 1 {
		t.Fatalf("in-memory state lost: %+v", w.View())
	}
	if !errors.Is(w.PersistenceErr(), boom) || !w.View().Degraded {
		t.Fatalf("persistence failure not surfaced: %v", w.PersistenceErr())
	}
}

func TestMemoryOnlyWizard(t *testing.T) {
	ctx := context.Background()
	w := New(nil)
	if w.Restore(ctx) {
		t.Fatalf("nil persister cannot restore")
	}
	w.SetDisks(ctx, bay())
	_ = w.Next(ctx)
	if w.PersistenceErr() != nil || w.Step() != StepData {
		t.Fatalf("unexpected state %+v", w.View())
	}
}
