// Package wizard holds the storage pool setup wizard: the disk role model,
// the seven step sequencer and the persisted snapshot that lets a user resume
// after a reload. It has no UI or network dependency; renderers subscribe to
// the events it publishes.
package wizard

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// transitions lists the moves reachable through Next, Back and the skip
// actions. Summary to provisioning goes through BeginProvisioning only.
var transitions = map[Step][]Step{
	StepDetect:       {StepData},
	StepData:         {StepDetect, StepParity},
	StepParity:       {StepData, StepCache},
	StepCache:        {StepParity, StepSummary},
	StepSummary:      {StepCache},
	StepProvisioning: {StepSummary},
}

// Wizard owns all wizard state. Every mutation goes through a method, is
// persisted when the step is restorable and publishes exactly one Event.
type Wizard struct {
	mu      sync.Mutex
	persist Persister
	logger  zerolog.Logger
	events  broadcaster

	step        Step
	disks       []Disk
	data        map[string]struct{}
	parity      string
	cache       string
	configuring bool
	tasks       []Task
	lastErr     string
	poolMount   string
	persistErr  error
}

type Option func(*Wizard)

func WithLogger(l zerolog.Logger) Option { return func(w *Wizard) { w.logger = l } }

// New returns a wizard at the detect step. A nil Persister keeps state in
// memory only.
func New(p Persister, opts ...Option) *Wizard {
	w := &Wizard{
		persist: p,
		logger:  zerolog.Nop(),
		step:    StepDetect,
		data:    map[string]struct{}{},
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = w.logger.With().Str("component", "wizard").Logger()
	return w
}

// Restore loads the persisted snapshot. Only steps detect through summary
// resume; anything else leaves the defaults. Reports whether state was
// restored.
func (w *Wizard) Restore(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.persist == nil {
		return false
	}
	snap, err := w.persist.Load(ctx)
	w.recordPersistErr(err)
	if snap == nil {
		return false
	}
	step := Step(snap.CurrentStep)
	if !step.Restorable() {
		w.logger.Info().Int("step", snap.CurrentStep).Msg("persisted step is not resumable; starting over")
		return false
	}
	w.data = map[string]struct{}{}
	for _, id := range snap.SelectedDataDisks {
		if id != "" {
			w.data[id] = struct{}{}
		}
	}
	w.parity = deref(snap.SelectedParityDisk)
	w.cache = deref(snap.SelectedCacheDisk)
	if step > StepData && len(w.data) == 0 {
		step = StepData
	}
	w.step = step
	w.recomputeLocked()
	w.events.publish(Event{Kind: EventChanged, View: w.viewLocked()})
	return true
}

// Subscribe returns a channel of events and a cancel function. The channel is
// closed by cancel.
func (w *Wizard) Subscribe(buf int) (<-chan Event, func()) {
	return w.events.subscribe(buf)
}

func (w *Wizard) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

func (w *Wizard) Selection() Selection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selectionLocked()
}

func (w *Wizard) IsConfiguring() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.configuring
}

func (w *Wizard) Disks() []Disk {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Disk(nil), w.disks...)
}

// PersistenceErr is the error of the most recent save, load or clear, or nil
// once persistence succeeds again.
func (w *Wizard) PersistenceErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.persistErr
}

// SetDisks replaces the detected disks. Before provisioning, selections that
// reference disks no longer present are dropped.
func (w *Wizard) SetDisks(ctx context.Context, disks []Disk) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disks = append([]Disk(nil), disks...)
	if w.step < StepProvisioning {
		for id := range w.data {
			if _, ok := w.diskLocked(id); !ok {
				delete(w.data, id)
			}
		}
		if _, ok := w.diskLocked(w.parity); !ok {
			w.parity = ""
		}
		if _, ok := w.diskLocked(w.cache); !ok {
			w.cache = ""
		}
		w.recomputeLocked()
	}
	w.commitLocked(ctx, EventChanged)
}

// ToggleData adds or removes id from the data set. Unknown ids are ignored.
func (w *Wizard) ToggleData(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.selectableLocked(); err != nil {
		return err
	}
	if _, ok := w.diskLocked(id); !ok {
		return nil
	}
	if _, in := w.data[id]; in {
		delete(w.data, id)
	} else {
		w.data[id] = struct{}{}
	}
	w.recomputeLocked()
	w.commitLocked(ctx, EventChanged)
	return nil
}

// SelectParity sets the parity disk; an empty id means no parity. Unknown ids
// are ignored.
func (w *Wizard) SelectParity(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.selectableLocked(); err != nil {
		return err
	}
	if id != "" {
		d, ok := w.diskLocked(id)
		if !ok {
			return nil
		}
		if _, in := w.data[id]; in || d.Bytes() < w.maxDataBytesLocked() {
			return fmt.Errorf("%w: %s as parity", ErrIneligible, id)
		}
	}
	w.parity = id
	w.recomputeLocked()
	w.commitLocked(ctx, EventChanged)
	return nil
}

// SelectCache sets the cache disk; an empty id means no cache. Unknown ids
// are ignored.
func (w *Wizard) SelectCache(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.selectableLocked(); err != nil {
		return err
	}
	if id != "" {
		d, ok := w.diskLocked(id)
		if !ok {
			return nil
		}
		if _, in := w.data[id]; in || id == w.parity || !d.Type.IsFlash() {
			return fmt.Errorf("%w: %s as cache", ErrIneligible, id)
		}
	}
	w.cache = id
	w.recomputeLocked()
	w.commitLocked(ctx, EventChanged)
	return nil
}

// RecomputeEligibility clears parity and cache selections that the current
// data set no longer allows and republishes the view.
func (w *Wizard) RecomputeEligibility(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recomputeLocked()
	w.commitLocked(ctx, EventChanged)
}

// Candidates reports every known disk with its role and eligibility flags.
func (w *Wizard) Candidates() []Candidate {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.candidatesLocked()
}

func (w *Wizard) Next(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step < StepDetect || w.step > StepCache {
		return fmt.Errorf("%w: no next step from %s", ErrInvalidTransition, w.step)
	}
	if err := w.gotoLocked(w.step + 1); err != nil {
		return err
	}
	w.commitLocked(ctx, EventChanged)
	return nil
}

func (w *Wizard) Back(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.configuring {
		return ErrBusy
	}
	if w.step <= StepDetect || w.step >= StepDone {
		return fmt.Errorf("%w: no previous step from %s", ErrInvalidTransition, w.step)
	}
	from := w.step
	if err := w.gotoLocked(w.step - 1); err != nil {
		return err
	}
	if from == StepProvisioning {
		w.tasks = nil
		w.lastErr = ""
	}
	w.commitLocked(ctx, EventChanged)
	return nil
}

// SkipParity clears the parity selection and moves to the cache step as one
// change.
func (w *Wizard) SkipParity(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepParity {
		return fmt.Errorf("%w: skip parity from %s", ErrInvalidTransition, w.step)
	}
	w.parity = ""
	w.recomputeLocked()
	if err := w.gotoLocked(StepCache); err != nil {
		return err
	}
	w.commitLocked(ctx, EventChanged)
	return nil
}

// SkipCache clears the cache selection and moves to the summary step as one
// change.
func (w *Wizard) SkipCache(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepCache {
		return fmt.Errorf("%w: skip cache from %s", ErrInvalidTransition, w.step)
	}
	w.cache = ""
	if err := w.gotoLocked(StepSummary); err != nil {
		return err
	}
	w.commitLocked(ctx, EventChanged)
	return nil
}

// BeginProvisioning enters the provisioning step and marks the wizard as
// configuring. It is the single-flight guard for pool creation: a second call
// before FailProvisioning or CompleteProvisioning returns ErrBusy. Allowed
// from the summary step, or from provisioning to retry a failed run.
func (w *Wizard) BeginProvisioning(ctx context.Context) (Selection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.configuring {
		return Selection{}, ErrBusy
	}
	if w.step != StepSummary && w.step != StepProvisioning {
		return Selection{}, fmt.Errorf("%w: provisioning from %s", ErrInvalidTransition, w.step)
	}
	if len(w.data) == 0 {
		return Selection{}, ErrNoDataDisks
	}
	w.configuring = true
	w.step = StepProvisioning
	w.tasks = nil
	w.lastErr = ""
	w.poolMount = ""
	// a reload while provisioning must start over
	if w.persist != nil {
		w.recordPersistErr(w.persist.Clear(ctx))
	}
	w.events.publish(Event{Kind: EventChanged, View: w.viewLocked()})
	return w.selectionLocked(), nil
}

// UpdateTasks publishes the provisioning task list.
func (w *Wizard) UpdateTasks(tasks []Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append([]Task(nil), tasks...)
	w.events.publish(Event{Kind: EventTasks, View: w.viewLocked()})
}

// FailProvisioning releases the guard and keeps the wizard on the
// provisioning step so the failed task stays visible.
func (w *Wizard) FailProvisioning(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.configuring = false
	w.lastErr = msg
	w.events.publish(Event{Kind: EventFailed, View: w.viewLocked()})
}

// CompleteProvisioning releases the guard and moves to the done step.
func (w *Wizard) CompleteProvisioning(poolMount string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.configuring = false
	w.lastErr = ""
	w.poolMount = poolMount
	w.step = StepDone
	w.events.publish(Event{Kind: EventCompleted, View: w.viewLocked()})
}

// Finish leaves the done step, clearing all wizard state. The route is the
// dashboard when the caller holds a session and the login page otherwise.
func (w *Wizard) Finish(ctx context.Context, hasSession bool) (Route, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepDone {
		return "", ErrNotFinished
	}
	w.resetLocked(ctx)
	if hasSession {
		return RouteDashboard, nil
	}
	return RouteLogin, nil
}

// Reset returns to defaults and erases the persisted copy.
func (w *Wizard) Reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.configuring {
		return ErrBusy
	}
	w.resetLocked(ctx)
	return nil
}

func (w *Wizard) resetLocked(ctx context.Context) {
	w.step = StepDetect
	w.disks = nil
	w.data = map[string]struct{}{}
	w.parity = ""
	w.cache = ""
	w.tasks = nil
	w.lastErr = ""
	w.poolMount = ""
	if w.persist != nil {
		w.recordPersistErr(w.persist.Clear(ctx))
	}
	w.events.publish(Event{Kind: EventReset, View: w.viewLocked()})
}

func (w *Wizard) selectableLocked() error {
	if w.configuring || w.step >= StepProvisioning {
		return ErrSelectionLocked
	}
	return nil
}

func (w *Wizard) gotoLocked(to Step) error {
	allowed := false
	for _, s := range transitions[w.step] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.step, to)
	}
	if w.step == StepData && to == StepParity && len(w.data) == 0 {
		return ErrNoDataDisks
	}
	w.logger.Debug().Stringer("from", w.step).Stringer("to", to).Msg("step")
	w.step = to
	return nil
}

// recomputeLocked drops a parity or cache choice the data set invalidated.
// Ids not among the known disks are left for SetDisks to prune.
func (w *Wizard) recomputeLocked() {
	maxData := w.maxDataBytesLocked()
	if w.parity != "" {
		_, inData := w.data[w.parity]
		d, known := w.diskLocked(w.parity)
		if inData || (known && d.Bytes() < maxData) {
			w.logger.Debug().Str("disk", w.parity).Msg("parity selection no longer eligible")
			w.parity = ""
		}
	}
	if w.cache != "" {
		_, inData := w.data[w.cache]
		d, known := w.diskLocked(w.cache)
		if inData || w.cache == w.parity || (known && !d.Type.IsFlash()) {
			w.logger.Debug().Str("disk", w.cache).Msg("cache selection no longer eligible")
			w.cache = ""
		}
	}
}

func (w *Wizard) commitLocked(ctx context.Context, kind EventKind) {
	if w.persist != nil && w.step.Restorable() {
		w.recordPersistErr(w.persist.Save(ctx, w.snapshotLocked()))
	}
	w.events.publish(Event{Kind: kind, View: w.viewLocked()})
}

func (w *Wizard) recordPersistErr(err error) {
	if err != nil {
		w.logger.Warn().Err(err).Msg("wizard state not persisted; continuing in memory")
	}
	w.persistErr = err
}

func (w *Wizard) diskLocked(id string) (Disk, bool) {
	if id == "" {
		return Disk{}, false
	}
	for _, d := range w.disks {
		if d.ID == id {
			return d, true
		}
	}
	return Disk{}, false
}

func (w *Wizard) maxDataBytesLocked() uint64 {
	var max uint64
	for id := range w.data {
		if d, ok := w.diskLocked(id); ok && d.Bytes() > max {
			max = d.Bytes()
		}
	}
	return max
}

// dataIDsLocked orders the data set by detection order; ids not yet detected
// follow, sorted.
func (w *Wizard) dataIDsLocked() []string {
	out := make([]string, 0, len(w.data))
	seen := map[string]bool{}
	for _, d := range w.disks {
		if _, in := w.data[d.ID]; in && !seen[d.ID] {
			out = append(out, d.ID)
			seen[d.ID] = true
		}
	}
	var rest []string
	for id := range w.data {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func (w *Wizard) selectionLocked() Selection {
	return Selection{DataDisks: w.dataIDsLocked(), ParityDisk: w.parity, CacheDisk: w.cache}
}

func (w *Wizard) snapshotLocked() Snapshot {
	return Snapshot{
		CurrentStep:        int(w.step),
		SelectedDataDisks:  w.dataIDsLocked(),
		SelectedParityDisk: optional(w.parity),
		SelectedCacheDisk:  optional(w.cache),
	}
}

func (w *Wizard) candidatesLocked() []Candidate {
	maxData := w.maxDataBytesLocked()
	out := make([]Candidate, 0, len(w.disks))
	for _, d := range w.disks {
		c := Candidate{Disk: d}
		_, c.InData = w.data[d.ID]
		c.IsParity = d.ID == w.parity
		c.IsCache = d.ID == w.cache
		c.TooSmall = d.Bytes() < maxData
		c.ParityEligible = !c.InData && !c.TooSmall
		c.CacheEligible = d.Type.IsFlash() && !c.InData && !c.IsParity
		out = append(out, c)
	}
	return out
}

func (w *Wizard) viewLocked() View {
	v := View{
		Step:          w.step,
		StepName:      w.step.String(),
		Disks:         append([]Disk{}, w.disks...),
		DataDisks:     w.dataIDsLocked(),
		ParityDisk:    optional(w.parity),
		CacheDisk:     optional(w.cache),
		Candidates:    w.candidatesLocked(),
		IsConfiguring: w.configuring,
		Error:         w.lastErr,
		PoolMount:     w.poolMount,
		Degraded:      w.persistErr != nil,
	}
	if len(w.tasks) > 0 {
		v.Tasks = append([]Task(nil), w.tasks...)
	}
	return v
}
