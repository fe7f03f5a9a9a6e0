// Package provision drives pool creation for a confirmed wizard selection: a
// single configure call to the storage API followed by the paced task
// pipeline and the optional initial parity sync.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nithronos/poolwizard/internal/kvstore"
	"nithronos/poolwizard/internal/poller"
	"nithronos/poolwizard/internal/wizard"
	"nithronos/poolwizard/pkg/nasclient"
)

// Backend is the part of the storage API the orchestrator calls.
type Backend interface {
	ConfigurePool(ctx context.Context, req nasclient.ConfigureRequest) (*nasclient.ConfigureResult, error)
	TriggerSync(ctx context.Context) error
	SyncProgress(ctx context.Context) (*nasclient.SyncProgress, error)
}

// Controller is the wizard surface used during a run.
type Controller interface {
	BeginProvisioning(ctx context.Context) (wizard.Selection, error)
	UpdateTasks(tasks []wizard.Task)
	FailProvisioning(msg string)
	CompleteProvisioning(poolMount string)
}

const configureFailed = "Failed to configure storage pool"

var taskLabels = map[wizard.TaskID]string{
	wizard.TaskFormat:   "Formatting disks",
	wizard.TaskMount:    "Mounting disks",
	wizard.TaskSnapraid: "Configuring SnapRAID",
	wizard.TaskMergerfs: "Configuring MergerFS",
	wizard.TaskFstab:    "Updating fstab",
	wizard.TaskSync:     "Initial parity sync",
}

// sleep paces the locally reported task transitions; tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	Pacing          time.Duration
	SyncInterval    time.Duration
	SyncMaxAttempts int
	WaitForSync     bool
	Runs            *RunStore
	Store           kvstore.Store
	Logger          zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		Pacing:          400 * time.Millisecond,
		SyncInterval:    5 * time.Second,
		SyncMaxAttempts: 120,
		WaitForSync:     true,
		Logger:          zerolog.Nop(),
	}
}

type Orchestrator struct {
	wiz     Controller
	backend Backend
	opts    Options
	logger  zerolog.Logger
}

func New(wiz Controller, backend Backend, opts Options) *Orchestrator {
	return &Orchestrator{
		wiz:     wiz,
		backend: backend,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "provision").Logger(),
	}
}

func (o *Orchestrator) Runs() *RunStore { return o.opts.Runs }

// Prepare claims the wizard for a new run. It fails with wizard.ErrBusy while
// another run is in flight and with wizard.ErrNoDataDisks when nothing is
// selected.
func (o *Orchestrator) Prepare(ctx context.Context) (*Run, error) {
	sel, err := o.wiz.BeginProvisioning(ctx)
	if err != nil {
		return nil, err
	}
	r := &Run{ID: uuid.NewString(), StartedAt: time.Now().UTC(), Selection: sel}
	for _, id := range wizard.TaskOrder {
		r.Tasks = append(r.Tasks, wizard.Task{ID: id, Label: taskLabels[id], Status: wizard.TaskPending})
	}
	o.publish(ctx, r)
	o.logger.Info().Str("run", r.ID).Strs("data", sel.DataDisks).Str("parity", sel.ParityDisk).Str("cache", sel.CacheDisk).Msg("provisioning started")
	return r, nil
}

// CreateStoragePool runs a whole provisioning attempt synchronously.
func (o *Orchestrator) CreateStoragePool(ctx context.Context) (*Run, error) {
	r, err := o.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	return r, o.Execute(ctx, r)
}

// Execute drives a prepared run to completion or failure. The wizard leaves
// the configuring state on every return path.
func (o *Orchestrator) Execute(ctx context.Context, r *Run) (err error) {
	released := false
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("provisioning panicked: %v", p)
		}
		if !released {
			o.fail(ctx, r, 0, configureFailed, err)
		}
		observeRunDuration(r.StartedAt)
	}()

	o.setTask(ctx, r, 0, wizard.TaskRunning, "")
	res, err := o.backend.ConfigurePool(ctx, buildRequest(r.Selection))
	if err != nil {
		msg := configureFailed
		var he *nasclient.HTTPError
		if errors.As(err, &he) && he.Message != "" {
			msg = he.Message
		}
		released = true
		o.fail(ctx, r, 0, msg, err)
		return fmt.Errorf("configure pool: %w", err)
	}
	r.PoolMount = res.PoolMount

	// The backend already did the work; report it one task at a time. From
	// here on cancellation only shortens the pacing and the sync watch, the
	// run still completes.
	last := len(r.Tasks) - 1
	paced := true
	for i := 0; i < last; i++ {
		if i > 0 {
			o.setTask(ctx, r, i, wizard.TaskRunning, "")
		}
		if paced {
			if err := sleep(ctx, o.opts.Pacing); err != nil {
				o.logger.Debug().Err(err).Str("run", r.ID).Msg("pacing stopped")
				paced = false
			}
		}
		o.setTask(ctx, r, i, wizard.TaskDone, "")
	}

	o.runSync(ctx, r, last)

	if o.opts.Store != nil {
		sc := StorageConfig{
			DataDisks:    r.Selection.DataDisks,
			PoolMount:    r.PoolMount,
			ConfiguredAt: time.Now().UTC(),
		}
		if r.Selection.HasParity() {
			p := r.Selection.ParityDisk
			sc.ParityDisk = &p
		}
		if r.Selection.HasCache() {
			c := r.Selection.CacheDisk
			sc.CacheDisk = &c
		}
		// the pool exists at this point; a lost record is not a failed run
		if err := SaveStorageConfig(context.WithoutCancel(ctx), o.opts.Store, sc); err != nil {
			o.logger.Warn().Err(err).Msg("storage configuration not recorded")
		}
	}

	now := time.Now().UTC()
	r.OK = true
	r.FinishedAt = &now
	o.save(ctx, r)
	o.opts.Runs.AppendLog(r.ID, "info", "", "pool ready at "+r.PoolMount)
	released = true
	o.wiz.CompleteProvisioning(r.PoolMount)
	incRun("ok")
	o.logger.Info().Str("run", r.ID).Str("mount", r.PoolMount).Str("sync", r.SyncOutcome).Msg("provisioning complete")
	return nil
}

// runSync never fails the run: every problem ends as a qualified done.
func (o *Orchestrator) runSync(ctx context.Context, r *Run, idx int) {
	if !r.Selection.HasParity() {
		r.SyncOutcome = "skipped"
		incSyncOutcome(r.SyncOutcome)
		o.setTask(ctx, r, idx, wizard.TaskDone, "Skipped, no parity disk selected")
		return
	}
	o.setTask(ctx, r, idx, wizard.TaskRunning, "Starting initial parity sync")
	if err := o.backend.TriggerSync(ctx); err != nil {
		o.logger.Warn().Err(err).Str("run", r.ID).Msg("initial sync trigger failed; sync left to schedule")
		r.SyncOutcome = "scheduled"
		incSyncOutcome(r.SyncOutcome)
		o.setTask(ctx, r, idx, wizard.TaskDone, "Initial sync scheduled, it will run in the background")
		return
	}
	if !o.opts.WaitForSync {
		r.SyncOutcome = "started"
		incSyncOutcome(r.SyncOutcome)
		o.setTask(ctx, r, idx, wizard.TaskDone, "Initial sync started in the background")
		return
	}

	var reported string
	p := poller.Poller{Interval: o.opts.SyncInterval, MaxAttempts: o.opts.SyncMaxAttempts}
	outcome, err := p.Poll(ctx, func(ctx context.Context, attempt int) (bool, error) {
		st, err := o.backend.SyncProgress(ctx)
		if err != nil {
			o.logger.Debug().Err(err).Int("attempt", attempt).Msg("sync progress unavailable")
			return false, nil
		}
		if st.Error != "" {
			reported = st.Error
			return true, nil
		}
		if !st.Running {
			return true, nil
		}
		setSyncProgress(st.Progress)
		o.setTask(ctx, r, idx, wizard.TaskRunning, fmt.Sprintf("Syncing parity: %.0f%%", st.Progress))
		return false, nil
	})
	switch {
	case outcome == poller.Completed && reported != "":
		o.logger.Warn().Str("error", reported).Str("run", r.ID).Msg("initial sync reported an error")
		r.SyncOutcome = "error"
		o.setTask(ctx, r, idx, wizard.TaskDone, "Sync reported a problem: "+reported+". The pool is usable; check SnapRAID status")
	case outcome == poller.Completed:
		r.SyncOutcome = "complete"
		setSyncProgress(100)
		o.setTask(ctx, r, idx, wizard.TaskDone, "Initial sync complete")
	default:
		if err != nil {
			o.logger.Warn().Err(err).Str("run", r.ID).Msg("stopped watching initial sync")
		}
		r.SyncOutcome = "background"
		o.setTask(ctx, r, idx, wizard.TaskDone, "Sync still running in the background")
	}
	incSyncOutcome(r.SyncOutcome)
}

func (o *Orchestrator) fail(ctx context.Context, r *Run, idx int, msg string, cause error) {
	for i := range r.Tasks {
		if r.Tasks[i].Status == wizard.TaskRunning {
			idx = i
			break
		}
	}
	r.Tasks[idx].Status = wizard.TaskError
	r.Tasks[idx].Message = msg
	now := time.Now().UTC()
	r.OK = false
	r.FinishedAt = &now
	r.Error = msg
	if cause != nil {
		r.Error = cause.Error()
	}
	o.publish(ctx, r)
	o.opts.Runs.AppendLog(r.ID, "error", r.Tasks[idx].ID, r.Error)
	o.wiz.FailProvisioning(msg)
	incRun("error")
	o.logger.Error().Err(cause).Str("run", r.ID).Str("task", string(r.Tasks[idx].ID)).Msg("provisioning failed")
}

func (o *Orchestrator) setTask(ctx context.Context, r *Run, idx int, st wizard.TaskStatus, msg string) {
	r.Tasks[idx].Status = st
	r.Tasks[idx].Message = msg
	o.opts.Runs.AppendLog(r.ID, "info", r.Tasks[idx].ID, string(st)+" "+msg)
	o.publish(ctx, r)
}

func (o *Orchestrator) publish(ctx context.Context, r *Run) {
	o.wiz.UpdateTasks(r.Tasks)
	o.save(ctx, r)
}

func (o *Orchestrator) save(ctx context.Context, r *Run) {
	if err := o.opts.Runs.Save(context.WithoutCancel(ctx), r); err != nil {
		o.logger.Warn().Err(err).Str("run", r.ID).Msg("run record not saved")
	}
}

func buildRequest(sel wizard.Selection) nasclient.ConfigureRequest {
	req := nasclient.ConfigureRequest{}
	for _, id := range sel.DataDisks {
		req.Disks = append(req.Disks, nasclient.PoolDisk{ID: id, Role: string(wizard.RoleData), Format: true})
	}
	if sel.HasParity() {
		req.Disks = append(req.Disks, nasclient.PoolDisk{ID: sel.ParityDisk, Role: string(wizard.RoleParity), Format: true})
	}
	if sel.HasCache() {
		req.Disks = append(req.Disks, nasclient.PoolDisk{ID: sel.CacheDisk, Role: string(wizard.RoleCache), Format: true})
	}
	return req
}
