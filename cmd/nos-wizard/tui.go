package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"nithronos/poolwizard/internal/disks"
	"nithronos/poolwizard/internal/wizard"
)

const (
	optContinue = "Continue"
	optBack     = "Back"
	optNoParity = "No parity (pool is not protected against disk failure)"
	optNoCache  = "No cache"
	optCreate   = "Create pool"
	optRetry    = "Retry"
	optQuit     = "Quit"
	optRedetect = "Detect again"
	confirmWord = "FORMAT"
	progressMax = 100
)

// tui renders the wizard in a terminal. It only calls wizard methods and
// redraws from the resulting view.
type tui struct {
	a   *app
	out io.Writer
}

func newTUI(a *app, out io.Writer) *tui { return &tui{a: a, out: out} }

func (t *tui) Run(ctx context.Context) error {
	t.welcome()
	if s := t.a.wiz.Step(); s > wizard.StepDetect && s < wizard.StepProvisioning {
		// resumed: roles refer to disks that have to be detected again
		if list, err := t.a.source.ListDisks(ctx); err == nil {
			t.a.wiz.SetDisks(ctx, list)
		} else {
			color.Yellow("Disk detection failed: %v", err)
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch t.a.wiz.Step() {
		case wizard.StepDetect:
			err = t.detect(ctx)
		case wizard.StepData:
			err = t.data(ctx)
		case wizard.StepParity:
			err = t.parity(ctx)
		case wizard.StepCache:
			err = t.cache(ctx)
		case wizard.StepSummary:
			err = t.summary(ctx)
		case wizard.StepProvisioning:
			err = t.failed(ctx)
		case wizard.StepDone:
			return t.done(ctx)
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil && !t.recoverable(err) {
			return err
		}
	}
}

var errQuit = errors.New("quit")

// recoverable prints validation errors and keeps the loop going.
func (t *tui) recoverable(err error) bool {
	for _, e := range []error{wizard.ErrNoDataDisks, wizard.ErrIneligible, wizard.ErrInvalidTransition, wizard.ErrBusy} {
		if errors.Is(err, e) {
			color.Red("✗ %v", err)
			return true
		}
	}
	return false
}

func (t *tui) welcome() {
	color.Blue("\n╔═══════════════════════════════════════╗")
	color.Blue("║     NithronOS Storage Pool Setup      ║")
	color.Blue("╚═══════════════════════════════════════╝\n")
	fmt.Fprintln(t.out, "  1. Detect disks")
	fmt.Fprintln(t.out, "  2. Choose data disks")
	fmt.Fprintln(t.out, "  3. Choose a parity disk (optional)")
	fmt.Fprintln(t.out, "  4. Choose a cache disk (optional)")
	fmt.Fprintln(t.out, "  5. Review and create the pool")
	fmt.Fprintln(t.out)
}

func (t *tui) header(s wizard.Step, title string) {
	color.Cyan("\nStep %d of 5: %s", s, title)
}

func (t *tui) detect(ctx context.Context) error {
	t.header(wizard.StepDetect, "Detect disks")
	list, err := t.a.source.ListDisks(ctx)
	if err != nil {
		color.Red("✗ Disk detection failed: %v", err)
		return t.choose("What next?", []string{optRedetect, optQuit}, func(string) error { return nil })
	}
	t.a.wiz.SetDisks(ctx, list)
	if len(list) == 0 {
		color.Yellow("No disks available for a pool.")
		return t.choose("What next?", []string{optRedetect, optQuit}, func(string) error { return nil })
	}
	for _, d := range list {
		fmt.Fprintln(t.out, "  "+diskLabel(d))
	}
	return t.choose("Found "+humanize.Comma(int64(len(list)))+" disks.", []string{optContinue, optRedetect, optQuit}, func(c string) error {
		if c == optContinue {
			return t.a.wiz.Next(ctx)
		}
		return nil
	})
}

func (t *tui) data(ctx context.Context) error {
	t.header(wizard.StepData, "Data disks")
	v := t.a.wiz.View()
	var options, defaults []string
	byLabel := map[string]string{}
	for _, c := range v.Candidates {
		l := diskLabel(c.Disk)
		options = append(options, l)
		byLabel[l] = c.ID
		if c.InData {
			defaults = append(defaults, l)
		}
	}
	var picked []string
	prompt := &survey.MultiSelect{
		Message: "Select the disks that will hold your data:",
		Options: options,
		Default: defaults,
		Help:    "Every selected disk is formatted. Capacity is the sum of the data disks.",
	}
	if err := survey.AskOne(prompt, &picked); err != nil {
		return err
	}
	want := map[string]bool{}
	for _, l := range picked {
		want[byLabel[l]] = true
	}
	for _, c := range v.Candidates {
		if want[c.ID] != c.InData {
			if err := t.a.wiz.ToggleData(ctx, c.ID); err != nil {
				return err
			}
		}
	}
	return t.choose("Data disks chosen.", []string{optContinue, optBack}, func(c string) error {
		if c == optBack {
			return t.a.wiz.Back(ctx)
		}
		return t.a.wiz.Next(ctx)
	})
}

func (t *tui) parity(ctx context.Context) error {
	t.header(wizard.StepParity, "Parity disk")
	v := t.a.wiz.View()
	options, ids := roleOptions(v.Candidates, wizard.RoleParity)
	if len(ids) == 0 {
		color.Yellow("No disk is large enough for parity; it must be at least as large as the largest data disk.")
	}
	options = append(options, optNoParity, optBack)
	return t.choose("Select a parity disk:", options, func(c string) error {
		switch c {
		case optNoParity:
			return t.a.wiz.SkipParity(ctx)
		case optBack:
			return t.a.wiz.Back(ctx)
		}
		if err := t.a.wiz.SelectParity(ctx, ids[c]); err != nil {
			return err
		}
		return t.a.wiz.Next(ctx)
	})
}

func (t *tui) cache(ctx context.Context) error {
	t.header(wizard.StepCache, "Cache disk")
	v := t.a.wiz.View()
	options, ids := roleOptions(v.Candidates, wizard.RoleCache)
	if len(ids) == 0 {
		color.Yellow("No free SSD or NVMe disk is available for caching.")
	}
	options = append(options, optNoCache, optBack)
	return t.choose("Select a cache disk:", options, func(c string) error {
		switch c {
		case optNoCache:
			return t.a.wiz.SkipCache(ctx)
		case optBack:
			return t.a.wiz.Back(ctx)
		}
		if err := t.a.wiz.SelectCache(ctx, ids[c]); err != nil {
			return err
		}
		return t.a.wiz.Next(ctx)
	})
}

func (t *tui) summary(ctx context.Context) error {
	t.header(wizard.StepSummary, "Review")
	for _, ln := range summaryLines(t.a.wiz.View()) {
		fmt.Fprintln(t.out, "  "+ln)
	}
	return t.choose("Ready to create the pool?", []string{optCreate, optBack, optQuit}, func(c string) error {
		switch c {
		case optBack:
			return t.a.wiz.Back(ctx)
		case optQuit:
			return errQuit
		}
		if !t.confirm() {
			return nil
		}
		return t.provision(ctx)
	})
}

func (t *tui) confirm() bool {
	color.Red("\n⚠️  WARNING: every selected disk will be FORMATTED and all data on it lost.")
	typed := ""
	prompt := &survey.Input{Message: "Type '" + confirmWord + "' to confirm:"}
	if err := survey.AskOne(prompt, &typed); err != nil {
		return false
	}
	return strings.TrimSpace(typed) == confirmWord
}

// provision runs the orchestrator and mirrors its task list on a progress
// bar until the run ends.
func (t *tui) provision(ctx context.Context) error {
	events, cancel := t.a.wiz.Subscribe(64)
	defer cancel()

	bar := progressbar.Default(progressMax, "Creating storage pool")
	done := make(chan error, 1)
	go func() {
		_, err := t.a.orch.CreateStoragePool(ctx)
		done <- err
	}()
	for {
		select {
		case ev := <-events:
			if len(ev.View.Tasks) > 0 {
				desc, pct := taskProgress(ev.View.Tasks)
				bar.Describe(desc)
				_ = bar.Set(pct)
			}
		case err := <-done:
			_ = bar.Finish()
			fmt.Fprintln(t.out)
			for _, tk := range t.a.wiz.View().Tasks {
				fmt.Fprintln(t.out, "  "+taskLine(tk))
			}
			if t.recoverable(err) {
				return nil
			}
			// run failures are shown by the provisioning step
			return ctx.Err()
		}
	}
}

func (t *tui) failed(ctx context.Context) error {
	v := t.a.wiz.View()
	color.Red("\n✗ Pool creation failed: %s", v.Error)
	return t.choose("What next?", []string{optRetry, optBack, optQuit}, func(c string) error {
		switch c {
		case optRetry:
			return t.provision(ctx)
		case optBack:
			return t.a.wiz.Back(ctx)
		}
		return errQuit
	})
}

func (t *tui) done(ctx context.Context) error {
	v := t.a.wiz.View()
	color.Green("\n✓ Storage pool ready at %s", v.PoolMount)
	if u, err := disks.MountUsage(ctx, v.PoolMount); err == nil {
		fmt.Fprintf(t.out, "  Capacity: %s free of %s\n", humanize.IBytes(u.Free), humanize.IBytes(u.Total))
	}
	route, err := t.a.wiz.Finish(ctx, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "Continue in the dashboard: %s\n", route)
	return nil
}

func (t *tui) choose(msg string, options []string, then func(string) error) error {
	var c string
	if err := survey.AskOne(&survey.Select{Message: msg, Options: options}, &c); err != nil {
		return err
	}
	if c == optQuit {
		return errQuit
	}
	return then(c)
}

func diskLabel(d wizard.Disk) string {
	s := fmt.Sprintf("%-8s %-22s %8s  %-4s", d.ID, d.Model, d.Size, d.Type)
	if d.Temp != nil {
		s += fmt.Sprintf("  %.0f°C", *d.Temp)
	}
	return strings.TrimRight(s, " ")
}

// roleOptions lists the eligible disks for a role and maps each label back
// to its id.
func roleOptions(cands []wizard.Candidate, role wizard.Role) ([]string, map[string]string) {
	var options []string
	ids := map[string]string{}
	for _, c := range cands {
		ok := c.ParityEligible
		if role == wizard.RoleCache {
			ok = c.CacheEligible
		}
		if !ok {
			continue
		}
		l := diskLabel(c.Disk)
		options = append(options, l)
		ids[l] = c.ID
	}
	return options, ids
}

func summaryLines(v wizard.View) []string {
	size := map[string]wizard.Disk{}
	for _, d := range v.Disks {
		size[d.ID] = d
	}
	var total uint64
	var lines []string
	for _, id := range v.DataDisks {
		d := size[id]
		total += d.Bytes()
		lines = append(lines, fmt.Sprintf("data    %s (%s)", id, d.Size))
	}
	if v.ParityDisk != nil {
		lines = append(lines, fmt.Sprintf("parity  %s (%s)", *v.ParityDisk, size[*v.ParityDisk].Size))
	} else {
		lines = append(lines, "parity  none, the pool is unprotected")
	}
	if v.CacheDisk != nil {
		lines = append(lines, fmt.Sprintf("cache   %s (%s)", *v.CacheDisk, size[*v.CacheDisk].Size))
	} else {
		lines = append(lines, "cache   none")
	}
	lines = append(lines, "usable  "+humanize.IBytes(total))
	return lines
}

// taskProgress describes the active task and the share of finished ones.
func taskProgress(tasks []wizard.Task) (string, int) {
	desc := ""
	finished := 0
	for _, tk := range tasks {
		switch tk.Status {
		case wizard.TaskDone:
			finished++
		case wizard.TaskRunning, wizard.TaskError:
			if desc == "" {
				desc = tk.Label
				if tk.Message != "" {
					desc += ": " + tk.Message
				}
			}
		}
	}
	if desc == "" && finished == len(tasks) {
		desc = "Done"
	}
	return desc, finished * progressMax / len(tasks)
}

func taskLine(tk wizard.Task) string {
	mark := "·"
	switch tk.Status {
	case wizard.TaskDone:
		mark = color.GreenString("✓")
	case wizard.TaskError:
		mark = color.RedString("✗")
	case wizard.TaskRunning:
		mark = color.YellowString("…")
	}
	s := mark + " " + tk.Label
	if tk.Message != "" {
		s += " (" + tk.Message + ")"
	}
	return s
}
