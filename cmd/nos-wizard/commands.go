package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nithronos/poolwizard/internal/disks"
	"nithronos/poolwizard/internal/provision"
	"nithronos/poolwizard/internal/server"
	"nithronos/poolwizard/internal/wizard"
)

func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg := loadConfig()
	logger, closer := newLogger(cfg.LogLevel, logFilePath())
	defer closer.Close()
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the interactive pool wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if a.wiz.Restore(ctx) {
					color.Cyan("Resuming at step %d (%s)", a.wiz.Step(), a.wiz.Step())
				}
				t := newTUI(a, os.Stdout)
				err := t.Run(ctx)
				if errors.Is(err, terminal.InterruptErr) || errors.Is(err, context.Canceled) {
					fmt.Println("\nWizard paused. Run `nos-wizard run` again to continue.")
					return nil
				}
				return err
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the wizard API for the web dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if bind != "" {
					a.cfg.Bind = bind
				}
				a.wiz.Restore(ctx)
				srv := server.New(server.Options{
					Config:       a.cfg,
					Wizard:       a.wiz,
					Orchestrator: a.orch,
					Disks:        a.source,
					Store:        a.store,
					Sessions:     server.NewSessionCodec(a.cfg.SessionHashKey, a.cfg.SessionBlockKey),
					Logger:       a.logger,
					Version:      Version,
				})
				if err := srv.RefreshDisks(ctx); err != nil {
					a.logger.Warn().Err(err).Msg("initial disk detection failed")
				}
				if a.cfg.DiskPoll != "" {
					if err := srv.StartDiskPoll(a.cfg.DiskPoll); err != nil {
						return err
					}
				}
				hs := &http.Server{
					Addr:              a.cfg.Bind,
					Handler:           srv.Handler(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				errc := make(chan error, 1)
				go func() {
					a.logger.Info().Str("addr", a.cfg.Bind).Msg("nos-wizard listening")
					errc <- hs.ListenAndServe()
				}()
				select {
				case err := <-errc:
					srv.Close()
					return err
				case <-ctx.Done():
				}
				shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = hs.Shutdown(shutdown)
				srv.Close()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address (overrides config)")
	return cmd
}

type statusReport struct {
	Wizard  *wizard.Snapshot         `json:"wizard"`
	Storage *provision.StorageConfig `json:"storage"`
	Usage   *disks.Usage             `json:"usage,omitempty"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show saved wizard progress and the configured pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				var rep statusReport
				var err error
				rep.Wizard, err = wizard.NewPersistence(a.store, a.logger).Load(ctx)
				if err != nil {
					return err
				}
				rep.Storage, err = provision.LoadStorageConfig(ctx, a.store)
				if err != nil {
					return err
				}
				if rep.Storage != nil && rep.Storage.PoolMount != "" {
					rep.Usage, _ = disks.MountUsage(ctx, rep.Storage.PoolMount)
				}
				if outputJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(rep)
				}
				printStatus(rep)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	return cmd
}

func printStatus(rep statusReport) {
	fmt.Printf("Pool Wizard\n")
	fmt.Printf("===========\n")
	if rep.Wizard == nil {
		fmt.Printf("Progress:    not started\n")
	} else {
		fmt.Printf("Progress:    step %d (%s)\n", rep.Wizard.CurrentStep, wizard.Step(rep.Wizard.CurrentStep))
		fmt.Printf("Data:        %v\n", rep.Wizard.SelectedDataDisks)
		fmt.Printf("Parity:      %s\n", orNone(rep.Wizard.SelectedParityDisk))
		fmt.Printf("Cache:       %s\n", orNone(rep.Wizard.SelectedCacheDisk))
	}
	fmt.Printf("\nStorage Pool\n")
	fmt.Printf("============\n")
	if rep.Storage == nil {
		color.Yellow("No pool configured")
		return
	}
	fmt.Printf("Mount:       %s\n", rep.Storage.PoolMount)
	fmt.Printf("Data:        %v\n", rep.Storage.DataDisks)
	fmt.Printf("Parity:      %s\n", orNone(rep.Storage.ParityDisk))
	fmt.Printf("Cache:       %s\n", orNone(rep.Storage.CacheDisk))
	fmt.Printf("Configured:  %s\n", humanize.Time(rep.Storage.ConfiguredAt))
	if rep.Usage != nil {
		fmt.Printf("Usage:       %s / %s (%.1f%%)\n",
			humanize.IBytes(rep.Usage.Used),
			humanize.IBytes(rep.Usage.Total),
			rep.Usage.UsedPercent)
	}
}

func orNone(p *string) string {
	if p == nil || *p == "" {
		return "none"
	}
	return *p
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard saved wizard progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := wizard.NewPersistence(a.store, zerolog.Nop()).Clear(ctx); err != nil {
					return err
				}
				color.Green("✓ Wizard progress cleared")
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nos-wizard %s (commit: %s)\n", Version, GitCommit)
		},
	}
}
