package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"nithronos/poolwizard/internal/config"
	"nithronos/poolwizard/internal/disks"
	"nithronos/poolwizard/internal/kvstore"
	"nithronos/poolwizard/internal/provision"
	"nithronos/poolwizard/internal/wizard"
	"nithronos/poolwizard/pkg/nasclient"
	"nithronos/poolwizard/pkg/shell"
)

// newLogger writes to a rotating file when path is set and to stderr
// otherwise. The returned closer is never nil.
func newLogger(level zerolog.Level, path string) (zerolog.Logger, io.Closer) {
	zerolog.TimeFieldFormat = time.RFC3339
	if path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		return zerolog.New(lj).Level(level).With().Timestamp().Logger(), lj
	}
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger(), io.NopCloser(nil)
}

// app wires the wizard, its persistence and the storage API client from
// configuration. Both front ends share it.
type app struct {
	cfg        config.Config
	logger     zerolog.Logger
	store      kvstore.Store
	closeStore func() error
	wiz        *wizard.Wizard
	api        *nasclient.Client
	source     disks.Source
	orch       *provision.Orchestrator
}

func newApp(cfg config.Config, logger zerolog.Logger) (*app, error) {
	store, closeStore, err := kvstore.Open(cfg.StateBackend, cfg.StateDir)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store, closeStore: closeStore}

	a.wiz = wizard.New(wizard.NewPersistence(store, logger), wizard.WithLogger(logger))

	opts := []nasclient.Option{nasclient.WithTimeout(cfg.BackendTimeout)}
	if cfg.BackendSocket != "" {
		opts = append(opts, nasclient.WithSocket(cfg.BackendSocket))
	}
	a.api = nasclient.New(cfg.BackendURL, cfg.Token, opts...)

	switch cfg.DiskSource {
	case disks.SourceLocal:
		a.source = disks.NewLocal(shell.Exec{Logger: logger.With().Str("component", "shell").Logger()}, disks.WithSMART(), disks.WithLogger(logger))
	case disks.SourceBackend, "":
		a.source = disks.NewRemote(a.api)
	default:
		_ = closeStore()
		return nil, fmt.Errorf("unknown disk source %q", cfg.DiskSource)
	}

	po := provision.DefaultOptions()
	po.Pacing = cfg.TaskPacing
	po.SyncInterval = cfg.SyncInterval
	po.SyncMaxAttempts = cfg.SyncMaxAttempts
	po.WaitForSync = cfg.WaitForSync
	po.Store = store
	po.Logger = logger
	if cfg.StateBackend != kvstore.BackendMemory {
		po.Runs = provision.NewRunStore(filepath.Join(cfg.StateDir, "runs"))
	}
	a.orch = provision.New(a.wiz, a.api, po)
	return a, nil
}

func (a *app) Close() error { return a.closeStore() }
