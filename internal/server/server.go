// Package server exposes the pool wizard over HTTP for the web dashboard:
// JSON actions, live state over SSE and WebSocket, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"nithronos/poolwizard/internal/config"
	"nithronos/poolwizard/internal/disks"
	"nithronos/poolwizard/internal/kvstore"
	"nithronos/poolwizard/internal/provision"
	"nithronos/poolwizard/internal/wizard"
	"nithronos/poolwizard/pkg/httpx"
)

type Options struct {
	Config       config.Config
	Wizard       *wizard.Wizard
	Orchestrator *provision.Orchestrator
	Disks        disks.Source
	Store        kvstore.Store
	Sessions     *SessionCodec
	Logger       zerolog.Logger
	Version      string
}

type Server struct {
	cfg      config.Config
	wiz      *wizard.Wizard
	orch     *provision.Orchestrator
	source   disks.Source
	store    kvstore.Store
	sessions *SessionCodec
	logger   zerolog.Logger
	version  string

	base     context.Context
	stop     context.CancelFunc
	runs     sync.WaitGroup
	cron     *cron.Cron
	upgrader websocket.Upgrader
}

func New(o Options) *Server {
	base, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:      o.Config,
		wiz:      o.Wizard,
		orch:     o.Orchestrator,
		source:   o.Disks,
		store:    o.Store,
		sessions: o.Sessions,
		logger:   o.Logger.With().Str("component", "server").Logger(),
		version:  o.Version,
		base:     base,
		stop:     stop,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) allowedOrigins() []string {
	if s.cfg.CORSOrigin != "" {
		return []string{s.cfg.CORSOrigin}
	}
	return []string{"http://localhost:5173", "http://127.0.0.1:5173"}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware(s.logger))

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.version})
	})
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/wizard", func(r chi.Router) {
		r.Get("/", s.handleView)
		r.Post("/detect", s.handleDetect)
		r.Post("/data/{id}", s.handleToggleData)
		r.Put("/parity", s.handleSelect(s.wiz.SelectParity))
		r.Put("/cache", s.handleSelect(s.wiz.SelectCache))
		r.Post("/next", s.handleNav(s.wiz.Next))
		r.Post("/back", s.handleNav(s.wiz.Back))
		r.Post("/skip-parity", s.handleNav(s.wiz.SkipParity))
		r.Post("/skip-cache", s.handleNav(s.wiz.SkipCache))
		r.Post("/provision", s.handleProvision)
		r.Post("/finish", s.handleFinish)
		r.Post("/reset", s.handleNav(s.wiz.Reset))
		r.Get("/pool", s.handlePool)
		r.Get("/runs/{id}", s.handleRun)
		r.Get("/runs/{id}/log", s.handleRunLog)
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWS)
	})
	return r
}

// RefreshDisks asks the disk source for the current list. Once provisioning
// has started the list is left alone.
func (s *Server) RefreshDisks(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("no disk source configured")
	}
	if s.wiz.Step() >= wizard.StepProvisioning {
		return nil
	}
	list, err := s.source.ListDisks(ctx)
	if err != nil {
		return err
	}
	s.wiz.SetDisks(ctx, list)
	return nil
}

// StartDiskPoll refreshes disks on a cron schedule such as "@every 10s".
func (s *Server) StartDiskPoll(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.base, 30*time.Second)
		defer cancel()
		if err := s.RefreshDisks(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("disk refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("disk poll schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Close stops the disk poll and waits for an in-flight provisioning run.
func (s *Server) Close() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.runs.Wait()
	s.stop()
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.wiz.View())
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if err := s.RefreshDisks(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("disk detection failed")
		httpx.WriteTypedError(w, http.StatusBadGateway, "disks.unavailable", err.Error(), 0)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.wiz.View())
}

func (s *Server) handleToggleData(w http.ResponseWriter, r *http.Request) {
	if err := s.wiz.ToggleData(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.wiz.View())
}

func (s *Server) handleSelect(sel func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID *string `json:"id"`
		}
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid body")
			return
		}
		id := ""
		if body.ID != nil {
			id = *body.ID
		}
		if err := sel(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, s.wiz.View())
	}
}

func (s *Server) handleNav(move func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := move(r.Context()); err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, s.wiz.View())
	}
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.Prepare(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := s.orch.Execute(s.base, run); err != nil {
			s.logger.Warn().Err(err).Str("run", run.ID).Msg("provisioning run failed")
		}
	}()
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"runId": run.ID})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	_, signedIn := s.sessions.DecodeFromRequest(r)
	route, err := s.wiz.Finish(r.Context(), signedIn)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"route": route})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	sc, err := provision.LoadStorageConfig(r.Context(), s.store)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sc == nil {
		httpx.WriteTypedError(w, http.StatusNotFound, "pool.not_configured", "no storage pool configured", 0)
		return
	}
	out := map[string]any{"config": sc}
	if sc.PoolMount != "" {
		if u, err := disks.MountUsage(r.Context(), sc.PoolMount); err == nil {
			out["usage"] = u
		} else {
			s.logger.Debug().Err(err).Str("mount", sc.PoolMount).Msg("pool usage unavailable")
		}
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.Runs().Load(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	cursor, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
	max, _ := strconv.Atoi(r.URL.Query().Get("max"))
	if cursor < 0 {
		cursor = 0
	}
	if max <= 0 || max > 1000 {
		max = 200
	}
	lines, next := s.orch.Runs().LogTail(chi.URLParam(r, "id"), cursor, max)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"lines": lines, "nextCursor": next})
}
