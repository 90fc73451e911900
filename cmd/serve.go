package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/monitoring"
	"github.com/sells-group/supervisor-finder/internal/pipeline"
	"github.com/sells-group/supervisor-finder/internal/store"
)

var (
	servePort        int
	serveProfilePath string
)

// api serves stored supervisors, selections and run statistics.
type api struct {
	repo      store.Repository
	selector  *pipeline.Selector
	profile   model.ResearchProfile
	collector *monitoring.Collector
	alerter   *monitoring.Alerter
	lookback  int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored supervisors, selections and run statistics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		profile, err := loadProfile(serveProfilePath)
		if err != nil {
			return err
		}

		repo, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer repo.Close() //nolint:errcheck

		a := newAPI(repo, *profile)
		if cfg.Monitoring.Enabled {
			go monitoring.NewChecker(a.collector, a.alerter, cfg.Monitoring).Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           a.routes(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newAPI(repo store.Repository, profile model.ResearchProfile) *api {
	return &api{
		repo:      repo,
		selector:  newSelector(repo, false),
		profile:   profile,
		collector: monitoring.NewCollector(repo),
		alerter:   monitoring.NewAlerter(cfg.Monitoring),
		lookback:  cfg.Monitoring.LookbackWindowHours,
	}
}

func (a *api) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Get("/supervisors", a.listSupervisors)
	r.Get("/supervisors/{id}", a.getSupervisor)
	r.Get("/selection", a.selection)
	r.Get("/runs", a.listRuns)
	r.Get("/runs/{id}", a.getRun)
	r.Get("/monitoring", a.recallHealth)
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listSupervisors(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := a.repo.Query(r.Context(), f)
	if err != nil {
		a.internalError(w, "query supervisors", err)
		return
	}
	if recs == nil {
		recs = []model.CanonicalRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *api) getSupervisor(w http.ResponseWriter, r *http.Request) {
	rec, err := a.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "supervisor not found")
		return
	}
	if err != nil {
		a.internalError(w, "get supervisor", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) selection(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := a.selector.Options()
	q := r.URL.Query()
	if opts.Target, err = intParam(q.Get("target"), opts.Target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid target")
		return
	}
	if opts.MaxPerInstitution, err = intParam(q.Get("per_institution"), opts.MaxPerInstitution); err != nil {
		writeError(w, http.StatusBadRequest, "invalid per_institution")
		return
	}

	sel, err := a.selector.SelectWith(r.Context(), a.profile, f, opts)
	if err != nil {
		a.internalError(w, "select", err)
		return
	}
	if sel == nil {
		sel = []model.CanonicalRecord{}
	}
	writeJSON(w, http.StatusOK, sel)
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := a.repo.ListRuns(r.Context(), store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		a.internalError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		a.internalError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// recallHealth reports the recall snapshot and the alerts it would raise,
// without sending them.
func (a *api) recallHealth(w http.ResponseWriter, r *http.Request) {
	lookback, err := intParam(r.URL.Query().Get("hours"), a.lookback)
	if err != nil || lookback <= 0 {
		lookback = 24
	}
	snap, err := a.collector.Collect(r.Context(), lookback)
	if err != nil {
		a.internalError(w, "collect metrics", err)
		return
	}
	alerts := a.alerter.Evaluate(snap)
	if alerts == nil {
		alerts = []monitoring.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap, "alerts": alerts})
}

func (a *api) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// filterFromQuery reads region, country and keyword (comma-separated or
// repeated), min_rank, max_rank and limit.
func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Regions:   listParam(q["region"]),
		Countries: listParam(q["country"]),
		Keywords:  listParam(q["keyword"]),
	}
	var err error
	if f.MinRank, err = intParam(q.Get("min_rank"), 0); err != nil {
		return f, eris.New("invalid min_rank")
	}
	if f.MaxRank, err = intParam(q.Get("max_rank"), 0); err != nil {
		return f, eris.New("invalid max_rank")
	}
	if f.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		return f, eris.New("invalid limit")
	}
	return f, nil
}

func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def, eris.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveProfilePath, "profile", "", "research profile YAML file used for selection (default from config)")
	rootCmd.AddCommand(serveCmd)
}
