package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/store"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		a := &api{env: e, runCtx: ctx}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: a.router(cfg.Server.AllowedOrigins),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// api serves the extraction HTTP surface. Jobs run asynchronously on
// runCtx, which outlives individual requests.
type api struct {
	env    *env
	runCtx context.Context
}

func (a *api) router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Tenant-ID"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(tenantMiddleware)
		r.Post("/jobs", a.submitJob)
		r.Get("/jobs", a.listJobs)
		r.Get("/jobs/{id}", a.jobStatus)
		r.Get("/jobs/{id}/events", a.jobEvents)
		r.Get("/jobs/{id}/result", a.jobResult)
		r.Post("/jobs/{id}/resume", a.resumeJob)
		r.Post("/jobs/{id}/cancel", a.cancelJob)
		r.Get("/products", a.listProducts)
	})
	return r
}

// tenantMiddleware scopes every API request to the X-Tenant-ID header.
func tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get("X-Tenant-ID")
		if tid == "" {
			writeError(w, http.StatusBadRequest, "X-Tenant-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.WithID(r.Context(), tid)))
	})
}

func (a *api) submitJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sources []model.SourceDescriptor `json:"sources"`
		Config  model.JobConfig          `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	j, err := a.env.Orchestrator.Submit(r.Context(), req.Sources, req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tid, _ := tenant.FromContext(r.Context())
	go func() {
		ctx := tenant.WithID(a.runCtx, tid)
		if err := a.env.Orchestrator.Run(ctx, j.ID); err != nil {
			zap.L().Error("job run failed", zap.String("job_id", j.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": j.ID})
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		State: model.JobState(r.URL.Query().Get("state")),
		Limit: queryInt(r, "limit", 50),
	}
	jobs, err := a.env.Store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *api) jobStatus(w http.ResponseWriter, r *http.Request) {
	j, err := a.env.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if j == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// jobEvents returns the progress stream after a sequence cursor. Clients
// poll with the last seen Seq to tail a running job.
func (a *api) jobEvents(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	events, err := a.env.Store.ListEvents(r.Context(), chi.URLParam(r, "id"), after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *api) jobResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := a.env.Store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if j == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	result, err := a.env.Orchestrator.Result(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		State model.JobState `json:"state"`
		*model.JobResult
	}{j.State, result})
}

func (a *api) resumeJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decisions []model.ReviewDecision `json:"decisions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.env.Orchestrator.Resume(r.Context(), chi.URLParam(r, "id"), req.Decisions); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (a *api) cancelJob(w http.ResponseWriter, r *http.Request) {
	if err := a.env.Orchestrator.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *api) listProducts(w http.ResponseWriter, r *http.Request) {
	filter := store.ProductFilter{
		Query: r.URL.Query().Get("query"),
		Limit: queryInt(r, "limit", 50),
	}
	products, err := a.env.Store.ListProducts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
