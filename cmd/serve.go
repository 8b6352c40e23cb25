package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves lists, templates, settings and lead review, and runs generation in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		runner := pipeline.NewRunner(ctx, env.Orchestrator)
		a := newAPI(env.Store, runner, env.Exporter)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(a, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// Let in-flight batches persist before the deferred store close.
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		if err := runner.Shutdown(drainCtx); err != nil {
			zap.L().Error("background runs did not finish", zap.Error(err))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// listExporter pushes a list's generated leads to a campaign.
type listExporter interface {
	ExportList(ctx context.Context, list string, ref pipeline.CampaignRef) (*model.ExportReport, error)
}

// api holds the dependencies of the HTTP handlers.
type api struct {
	store    store.Store
	runner   *pipeline.Runner
	exporter listExporter
	validate *validator.Validate
}

func newAPI(st store.Store, runner *pipeline.Runner, exporter listExporter) *api {
	return &api{store: st, runner: runner, exporter: exporter, validate: validator.New()}
}

func newRouter(a *api, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Get("/models", a.listModels)

	r.Route("/lists", func(r chi.Router) {
		r.Get("/", a.listLists)
		r.Delete("/{list}", a.deleteList)
		r.Post("/{list}/generate", a.startGenerate)
		r.Get("/{list}/generate", a.generateStatus)
		r.Delete("/{list}/generate", a.cancelGenerate)
		r.Post("/{list}/export", a.exportList)
	})

	r.Get("/settings", a.getSettings)
	r.Put("/settings", a.putSettings)

	r.Get("/templates", a.listTemplates)
	r.Post("/templates", a.createTemplate)
	r.Delete("/templates/{id}", a.deleteTemplate)

	r.Patch("/leads/{id}", a.editLead)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into dst and validates it.
func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// storeError maps store sentinels onto HTTP statuses.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrTransitionRejected):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("http: store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default": model.DefaultModelID,
		"models":  model.Catalog,
	})
}

func (a *api) listLists(w http.ResponseWriter, r *http.Request) {
	lists, err := a.store.ListSummaries(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	if lists == nil {
		lists = []model.ListSummary{}
	}
	writeJSON(w, http.StatusOK, lists)
}

func (a *api) deleteList(w http.ResponseWriter, r *http.Request) {
	list := chi.URLParam(r, "list")
	if s, ok := a.runner.Status(list); ok && s.State == pipeline.RunRunning {
		writeError(w, http.StatusConflict, "list has a generation run in progress")
		return
	}
	n, err := a.store.DeleteList(r.Context(), list)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": list, "deleted": n})
}

type generateRequest struct {
	Prompt  string `json:"prompt"`
	ModelID string `json:"model_id" validate:"omitempty,max=200"`
}

func (a *api) startGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}

	rc, err := resolveRunConfig(r.Context(), a.store, chi.URLParam(r, "list"), req.Prompt, req.ModelID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := a.runner.Start(rc)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		writeJSON(w, http.StatusConflict, status)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (a *api) generateStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := a.runner.Status(chi.URLParam(r, "list"))
	if !ok {
		writeError(w, http.StatusNotFound, "no run for this list")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) cancelGenerate(w http.ResponseWriter, r *http.Request) {
	list := chi.URLParam(r, "list")
	if !a.runner.Cancel(list) {
		writeError(w, http.StatusNotFound, "no running run for this list")
		return
	}
	status, _ := a.runner.Status(list)
	writeJSON(w, http.StatusAccepted, status)
}

type exportRequest struct {
	CampaignID   string `json:"campaign_id" validate:"omitempty,max=100"`
	CampaignName string `json:"campaign_name" validate:"omitempty,max=200"`
}

func (a *api) exportList(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}

	report, err := a.exporter.ExportList(r.Context(), chi.URLParam(r, "list"), pipeline.CampaignRef{
		ID:   req.CampaignID,
		Name: req.CampaignName,
	})
	if err != nil {
		zap.L().Error("http: export failed", zap.String("list", chi.URLParam(r, "list")), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) getSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.store.GetSettings(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type settingsRequest struct {
	Prompt  *string `json:"prompt"`
	ModelID *string `json:"model_id"`
}

func (a *api) putSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Prompt == nil && req.ModelID == nil {
		writeError(w, http.StatusBadRequest, "prompt or model_id is required")
		return
	}

	s, err := updateSettings(r.Context(), a.store, req.Prompt, req.ModelID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := a.store.ListTemplates(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	if templates == nil {
		templates = []model.PromptTemplate{}
	}
	writeJSON(w, http.StatusOK, templates)
}

type templateRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Content string `json:"content" validate:"required"`
}

func (a *api) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !a.decode(w, r, &req) {
		return
	}
	t, err := a.store.CreateTemplate(r.Context(), req.Name, req.Content)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *api) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type icebreakerRequest struct {
	Icebreaker string `json:"icebreaker" validate:"required"`
}

func (a *api) editLead(w http.ResponseWriter, r *http.Request) {
	var req icebreakerRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Icebreaker) == "" {
		writeError(w, http.StatusBadRequest, "icebreaker must not be blank")
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.store.UpdateIcebreaker(r.Context(), id, req.Icebreaker); err != nil {
		storeError(w, err)
		return
	}
	lead, err := a.store.GetLead(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}
