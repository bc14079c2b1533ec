package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridoc/kyc-engine/internal/model"
	"github.com/veridoc/kyc-engine/internal/route"
	"github.com/veridoc/kyc-engine/internal/rules"
	"github.com/veridoc/kyc-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assessment HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/api", func(r chi.Router) {
			r.Post("/assess", env.handleAssess)
			r.Get("/submissions", env.handleListSubmissions)
			r.Get("/submissions/{id}", env.handleGetSubmission)
			r.Post("/submissions/{id}/decision", env.handleDecision)
			r.Get("/rules", env.handleListRules)
			r.Get("/rules/{country}", env.handleGetRules)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func (env *engineEnv) handleAssess(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sub.CountryCode == "" {
		writeError(w, http.StatusBadRequest, "country_code is required")
		return
	}

	result, err := env.Engine.Assess(r.Context(), &sub)
	if err != nil {
		if eris.Is(err, rules.ErrUnsupportedCountry) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		zap.L().Error("assess failed", zap.String("submission_id", sub.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "assessment failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (env *engineEnv) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	filter := store.SubmissionFilter{
		CountryCode: r.URL.Query().Get("country"),
		Outcome:     r.URL.Query().Get("outcome"),
	}
	subs, err := env.Store.ListSubmissions(r.Context(), filter)
	if err != nil {
		zap.L().Error("list submissions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

func (env *engineEnv) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	sub, err := env.Store.GetSubmission(ctx, id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		zap.L().Error("get submission failed", zap.String("submission_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	assessments, err := env.Store.ListAssessments(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	audit, err := env.Store.ListAudit(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	out := map[string]any{
		"submission":  sub,
		"assessments": assessments,
		"audit":       audit,
	}
	if d, err := env.Store.GetDisposition(ctx, id); err == nil {
		out["disposition"] = d
	}
	writeJSON(w, http.StatusOK, out)
}

func (env *engineEnv) handleDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Decision   string `json:"decision"`
		ReviewerID string `json:"reviewer_id"`
		Notes      string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReviewerID == "" {
		writeError(w, http.StatusBadRequest, "reviewer_id is required")
		return
	}

	disposition, err := env.Engine.Decide(r.Context(), model.ReviewerDecision{
		SubmissionID: id,
		Decision:     req.Decision,
		ReviewerID:   req.ReviewerID,
		Notes:        req.Notes,
	})
	if err != nil {
		switch {
		case eris.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "submission not found")
		case eris.Is(err, route.ErrTerminal), eris.Is(err, store.ErrTerminalDisposition):
			writeError(w, http.StatusConflict, "submission is already closed")
		case eris.Is(err, route.ErrUnknownDecision):
			writeError(w, http.StatusBadRequest, "decision must be approve or reject")
		default:
			zap.L().Error("decision failed", zap.String("submission_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "decision failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, disposition)
}

func (env *engineEnv) handleListRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"countries": env.Catalog.SupportedCountries()})
}

func (env *engineEnv) handleGetRules(w http.ResponseWriter, r *http.Request) {
	rs, err := env.Catalog.ForCountry(chi.URLParam(r, "country"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unsupported country")
		return
	}
	writeJSON(w, http.StatusOK, rs)
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
	rootCmd.AddCommand(serveCmd)
}
