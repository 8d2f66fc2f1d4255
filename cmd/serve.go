package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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

	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/submissions", handleSubmit(env))
	r.Post("/uploads", handleUpload(env))
	r.Post("/uploads/{id}/review", handleUploadReview(env))
	r.Get("/workflows", handleListWorkflows(env))
	r.Get("/workflows/{applicantID}", handleGetWorkflow(env))
	r.Post("/workflows/{applicantID}/resume", handleResume(env))
	r.Get("/applicants/{applicantID}/audit", handleAudit(env))

	return r
}

// handleSubmit accepts a submission and runs the workflow asynchronously;
// the caller polls the workflow endpoint for progress.
func handleSubmit(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub model.Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if sub.GivenName == "" || sub.FamilyName == "" || sub.SchoolName == "" || sub.StateCode == "" {
			writeError(w, http.StatusBadRequest, "given_name, family_name, school_name, and state_code are required")
			return
		}

		go func() {
			result, err := env.Orchestrator.Evaluate(context.Background(), sub)
			if err != nil {
				zap.L().Error("async evaluation failed",
					zap.String("family_name", sub.FamilyName),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("async evaluation finished",
				zap.String("applicant_id", result.ApplicantID),
				zap.String("status", string(result.Status)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func handleUpload(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file field is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read upload")
			return
		}

		rec, err := env.Matcher.HandleUpload(r.Context(), header.Filename, string(data))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		if rec.Decision == model.DecisionMatchedExisting {
			state, err := env.Store.GetWorkflowState(r.Context(), rec.MatchedApplicantID)
			if err == nil && (state.Status == model.WorkflowStatusPaused || state.Status == model.WorkflowStatusComplete) {
				go func(applicantID string) {
					if _, err := env.Orchestrator.Resume(context.Background(), applicantID); err != nil {
						zap.L().Warn("resume after upload failed",
							zap.String("applicant_id", applicantID),
							zap.Error(err),
						)
					}
				}(rec.MatchedApplicantID)
			}
		}

		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleUploadReview(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var review model.UploadReview
		if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if review.ReviewerID == "" {
			writeError(w, http.StatusBadRequest, "reviewer_id is required")
			return
		}

		id := chi.URLParam(r, "id")
		if err := env.Matcher.Review(r.Context(), id, review); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "upload not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		rec, err := env.Store.GetUploadRecord(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleListWorkflows(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := env.Store.ListWorkflowStates(r.Context(), store.WorkflowFilter{
			Status: model.WorkflowStatus(r.URL.Query().Get("status")),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, states)
	}
}

func handleGetWorkflow(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applicantID := chi.URLParam(r, "applicantID")
		state, err := env.Store.GetWorkflowState(r.Context(), applicantID)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "workflow not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		results, err := env.Store.ListStageResults(r.Context(), applicantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":  state,
			"stages": results,
		})
	}
}

func handleResume(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := env.Orchestrator.Resume(r.Context(), chi.URLParam(r, "applicantID"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "workflow not found")
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleAudit(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := env.Audit.Query(r.Context(), chi.URLParam(r, "applicantID"), store.AuditFilter{
			Type: model.InteractionType(r.URL.Query().Get("type")),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
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
