package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/clinical-abstraction/internal/extraction"
	"github.com/sells-group/clinical-abstraction/internal/ledger"
	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/monitoring"
	"github.com/sells-group/clinical-abstraction/internal/report"
	"github.com/sells-group/clinical-abstraction/internal/store"
)

var servePort int

// maxBundleBytes caps the request body of POST /v1/cases.
const maxBundleBytes = 8 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the adjudication HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(env.Store)
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the HTTP API over a wired environment.
func newRouter(env *appEnv, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/rules", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, env.Catalog.All())
		})
		r.Get("/metrics", handleMetrics(env))

		r.Route("/cases", func(r chi.Router) {
			r.Post("/", handleCreateCase(env))
			r.Get("/", handleListCases(env))

			r.Route("/{caseID}", func(r chi.Router) {
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					result, ok := getCase(w, r, env)
					if ok {
						writeJSON(w, http.StatusOK, result)
					}
				})
				r.Get("/form", func(w http.ResponseWriter, r *http.Request) {
					result, ok := getCase(w, r, env)
					if ok {
						writeJSON(w, http.StatusOK, report.BuildForm(result))
					}
				})
				r.Get("/trail", handleTrail(env))
			})
		})
	})

	return r
}

func handleCreateCase(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundle, err := extraction.ReadBundle(http.MaxBytesReader(w, r.Body, maxBundleBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		out, err := env.Processor.Process(r.Context(), *bundle)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// defaultLookbackHours applies when neither the query nor config sets one.
const defaultLookbackHours = 24

func handleMetrics(env *appEnv) http.HandlerFunc {
	collector := monitoring.NewCollector(env.Store)
	return func(w http.ResponseWriter, r *http.Request) {
		lookback := cfg.Monitoring.LookbackWindowHours
		if lookback <= 0 {
			lookback = defaultLookbackHours
		}
		if raw := r.URL.Query().Get("lookback_hours"); raw != "" {
			n, err := intParam(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid lookback_hours")
				return
			}
			lookback = n
		}

		snap, err := collector.Collect(r.Context(), lookback)
		if err != nil {
			zap.L().Error("collect metrics", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleListCases(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.CaseFilter{
			PatientID: q.Get("patient_id"),
			Status:    model.CaseStatus(q.Get("status")),
		}
		var err error
		if filter.Limit, err = intParam(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if filter.Offset, err = intParam(q.Get("offset")); err != nil {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}

		cases, err := env.Store.ListCases(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if cases == nil {
			cases = []model.CaseResult{}
		}
		writeJSON(w, http.StatusOK, cases)
	}
}

// trailResponse is a case's audit trail with the result of re-deriving its
// hash chain.
type trailResponse struct {
	CaseID      string             `json:"case_id"`
	Entries     []model.AuditEntry `json:"entries"`
	Verified    bool               `json:"verified"`
	VerifyError string             `json:"verify_error,omitempty"`
}

func handleTrail(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := getCase(w, r, env); !ok {
			return
		}
		caseID := chi.URLParam(r, "caseID")
		entries, err := env.Ledger.Trail(r.Context(), caseID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := trailResponse{CaseID: caseID, Entries: entries, Verified: true}
		if err := ledger.Verify(entries); err != nil {
			resp.Verified = false
			resp.VerifyError = err.Error()
			zap.L().Warn("trail verification failed", zap.String("case_id", caseID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// getCase loads the case named in the URL, writing the error response
// itself when it cannot.
func getCase(w http.ResponseWriter, r *http.Request, env *appEnv) (*model.CaseResult, bool) {
	result, err := env.Store.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return result, true
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", raw)
	}
	return n, nil
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case model.IsUnknownField(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrCaseAlreadyAudited):
		writeError(w, http.StatusConflict, "case already audited")
	case errors.Is(err, model.ErrCaseNotFound):
		writeError(w, http.StatusNotFound, "case not found")
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
