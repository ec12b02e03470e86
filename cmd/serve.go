package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fedprobe/internal/ferr"
	"github.com/sells-group/fedprobe/internal/investigation"
	"github.com/sells-group/fedprobe/internal/model"
	"github.com/sells-group/fedprobe/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the investigation API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildRouter(c.Manager, c.Collector),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the investigation API.
func buildRouter(m *investigation.Manager, collector *monitoring.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, collector.Snapshot())
	})

	r.Post("/investigations", func(w http.ResponseWriter, req *http.Request) {
		var intent model.Intent
		if err := json.NewDecoder(req.Body).Decode(&intent); err != nil {
			writeError(w, http.StatusBadRequest, "invalid intent body")
			return
		}
		if intent.Type == "" {
			writeError(w, http.StatusBadRequest, "intent type is required")
			return
		}

		id, err := m.Start(req.Context(), intent)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"investigation_id": id})
	})

	r.Get("/investigations/{id}/status", func(w http.ResponseWriter, req *http.Request) {
		st, err := m.Status(chi.URLParam(req, "id"))
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Get("/investigations/{id}", func(w http.ResponseWriter, req *http.Request) {
		inv, err := m.Results(chi.URLParam(req, "id"))
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	})

	r.Delete("/investigations/{id}", func(w http.ResponseWriter, req *http.Request) {
		if err := m.Cancel(chi.URLParam(req, "id")); err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeManagerError(w http.ResponseWriter, err error) {
	if errors.Is(err, ferr.ErrInvestigationNotFound) {
		writeError(w, http.StatusNotFound, "investigation not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
