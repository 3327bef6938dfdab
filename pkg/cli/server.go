package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mchmarny/walletscore/pkg/data"
	"github.com/mchmarny/walletscore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 300
	serverMaxHeaderBytes      = 20
	serverPortDefault         = 8080

	portFlagName    = "port"
	addressFlagName = "address"

	latestRun = "latest"
)

func newServeCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"server"},
		Usage:   "Serve stored run history as JSON and run metrics for Prometheus",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    portFlagName,
				Usage:   "Port on which the server will listen",
				Value:   serverPortDefault,
				Sources: envVars("PORT"),
			},
			&cli.StringFlag{
				Name:  addressFlagName,
				Usage: "Interface on which the server will listen",
				Value: "127.0.0.1",
			},
		},
		Action: cmdServe,
	}
}

func cmdServe(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)

	dsn, err := historyPath(cmd)
	if err != nil {
		return err
	}

	db, err := data.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	address := fmt.Sprintf("%s:%d", cmd.String(addressFlagName), cmd.Int(portFlagName))
	s := &http.Server{
		Addr:           address,
		Handler:        makeRouter(db, cfg.Metrics),
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("server started", "address", "http://"+address)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error starting server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error shutting down server", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

func makeRouter(db *sqlx.DB, rec *metrics.Recorder) *http.ServeMux {
	if err := rec.Register(collectors.NewDBStatsCollector(db.DB, "history")); err != nil {
		slog.Debug("db stats collector not registered", "error", err)
	}

	mux := http.NewServeMux()

	// History API
	mux.HandleFunc("GET /api/runs", runsAPIHandler(db))
	mux.HandleFunc("GET /api/runs/{id}", runAPIHandler(db))
	mux.HandleFunc("GET /api/runs/{id}/scores", scoresAPIHandler(db))
	mux.HandleFunc("GET /api/wallets/{address}", walletAPIHandler(db))

	mux.Handle("GET /metrics", rec.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeDataError(w http.ResponseWriter, err error) {
	if errors.Is(err, data.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	slog.Error("history query failed", "error", err)
	writeError(w, http.StatusInternalServerError, "history query failed")
}

func queryParamInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}

	i, err := strconv.Atoi(v)
	if err != nil || i < 1 {
		slog.Debug("invalid query param, using default", "key", key, "value", v)
		return def
	}
	return i
}

// resolveRunID maps the "latest" alias to the newest run.
func resolveRunID(db *sqlx.DB, id string) (string, error) {
	if id != latestRun {
		return id, nil
	}
	return data.LatestRunID(db)
}

func runsAPIHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := data.ListRuns(db, queryParamInt(r, limitFlagName, data.DefaultLimit))
		if err != nil {
			writeDataError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func runAPIHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := resolveRunID(db, r.PathValue("id"))
		if err != nil {
			writeDataError(w, err)
			return
		}

		run, err := data.GetRun(db, id)
		if err != nil {
			writeDataError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func scoresAPIHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := resolveRunID(db, r.PathValue("id"))
		if err != nil {
			writeDataError(w, err)
			return
		}

		asc := r.URL.Query().Get("order") == "asc"
		list, err := data.ListScores(db, id, queryParamInt(r, limitFlagName, data.DefaultLimit), asc)
		if err != nil {
			writeDataError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func walletAPIHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := data.GetWalletHistory(db, r.PathValue("address"), queryParamInt(r, limitFlagName, data.DefaultLimit))
		if err != nil {
			writeDataError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
