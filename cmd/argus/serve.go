package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/arguslabs/argus/core/pkg/access"
	"github.com/arguslabs/argus/core/pkg/config"
	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/observability"
	"github.com/arguslabs/argus/core/pkg/supervisor"
)

func runServe(stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}

	logger := observability.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "argus-core",
		ServiceVersion: "1.0.0",
		Environment:    envOr("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		LogLevel:       cfg.LogLevel,
		Insecure:       true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "init telemetry: %v\n", err)
		return 1
	}

	adapters, err := buildAdapters(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "build adapters: %v\n", err)
		return 1
	}
	adapters.Telemetry = telemetry

	svc, err := supervisor.New(ctx, cfg, adapters, supervisor.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "build service: %v\n", err)
		return 1
	}

	sessions, err := sessionsFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "build session manager: %v\n", err)
		return 1
	}
	if sessions == nil {
		logger.Warn("admin sessions disabled; /auditz will refuse requests")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newIPRateLimiter(20, 40).middleware(opsMux(svc, sessions)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops listener started", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("ops listener failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := svc.Close(); err != nil {
		logger.Error("close service", "error", err)
	}
	_ = telemetry.Shutdown(shutdownCtx)
	return 0
}

// opsMux serves the operational endpoints. The decision API itself is
// in-process only; nothing here evaluates policies.
func opsMux(svc *supervisor.Service, sessions *access.Sessions) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Health(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		report := svc.Health(r.Context())
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})
	mux.HandleFunc("/statsz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.Stats())
	})
	mux.HandleFunc("/auditz", requireAuth(sessions, access.PermAuditRead,
		func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			limit := intParam(q.Get("limit"), 100)
			offset := intParam(q.Get("offset"), 0)
			entries, err := svc.QueryAudit(r.Context(), contracts.AuditFilter{
				ActorID:    q.Get("actor_id"),
				Action:     q.Get("action"),
				ResourceID: q.Get("resource_id"),
			}, limit, offset)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, entries)
		}))
	return mux
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
