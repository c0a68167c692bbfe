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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/metrics"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/report"
	"github.com/sells-group/inspection-cli/internal/risk"
	"github.com/sells-group/inspection-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only inspection API",
	Long: `Serve property risk, details, score traces and finding history over HTTP.

Routes:
  GET /health
  GET /properties?risk=&defect=&search=&limit=&offset=
  GET /properties/{id}
  GET /properties/{id}/trace
  GET /rooms/{id}
  GET /findings/{id}/history
  GET /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := resolvePort(servePort, cfg.Server.Port)
		cfg.Server.Port = port

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		h := buildRouter(env.Reader, env.Risk, env.Metrics, env.Registry)
		return startServer(ctx, h, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h on port until ctx is cancelled, then shuts down
// gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// api serves read-only projections.
type api struct {
	reader *report.Reader
	risk   *risk.Aggregator
}

// buildRouter mounts the read API. m and gatherer may be nil.
func buildRouter(reader *report.Reader, agg *risk.Aggregator, m *metrics.Metrics, gatherer prometheus.Gatherer) http.Handler {
	a := &api{reader: reader, risk: agg}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(countRequests(m))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/properties", a.listProperties)
	r.Get("/properties/{id}", a.propertyDetails)
	r.Get("/properties/{id}/trace", a.propertyTrace)
	r.Get("/rooms/{id}", a.roomDetails)
	r.Get("/findings/{id}/history", a.findingHistory)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.HTTPErrorOnError,
		}))
	}
	return r
}

// countRequests records one request per matched route and status code.
func countRequests(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.IncHTTPRequest(route, strconv.Itoa(status))
		})
	}
}

func (a *api) listProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.PropertyFilter{
		DefectType: q.Get("defect"),
		Search:     q.Get("search"),
	}
	if v := q.Get("risk"); v != "" {
		cat, ok := parseRiskCategory(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "risk must be Low, Medium or High")
			return
		}
		filter.RiskCategory = cat
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	props, err := a.reader.ListProperties(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": props, "count": len(props)})
}

func (a *api) propertyDetails(w http.ResponseWriter, r *http.Request) {
	detail, err := a.reader.PropertyDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *api) propertyTrace(w http.ResponseWriter, r *http.Request) {
	tr, err := a.risk.Traceability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*risk.Trace
		Consistent bool `json:"consistent"`
	}{tr, tr.Consistent()})
}

func (a *api) roomDetails(w http.ResponseWriter, r *http.Request) {
	room, err := a.reader.RoomDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *api) findingHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := a.reader.FindingHistory(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"finding_id": id, "history": history})
}

func parseRiskCategory(s string) (model.RiskCategory, bool) {
	for _, c := range []model.RiskCategory{model.RiskLow, model.RiskMedium, model.RiskHigh} {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("api request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
