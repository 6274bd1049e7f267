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
	"golang.org/x/time/rate"

	"github.com/sells-group/scopezero/internal/ingest"
	"github.com/sells-group/scopezero/internal/lock"
	"github.com/sells-group/scopezero/internal/pipeline"
	"github.com/sells-group/scopezero/internal/store"
	"github.com/sells-group/scopezero/internal/table"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := routerOptions{MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20}
		if cfg.Server.UploadRatePerSec > 0 {
			opts.UploadLimiter = rate.NewLimiter(rate.Limit(cfg.Server.UploadRatePerSec), max(cfg.Server.UploadBurst, 1))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Pipeline, opts),
			ReadHeaderTimeout: 10 * time.Second,
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
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// routerOptions bounds the upload endpoint.
type routerOptions struct {
	MaxUploadBytes int64         // 0 means unlimited
	UploadLimiter  *rate.Limiter // nil means unlimited
}

// buildRouter wires the API routes onto a chi router.
func buildRouter(p *pipeline.Pipeline, opts routerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			zap.L().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", uploadHandler(p, opts))

		r.Get("/dashboard", func(w http.ResponseWriter, req *http.Request) {
			d, err := p.Dashboard(req.Context())
			respond(w, req, d, err)
		})
		r.Get("/recommendations", func(w http.ResponseWriter, req *http.Request) {
			recs, err := p.Recommendations(req.Context())
			respond(w, req, recs, err)
		})
		r.Get("/audit", func(w http.ResponseWriter, req *http.Request) {
			a, err := p.Audit(req.Context())
			respond(w, req, a, err)
		})
		r.Get("/records", func(w http.ResponseWriter, req *http.Request) {
			limit := pipeline.DefaultRecordLimit
			if s := req.URL.Query().Get("limit"); s != "" {
				n, err := strconv.Atoi(s)
				if err != nil || n <= 0 {
					writeError(w, http.StatusBadRequest, "limit must be a positive integer")
					return
				}
				limit = n
			}
			recs, err := p.Records(req.Context(), limit)
			respond(w, req, recs, err)
		})
		r.Get("/datasets", func(w http.ResponseWriter, req *http.Request) {
			ds, err := p.Datasets(req.Context())
			respond(w, req, ds, err)
		})
		r.Get("/emission-factors", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, p.Factors())
		})
		r.Get("/emissions", func(w http.ResponseWriter, req *http.Request) {
			q := parseSumQuery(req)
			if err := q.Validate(); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			sums, err := p.Emissions(req.Context(), q)
			respond(w, req, sums, err)
		})
	})

	return r
}

func uploadHandler(p *pipeline.Pipeline, opts routerOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if opts.UploadLimiter != nil && !opts.UploadLimiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
			return
		}
		if opts.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, opts.MaxUploadBytes)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
				return
			}
			writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
			return
		}
		defer file.Close() //nolint:errcheck

		summary, err := p.Ingest(r.Context(), header.Filename, file)
		var rowErr *ingest.RowError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, summary)
		case errors.Is(err, table.ErrUnsupportedFileType):
			writeError(w, http.StatusBadRequest, "Only CSV and XLSX files are supported")
		case errors.As(err, &rowErr):
			writeError(w, http.StatusUnprocessableEntity, rowErr.Error())
		case errors.Is(err, lock.ErrNotObtained):
			writeError(w, http.StatusServiceUnavailable, "another upload is in progress")
		case errors.Is(err, lock.ErrLost):
			writeError(w, http.StatusServiceUnavailable, "ingest lock lost, retry the upload")
		default:
			zap.L().Error("upload failed",
				zap.String("filename", header.Filename),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "failed to process upload")
		}
	}
}

// parseSumQuery reads metric, a comma-separated group_by and one exact-match
// filter per dimension from the query string.
func parseSumQuery(r *http.Request) store.SumQuery {
	qs := r.URL.Query()
	q := store.SumQuery{Metric: store.Metric(qs.Get("metric"))}
	if q.Metric == "" {
		q.Metric = store.MetricTotal
	}
	for _, d := range strings.Split(qs.Get("group_by"), ",") {
		if d = strings.TrimSpace(d); d != "" {
			q.GroupBy = append(q.GroupBy, store.Dimension(d))
		}
	}
	for _, d := range []store.Dimension{store.DimSupplier, store.DimRegion, store.DimMaterial, store.DimTransportMode} {
		if v := qs.Get(string(d)); v != "" {
			if q.Filter == nil {
				q.Filter = make(map[store.Dimension]string)
			}
			q.Filter[d] = v
		}
	}
	return q
}

func respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
