package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/pixelmask/internal/domain"
	"github.com/dunamismax/pixelmask/internal/pipeline"
	"github.com/dunamismax/pixelmask/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	RouteWatermark = "/api/watermark"
	RouteHealthz   = "/healthz"
	RouteMetrics   = "/metrics"

	HeaderRequestID = "X-Request-ID"
)

type Server struct {
	logger                 zerolog.Logger
	processor              renderer
	apiKey                 string
	usageStore             store.UsageStore
	rateLimiter            RateLimiter
	rateLimitSubjectHeader string
	metrics                *Metrics
	tracer                 trace.Tracer
	mux                    *http.ServeMux
}

type renderer interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type Options struct {
	// APIKey, when set, must match the key query parameter.
	APIKey                 string
	UsageStore             store.UsageStore
	RateLimiter            RateLimiter
	RateLimitSubjectHeader string
	Metrics                *Metrics
}

func NewServer(logger zerolog.Logger, processor renderer, opts Options) *Server {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Server{
		logger:                 logger,
		processor:              processor,
		apiKey:                 opts.APIKey,
		usageStore:             opts.UsageStore,
		rateLimiter:            opts.RateLimiter,
		rateLimitSubjectHeader: opts.RateLimitSubjectHeader,
		metrics:                metrics,
		tracer:                 otel.Tracer("pixelmask/api"),
		mux:                    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET "+RouteHealthz, s.handleHealthz)
	s.mux.Handle("GET "+RouteMetrics, s.metrics.metricsHandler())
	s.mux.HandleFunc("GET "+RouteWatermark, s.handleWatermark)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWatermark(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set(HeaderRequestID, requestID)
	logger := s.logger.With().Str("request_id", requestID).Logger()

	params := domain.ParseParams(r.URL.Query())
	if !s.authorized(params.Key) {
		s.writeError(w, logger, fmt.Errorf("%w: key mismatch", domain.ErrUnauthorized))
		return
	}
	if err := params.Validate(); err != nil {
		s.writeError(w, logger, err)
		return
	}

	startedAt := time.Now()
	result, err := s.processor.Process(r.Context(), pipeline.Request{
		RequestID: requestID,
		Params:    params,
	})
	if err != nil {
		s.writeError(w, logger, err)
		return
	}
	elapsed := time.Since(startedAt)

	logger.Info().
		Str("variant", string(params.Variant)).
		Int("width", result.Width).
		Int("height", result.Height).
		Int("source_bytes", result.SourceBytes).
		Int("output_bytes", len(result.Data)).
		Dur("elapsed", elapsed).
		Msg("rendered watermark")

	s.metrics.observeRender(params.Variant, result)
	s.recordUsage(r.Context(), logger, requestID, params.Variant, result, elapsed)

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		logger.Warn().Err(err).Msg("write response body")
	}
}

func (s *Server) authorized(key string) bool {
	if s.apiKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
}

func (s *Server) recordUsage(ctx context.Context, logger zerolog.Logger, requestID string, variant domain.Variant, result pipeline.Result, elapsed time.Duration) {
	if s.usageStore == nil {
		return
	}

	computeTimeMS := elapsed.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		RequestID:       requestID,
		Variant:         variant,
		SourceBytes:     int64(result.SourceBytes),
		OutputBytes:     int64(len(result.Data)),
		PixelsProcessed: int64(result.Width) * int64(result.Height),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		logger.Warn().Err(err).Msg("usage log write failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
