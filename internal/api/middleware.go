package api

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudguard/internal/telemetry"
)

const (
	// TenantIDHeader is the HTTP header for tenant ID.
	TenantIDHeader = "X-Tenant-ID"

	// RequestIDHeader is the HTTP header for request ID.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader is the HTTP header for trace ID.
	TraceIDHeader = "X-Trace-ID"
)

// tenantPattern keeps tenant IDs usable as a single bus subject token and
// cache key segment.
var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var tracer = otel.Tracer("fraudguard-api")

type requestInfoKey struct{}

// requestInfo is shared by the middleware chain of one request. The tenant
// is filled in by TenantMiddleware after the outer middleware ran, which is
// why it is carried by pointer.
type requestInfo struct {
	RequestID string
	TraceID   string
	TenantID  string
}

func infoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// TenantMiddleware requires a valid X-Tenant-ID header.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantIDHeader)
		if tenantID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "X-Tenant-ID header is required",
			})
			return
		}
		if !tenantPattern.MatchString(tenantID) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "X-Tenant-ID must be 1-64 letters, digits, '-' or '_'",
			})
			return
		}

		ctx := r.Context()
		info, ok := ctx.Value(requestInfoKey{}).(*requestInfo)
		if !ok {
			info = &requestInfo{}
			ctx = context.WithValue(ctx, requestInfoKey{}, info)
		}
		info.TenantID = tenantID
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("tenant.id", tenantID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TracingMiddleware starts the server span, continuing the caller's trace
// when a traceparent header is present, and assigns the request ID.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		info := &requestInfo{RequestID: requestID, TraceID: requestID}
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			info.TraceID = sc.TraceID().String()
		}
		ctx = context.WithValue(ctx, requestInfoKey{}, info)

		w.Header().Set(RequestIDHeader, info.RequestID)
		w.Header().Set(TraceIDHeader, info.TraceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs each request, records the HTTP metrics and names
// the server span after the matched route once routing is done.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		route := routePattern(r)
		status := strconv.Itoa(rw.statusCode)

		telemetry.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		span := trace.SpanFromContext(r.Context())
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", rw.statusCode),
		)
		if rw.statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}

		info := infoFrom(r.Context())
		level := slog.LevelInfo
		if rw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", rw.statusCode,
			"duration_ms", elapsed.Milliseconds(),
			"tenant_id", info.TenantID,
			"request_id", info.RequestID,
			"trace_id", info.TraceID,
		)
	})
}

// routePattern returns the matched chi pattern so that path parameters do
// not explode metric cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// CORSMiddleware answers browser preflights. With no allowed origins every
// origin is reflected; otherwise only listed origins get CORS headers.
func CORSMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowMethods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	allowHeaders := strings.Join([]string{"Content-Type", TenantIDHeader, RequestIDHeader, TraceIDHeader, "Traceparent", "Authorization"}, ", ")
	exposeHeaders := strings.Join([]string{RequestIDHeader, TraceIDHeader, CacheHeader}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			permitted := len(allowed) == 0 || slices.Contains(allowed, origin)

			if permitted {
				if origin == "" {
					origin = "*"
				}
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				if permitted {
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500 response.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"path", r.URL.Path,
					"request_id", infoFrom(r.Context()).RequestID,
					"stack", string(debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetTenantID returns the tenant of the request.
func GetTenantID(ctx context.Context) string {
	return infoFrom(ctx).TenantID
}

// GetTraceID returns the trace ID of the request, or its request ID when
// tracing produced no valid trace.
func GetTraceID(ctx context.Context) string {
	return infoFrom(ctx).TraceID
}
