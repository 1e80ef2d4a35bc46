package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/metrics"
)

type contextKey string

// RequestIDContextKey holds the uuid.UUID assigned to each request.
const RequestIDContextKey contextKey = "request_id"

const requestStateContextKey contextKey = "request_state"

// requestState collects facts about a request that handlers learn and the
// metrics middleware reports.
type requestState struct {
	mu    sync.Mutex
	cause string
}

func setCause(ctx context.Context, cause string) {
	if st, ok := ctx.Value(requestStateContextKey).(*requestState); ok {
		st.mu.Lock()
		st.cause = cause
		st.mu.Unlock()
	}
}

// RequestID returns the id the metrics middleware assigned to the request, if any.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(uuid.UUID); ok {
		return id.String()
	}
	return ""
}

// normalizeEndpoint removes all unique identifiers from the URL in order to
// make it possible to group the Prometheus metrics nicely.
func normalizeEndpoint(url string) string {
	var nels []string

	els := strings.Split(url, "/")
	for _, e := range els {
		// Block hashes, heights and hex keys are the only unique ids.
		isTooLong := len(e) >= 32
		isInt := len(e) > 0 && strings.IndexFunc(e, func(c rune) bool { return c < '0' || c > '9' }) == -1
		isHex := strings.HasPrefix(e, "0x")
		if isTooLong || isInt || isHex {
			nels = append(nels, "*")
		} else {
			nels = append(nels, e)
		}
	}

	return strings.Join(nels, "/")
}

// metricEndpoint prefers the matched chi route pattern, falling back to the
// normalized path for unmatched requests.
func metricEndpoint(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			if len(pattern) > 1 {
				pattern = strings.TrimSuffix(pattern, "/")
			}
			return pattern
		}
	}
	return normalizeEndpoint(r.URL.Path)
}

// MetricsMiddleware is a middleware that measures the start and end of each request,
// as well as other useful request information.
// It should be used as the outermost middleware, so it can
// - set a requestID and make it available to all handlers and
// - observe the final HTTP status code at the end of the request.
func MetricsMiddleware(m metrics.RequestMetrics, logger *log.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.New()
			logger.Info("starting request",
				"endpoint", r.URL.Path,
				"request_id", requestID,
			)
			t := time.Now()
			state := &requestState{}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
			ctx = context.WithValue(ctx, requestStateContextKey, state)
			next.ServeHTTP(ww, r.WithContext(ctx))

			httpStatus := ww.Status()
			if httpStatus == 0 {
				// Nothing was written; net/http sends 200.
				httpStatus = http.StatusOK
			}
			latency := time.Since(t)
			state.mu.Lock()
			cause := state.cause
			state.mu.Unlock()
			logger.Info("ending request",
				"query_path", r.URL.Path,
				"query_params", r.URL.RawQuery,
				"request_id", requestID,
				"latency", latency,
				"latency_bin", binQueryLatency(latency),
				"status_code", httpStatus,
				"cause", cause,
			)

			metricName := metricEndpoint(r)
			statusTxt := "failure"
			if httpStatus >= 200 && httpStatus < 400 {
				statusTxt = "success"
			} else if httpStatus >= 400 && httpStatus < 500 {
				statusTxt = "failure_4xx"
			}
			if !utf8.ValidString(metricName) {
				logger.Debug("invalid metric name", "metric_name", metricName)
				metricName = "ignored"
				statusTxt = "non_utf8_path"
			}
			m.RequestCounter(metricName, statusTxt, cause).Inc()
			m.RequestLatencies.WithLabelValues(metricName).Observe(latency.Seconds())
		})
	}
}

// Bin request durations to make it easier to search for slow queries in logs.
func binQueryLatency(t time.Duration) string {
	switch {
	case t < 100*time.Millisecond:
		return "<100ms"
	case t < 300*time.Millisecond:
		return "100-300ms"
	case t < 500*time.Millisecond:
		return "300-500ms"
	case t < 1000*time.Millisecond:
		return "500-1000ms"
	default:
		return ">1000ms"
	}
}

// CorsMiddleware is a restrictive CORS middleware that allows the read-only
// GET routes and the POST batch routes. It must run before routing so that
// OPTIONS preflight requests are answered.
var CorsMiddleware func(http.Handler) http.Handler = cors.New(cors.Options{
	AllowedMethods: []string{
		http.MethodGet,
		http.MethodPost,
	},
	AllowedHeaders:   []string{"Content-Type"},
	AllowCredentials: false,
}).Handler

// TimeoutMiddleware bounds the context of every request. Handlers observe the
// deadline through their node queries and report it as a 504.
func TimeoutMiddleware(timeout time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
