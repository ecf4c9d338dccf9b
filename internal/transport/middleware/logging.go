package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/frahmantamala/checkout/internal"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

// sensitiveFields are field name fragments filtered from logs; matching ignores case, dashes and underscores.
var sensitiveFields = []string{
	"password",
	"token",
	"authorization",
	"secret",
	"apikey",
	"cardnumber",
	"cvv",
	"expiry",
	"credential",
}

func isSensitive(name string) bool {
	normalized := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(name))
	for _, sensitiveField := range sensitiveFields {
		if strings.Contains(normalized, sensitiveField) {
			return true
		}
	}
	return false
}

// LoggingMiddleware logs each request on arrival and again on completion. The completion
// line also names the route and the checkout session, order or payment it addressed.
func LoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := logger.With("request_id", requestID(w, r))
			logRequest(reqLog, r)

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}}
			next.ServeHTTP(rec, r)

			logResponse(reqLog.With(resourceAttrs(r, rec)...), r, rec, time.Since(start))
		})
	}
}

func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return w.Header().Get(TraceHeader)
}

// resourceAttrs must run after next has served the request, when chi has filled in the URL params.
func resourceAttrs(r *http.Request, rec *responseRecorder) []any {
	var attrs []any
	sessionID := internal.SessionIDFromContext(r.Context())
	orderID := r.URL.Query().Get("order_id")

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			attrs = append(attrs, "route", pattern)
		}
		if sessionID == "" {
			sessionID = rctx.URLParam("sessionID")
		}
		if id := rctx.URLParam("orderID"); id != "" {
			orderID = id
		}
		if id := rctx.URLParam("paymentID"); id != "" {
			attrs = append(attrs, "payment_id", id)
		}
	}
	// a created session is only known from its Location
	if sessionID == "" && rec.status() == http.StatusCreated {
		if loc := rec.Header().Get("Location"); strings.Contains(loc, "/sessions/") {
			sessionID = path.Base(loc)
		}
	}

	if sessionID != "" {
		attrs = append(attrs, "session_id", sessionID)
	}
	if orderID != "" {
		attrs = append(attrs, "order_id", orderID)
	}
	return attrs
}

// responseRecorder keeps the status and body for the completion log line.
type responseRecorder struct {
	http.ResponseWriter
	code int
	body *bytes.Buffer
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseRecorder) status() int {
	if rw.code == 0 {
		return http.StatusOK
	}
	return rw.code
}

func logRequest(logger *slog.Logger, r *http.Request) {
	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	logger.Info("incoming request",
		"method", r.Method,
		"path", r.URL.Path,
		"query", r.URL.RawQuery,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"headers", filterSensitiveHeaders(r.Header),
		"body", filterSensitiveBody(bodyBytes),
	)
}

func logResponse(logger *slog.Logger, r *http.Request, rec *responseRecorder, duration time.Duration) {
	status := rec.status()
	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}

	logger.Log(r.Context(), level, "response",
		"method", r.Method,
		"status_code", status,
		"duration_ms", duration.Milliseconds(),
		"response_size", rec.body.Len(),
		"body", filterSensitiveBody(rec.body.Bytes()),
	)
}

// filterSensitiveHeaders removes or masks sensitive headers
func filterSensitiveHeaders(headers http.Header) map[string]string {
	filtered := make(map[string]string)

	for name, values := range headers {
		if isSensitive(name) {
			filtered[name] = "[FILTERED]"
		} else {
			filtered[name] = strings.Join(values, ", ")
		}
	}

	return filtered
}

// filterSensitiveBody removes or masks sensitive fields from JSON body
func filterSensitiveBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	// Try to parse as JSON
	var jsonData interface{}
	if err := json.Unmarshal(body, &jsonData); err != nil {
		// If not JSON, return as string but check for sensitive patterns
		bodyStr := string(body)
		if isSensitive(bodyStr) {
			return "[FILTERED - Contains sensitive data]"
		}
		return bodyStr
	}

	// Filter sensitive fields from JSON
	filtered := filterSensitiveJSON(jsonData)

	// Convert back to JSON string
	filteredBytes, err := json.Marshal(filtered)
	if err != nil {
		return "[ERROR - Failed to marshal filtered JSON]"
	}

	return string(filteredBytes)
}

// filterSensitiveJSON recursively filters sensitive fields from JSON data
func filterSensitiveJSON(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		filtered := make(map[string]interface{})
		for key, value := range v {
			if isSensitive(key) {
				filtered[key] = "[FILTERED]"
			} else {
				filtered[key] = filterSensitiveJSON(value)
			}
		}
		return filtered
	case []interface{}:
		filtered := make([]interface{}, len(v))
		for i, item := range v {
			filtered[i] = filterSensitiveJSON(item)
		}
		return filtered
	default:
		return v
	}
}
