package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/AuthServiceTochka/internal/handler"
	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/auth"
	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/observability"
	service "github.com/honeynil/AuthServiceTochka/internal/services"
	"github.com/honeynil/AuthServiceTochka/pkg/response"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "auth-service"
	ServiceVersion = "1.0.0"

	maxBodyBytes   = 10 << 20
	unmatchedRoute = "unmatched"
	defaultTimeout = 10 * time.Second
	adminRole      = "admin"
)

type RouterConfig struct {
	Service        service.AuthService
	Tokens         auth.AccessVerifier
	Toucher        auth.LastSeenToucher
	Metrics        *observability.Metrics
	CORSOrigin     string
	RequestTimeout time.Duration
	Development    bool
}

// SetupRouter builds the HTTP surface. Outermost first: panic recovery, CORS,
// request deadline, body limit, then metrics and access logging.
func SetupRouter(cfg RouterConfig) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}

	h := handler.NewHandler(cfg.Service, cfg.Development)
	authenticate := auth.Authenticate(cfg.Tokens, cfg.Toucher, cfg.Metrics)

	r := mux.NewRouter()
	r.HandleFunc("/health", health).Methods(http.MethodGet)
	r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)

	authRoutes := r.PathPrefix("/auth").Subrouter()
	h.RegisterPublicRoutes(authRoutes)

	admin := authRoutes.PathPrefix("/admin").Subrouter()
	admin.Use(authenticate, auth.RequireRoles(cfg.Metrics, adminRole))
	h.RegisterAdminRoutes(admin)

	protected := authRoutes.NewRoute().Subrouter()
	protected.Use(authenticate)
	h.RegisterProtectedRoutes(protected)

	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(notFound)

	var root http.Handler = r
	root = observe(r, cfg.Metrics, root)
	root = limitBody(root)
	root = withTimeout(cfg.RequestTimeout, root)
	root = cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(root)
	root = recoverPanics(cfg.Development, root)
	return root
}

func health(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "auth service is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   ServiceName,
		"version":   ServiceVersion,
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusNotFound, response.ErrorBody{
		Success: false,
		Message: "endpoint not found",
		Path:    r.URL.Path,
	})
}

// observe opens the server span and labels metrics with the route template
// so path parameters do not blow up label cardinality.
func observe(router *mux.Router, metrics *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := routeTemplate(router, r)

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer(ServiceName).Start(ctx, r.Method+" "+endpoint, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r.WithContext(ctx))
		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
		}

		elapsed := time.Since(start)
		metrics.ObserveRequest(r.Method, endpoint, recorder.status, elapsed)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", elapsed)
	})
}

func routeTemplate(router *mux.Router, r *http.Request) string {
	var match mux.RouteMatch
	if !router.Match(r, &match) || match.MatchErr != nil || match.Route == nil {
		return unmatchedRoute
	}
	tpl, err := match.Route.GetPathTemplate()
	if err != nil {
		return unmatchedRoute
	}
	return tpl
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func withTimeout(timeout time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recoverPanics(development bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := string(debug.Stack())
			slog.Error("panic recovered", "path", r.URL.Path, "panic", rec, "stack", stack)
			body := response.ErrorBody{Success: false, Message: "internal server error"}
			if development {
				body.Error = fmt.Sprint(rec)
				body.Stack = stack
			}
			response.JSON(w, http.StatusInternalServerError, body)
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
