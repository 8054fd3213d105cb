package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/metrics"
	"github.com/xtrntr/spotex/internal/requestid"
)

// RouterOptions configures the middleware stack
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics
}

// NewRouter mounts every route on a chi router
func NewRouter(h *Handler, opts RouterOptions) chi.Router {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestid.Header},
		ExposedHeaders:   []string{"Link", requestid.Header},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(RequestID)
	r.Use(RequestLogger(h.Log))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(middleware.Recoverer)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/healthz", h.Health)
	r.Get("/ws", h.ServeWS)

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.GetUserOrders)
		r.Get("/orders/history", h.GetOrderHistory)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/orderbook", h.GetOrderBook)

		r.Get("/matches/latest", h.GetLatestMatches)
		r.Get("/matches/book", h.GetMatchBook)

		r.Get("/statistics/global", h.GetGlobalStatistics)
		r.Get("/statistics/matches", h.GetMatchStatistics)

		r.Get("/users/me", h.GetMe)
		r.Get("/users/statistics", h.GetUserStatistics)
	})
	return r
}

// RequestID adopts the caller's X-Request-ID or generates one, stores it in
// the request context and echoes it on the response
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestid.With(r.Context(), r.Header.Get(requestid.Header))
		w.Header().Set(requestid.Header, requestid.From(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger writes one entry per request
func RequestLogger(log logger.Interface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.DebugContext(r.Context(), "http request",
				logger.NewField("method", r.Method),
				logger.NewField("path", r.URL.Path),
				logger.NewField("status", ww.Status()),
				logger.NewField("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}
