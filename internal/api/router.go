package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// Router wires the handlers onto a chi mux
type Router struct {
	handler   *Handler
	websocket http.HandlerFunc // nil disables /ws
	static    http.Handler     // nil disables the dashboard files
	timeout   time.Duration
	logger    *logger.Logger
}

// NewRouter creates the router. ws and static may be nil.
func NewRouter(h *Handler, ws http.HandlerFunc, static http.Handler, timeout time.Duration, log *logger.Logger) *Router {
	return &Router{
		handler:   h,
		websocket: ws,
		static:    static,
		timeout:   timeout,
		logger:    log.Named("api-router"),
	}
}

// Routes returns the HTTP handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)

	h := rt.handler

	// websocket upgrades must not sit behind the request timeout
	if rt.websocket != nil {
		r.Get("/ws", rt.websocket)
	}

	r.Group(func(r chi.Router) {
		if rt.timeout > 0 {
			r.Use(middleware.Timeout(rt.timeout))
		}

		r.Get("/health", h.GetHealth)
		r.Get("/status", h.GetStatus)

		r.Get("/dashboard/snapshot", h.GetDashboardSnapshot)

		r.Route("/replay", func(r chi.Router) {
			r.Get("/snapshot", h.GetReplaySnapshot)
			r.Get("/range", h.GetReplayRange)
		})

		r.Get("/forecast/24h", h.GetForecast)
		r.Get("/api/history", h.GetHistory)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/monthly", h.GetMonthly)
			r.Get("/top-destinations", h.GetTopDestinations)
		})
	})

	if rt.static != nil {
		r.Handle("/*", rt.static)
	}
	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("Request served",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
