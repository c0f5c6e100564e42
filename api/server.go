/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, copied into the log context
  2. Logger:     One structured (zerolog) line per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the forms frontend

ROUTE GROUPS:
  /api/items/*       Items, ledgers, custody transitions
  /api/bulk/*        Customer-side batches
  /api/lots/*        Dealer lots
  /api/summary       Dashboard totals
  /api/scenarios/*   Demo data (memory and sqlite only)
  /metrics           Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/girvi-engine/logging"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetItem)
				r.Delete("/", h.DeleteItem)
				r.Get("/payments", h.GetPayments)
				r.Get("/closures", h.GetClosures)

				r.Get("/customer", h.GetCustomerStatement)
				r.Post("/customer/payments", h.RecordCustomerPayment)
				r.Get("/dealer", h.GetDealerStatement)
				r.Post("/dealer/payments", h.RecordDealerPayment)

				r.Post("/transfer", h.TransferItem)
				r.Post("/return", h.ReturnItem)
				r.Post("/release", h.ReleaseItem)
			})
		})

		r.Route("/bulk", func(r chi.Router) {
			r.Post("/interest", h.BulkInterest)
			r.Post("/release", h.BulkRelease)
			r.Post("/transfer", h.BulkTransfer)
		})

		r.Route("/lots", func(r chi.Router) {
			r.Get("/", h.ListLots)
			r.Post("/{dealer}/{lot}/payments", h.LotPayment)
			r.Post("/{dealer}/{lot}/return", h.LotReturn)
		})

		r.Get("/summary", h.GetSummary)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetData)
		})
	})

	return r
}

// requestLogger logs one line per request and hands the request id to the
// engine through the context.
func requestLogger(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := log.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			log.InfoFields(ctx, "http request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}
