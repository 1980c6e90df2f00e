package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aupiff/apex-protocol/gateway/middleware"
)

// Config assembles the pricing gateway.
type Config struct {
	Pricing     *PricingRoutes
	RateLimiter *middleware.RateLimiter
	CORS        middleware.CORSConfig
}

// New builds the HTTP handler serving the read-only pricing API, health check,
// and Prometheus scrape endpoint.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Pricing != nil {
		r.Route("/v1", func(sr chi.Router) {
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware())
			}
			cfg.Pricing.mount(sr)
		})
	}

	r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))

	return r
}
