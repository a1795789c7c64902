package http

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/RayanAndish/GoldACC-sub003/internal/application"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// Options configures the cross-cutting parts of the HTTP adapter.
type Options struct {
	Metrics     *Metrics
	GlobalRPS   float64
	GlobalBurst int
	// TrustedProxies lists the peers whose X-Forwarded-For header is honoured.
	TrustedProxies []netip.Prefix
	// Ready reports whether the backing stores are reachable.
	Ready func(ctx context.Context) error
}

// Handler is the HTTP adapter entrypoint for the licensing use-cases.
type Handler struct {
	service *application.Service
	metrics *Metrics
	limiter *rate.Limiter
	ready   func(ctx context.Context) error

	trustedProxies []netip.Prefix
}

func NewHandler(service *application.Service, opts Options) *Handler {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	var limiter *rate.Limiter
	if opts.GlobalRPS > 0 {
		burst := opts.GlobalBurst
		if burst <= 0 {
			burst = int(opts.GlobalRPS)
		}
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.GlobalRPS), burst)
	}
	return &Handler{
		service:        service,
		metrics:        metrics,
		limiter:        limiter,
		ready:          opts.Ready,
		trustedProxies: opts.TrustedProxies,
	}
}

// NewRouter registers the handshake, activation and license routes.
// Health checks, metrics, docs and the JWKS document sit outside the global limiter.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(handler.loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	r.Method(http.MethodGet, "/metrics", handler.metrics.Handler())
	r.Get("/.well-known/jwks.json", handler.jwks)
	r.Route("/docs", handler.docsRoutes)

	r.Group(func(r chi.Router) {
		r.Use(globalRateLimit(handler.limiter))

		r.Route("/handshake", func(r chi.Router) {
			r.Post("/nonce", handler.handshakeNonce)
			r.Post("/initiate", handler.handshakeInitiate)
		})
		r.Route("/activation", func(r chi.Router) {
			r.Post("/initiate", handler.activationInitiate)
			r.Post("/complete", handler.activationComplete)
		})
		r.Route("/license", func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Get("/status", handler.licenseStatus)
			r.Post("/request-code", handler.requestCode)
			r.Post("/activate", handler.licenseActivate)
		})
	})

	return r
}
