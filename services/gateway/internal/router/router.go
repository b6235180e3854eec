// Package router wires the public edge routes to the upstream services.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/museum-visits/internal/http/response"
	mw "github.com/diagnosis/museum-visits/pkg/middleware"
	"github.com/diagnosis/museum-visits/pkg/ratelimit"
	"github.com/diagnosis/museum-visits/services/gateway/internal/proxy"
)

type Options struct {
	Auth        http.Handler
	Visits      http.Handler
	Limiter     ratelimit.Limiter
	WriteLimit  ratelimit.Config
	FrontendURL string
}

// New builds the gateway router. Public writes (booking creation and companion
// completion) are limited per client IP; staff and admin routes are not.
func New(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("gateway"))
	r.Use(mw.Logging)
	r.Use(mw.CORS(opts.FrontendURL))
	r.Use(mw.Health)
	r.Use(mw.Metrics)

	writeLimit := opts.WriteLimit
	if writeLimit.SkipFunc == nil {
		writeLimit.SkipFunc = isRead
	}
	limitWrites := ratelimit.Middleware(opts.Limiter, writeLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Handle("/auth/*", opts.Auth)

		r.With(limitWrites).Handle("/bookings", opts.Visits)
		r.With(limitWrites).Handle("/companions/*", opts.Visits)
		r.Handle("/*", opts.Visits)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.NotFound(w, "Route not found")
	})
	return r
}

func isRead(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Upstreams builds proxies for the configured services.
func Upstreams(authURL, visitsURL string) (auth, visits *proxy.ServiceProxy) {
	return proxy.NewServiceProxy("auth", authURL), proxy.NewServiceProxy("visits", visitsURL)
}
