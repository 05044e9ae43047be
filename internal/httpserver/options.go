package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/privatechat-app/privatechat-server/internal/health"
	"github.com/privatechat-app/privatechat-server/internal/httpmw"
	"github.com/privatechat-app/privatechat-server/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes mounts the application routes on the router.
	APIRoutes func(chi.Router)

	// MaxBodyBytes caps request bodies. 0 means the 64 KB default, which
	// covers every JSON payload this API accepts.
	MaxBodyBytes int64

	// WriteTimeout overrides the server default. The view endpoint waits
	// on the generative service, so the public server needs more headroom
	// than the ops server.
	WriteTimeout time.Duration
}
