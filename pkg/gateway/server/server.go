package server

import (
	"log/slog"
	"net/http"

	"github.com/brightfold/voicegate/pkg/gateway/admission"
	"github.com/brightfold/voicegate/pkg/gateway/apierror"
	"github.com/brightfold/voicegate/pkg/gateway/capture"
	"github.com/brightfold/voicegate/pkg/gateway/config"
	"github.com/brightfold/voicegate/pkg/gateway/convlog"
	"github.com/brightfold/voicegate/pkg/gateway/cost"
	"github.com/brightfold/voicegate/pkg/gateway/handlers"
	"github.com/brightfold/voicegate/pkg/gateway/lifecycle"
	"github.com/brightfold/voicegate/pkg/gateway/metrics"
	"github.com/brightfold/voicegate/pkg/gateway/mw"
	"github.com/brightfold/voicegate/pkg/gateway/ratelimit"
)

// Store is the full storage surface the handlers need. *store.Postgres
// satisfies it.
type Store interface {
	handlers.SessionStore
	handlers.ConversationStore
	handlers.LiveStore
}

// Deps are the constructed components the server routes requests to.
type Deps struct {
	Store     Store
	Admission *admission.Limiter
	Broker    handlers.CredentialIssuer
	Router    *capture.Router
	Turns     *convlog.Logger
	Pricing   cost.Table
	Reporter  *cost.StripeReporter
	Metrics   *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps    Deps
	limiter *ratelimit.Limiter
	life    *lifecycle.Lifecycle
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		life:   &lifecycle.Lifecycle{},
		limiter: ratelimit.New(ratelimit.Config{
			RPS:               cfg.LimitRPS,
			Burst:             cfg.LimitBurst,
			MaxConcurrentLive: cfg.MaxConcurrentLive,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := mw.RequestIDFrom(r.Context())
		apierror.WriteJSON(w, reqID, apierror.NewNotFound("unknown route"), http.StatusNotFound)
	})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.life})

	// Keep a typed-nil *metrics.Metrics out of the handler interfaces.
	var m handlers.SessionMetrics
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
		m = s.deps.Metrics
	}

	s.mux.Handle("/v1/session", handlers.SessionHandler{
		Config:    s.cfg,
		Store:     s.deps.Store,
		Admission: s.deps.Admission,
		Broker:    s.deps.Broker,
		Logger:    s.logger,
		Lifecycle: s.life,
		Metrics:   m,
	})
	s.mux.Handle("/v1/session/end", handlers.SessionEndHandler{
		Config:   s.cfg,
		Store:    s.deps.Store,
		Admit:    s.deps.Admission,
		Logger:   s.logger,
		Metrics:  m,
		Turns:    s.deps.Turns,
		Capture:  s.deps.Router,
		Pricing:  s.deps.Pricing,
		Reporter: s.deps.Reporter,
	})
	s.mux.Handle("/v1/conversation/log", handlers.ConversationHandler{
		Config: s.cfg,
		Store:  s.deps.Store,
		Router: s.deps.Router,
		Turns:  s.deps.Turns,
		Logger: s.logger,
	})
	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:    s.cfg,
		Store:     s.deps.Store,
		Router:    s.deps.Router,
		Logger:    s.logger,
		Limiter:   s.limiter,
		Lifecycle: s.life,
	})
}

// SetStarted marks startup complete for readiness.
func (s *Server) SetStarted() {
	s.life.SetStarted()
}

// SetDraining flips readiness ahead of graceful shutdown.
func (s *Server) SetDraining(draining bool) {
	s.life.SetDraining(draining)
}

func (s *Server) Handler() http.Handler {
	var rlm mw.RateLimitMetrics
	if s.deps.Metrics != nil {
		rlm = s.deps.Metrics
	}
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, s.cfg, rlm, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
