package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/delivery"
	"github.com/shohag/mediarelay/internal/escalation"
	"github.com/shohag/mediarelay/internal/metrics"
	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/storage"
)

const signatureTolerance = 5 * time.Minute

type Dispatcher interface {
	Submit(req models.MediaRequest) (models.MediaRequest, error)
	Status(jobID string) (delivery.JobStatus, bool)
}

type Queue interface {
	Get(ctx context.Context, id string) (*models.FailedRequest, error)
	Stats(ctx context.Context) (*storage.QueueStats, error)
	List(ctx context.Context, status models.FailedRequestStatus, limit int) ([]models.FailedRequest, error)
}

type Actions interface {
	HandleAction(ctx context.Context, requestID string, operatorID int64) (escalation.ActionResult, error)
}

type Metrics interface {
	Snapshot() metrics.Snapshot
	Report() string
}

type Egress interface {
	Snapshot() []models.EgressEndpoint
}

type Credentials interface {
	List() []models.Credential
	Import(ctx context.Context, displayName, sourceKind, rawText string) (*models.Credential, error)
	SetStatus(ctx context.Context, id string, status models.CredentialStatus) error
	Delete(ctx context.Context, id string) error
}

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Dispatcher  Dispatcher
	Queue       Queue
	Actions     Actions
	Metrics     Metrics
	Egress      Egress
	Credentials Credentials
}

type Server struct {
	cfg      config.ServerConfig
	gateway  config.GatewayConfig
	deps     Deps
	validate *validatorv10.Validate
	router   *chi.Mux
	log      zerolog.Logger
	http     *http.Server
}

func NewServer(cfg config.ServerConfig, gateway config.GatewayConfig, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		gateway:  gateway,
		deps:     deps,
		validate: newValidator(),
		log:      log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	reqHandler := NewRequestHandler(s.deps.Dispatcher, s.validate)
	actionHandler := NewActionHandler(s.deps.Actions, s.validate)
	queueHandler := NewQueueHandler(s.deps.Queue)
	statsHandler := NewStatsHandler(s.deps.Metrics)
	egressHandler := NewEgressHandler(s.deps.Egress)
	credHandler := NewCredentialHandler(s.deps.Credentials, s.validate)

	// Health check, no auth
	r.Get("/health", statsHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIToken))

		// Gateway callbacks carry a body signature
		r.Group(func(r chi.Router) {
			r.Use(SignatureMiddleware(s.gateway.Secret, signatureTolerance))

			r.Post("/requests", reqHandler.Create)
			r.Post("/actions/reprocess", actionHandler.Reprocess)
		})

		r.Get("/requests/{id}", reqHandler.Get)

		// Failed request queue
		r.Get("/queue/stats", queueHandler.Stats)
		r.Get("/queue/pending", queueHandler.Pending)
		r.Get("/queue/{id}", queueHandler.Get)

		// Observability
		r.Get("/metrics", statsHandler.Metrics)
		r.Get("/metrics/report", statsHandler.Report)
		r.Get("/egress", egressHandler.List)

		// Credentials
		r.Get("/credentials", credHandler.List)
		r.Post("/credentials", credHandler.Import)
		r.Patch("/credentials/{id}/status", credHandler.SetStatus)
		r.Delete("/credentials/{id}", credHandler.Delete)
	})

	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
