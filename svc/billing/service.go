package billing

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/tiersync/handler"
	"github.com/dmitrymomot/tiersync/pkg/binder"
	"github.com/dmitrymomot/tiersync/pkg/logger"
	"github.com/dmitrymomot/tiersync/pkg/requestid"
	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

const (
	// ActorHeader carries the id of the admin performing an override.
	ActorHeader = "X-Actor-ID"

	defaultMaxBodyBytes int64 = 1 << 20
)

// DefaultSignatureHeaders maps providers to the header holding the webhook signature.
var DefaultSignatureHeaders = map[subscription.ProviderName]string{
	subscription.ProviderStripe: "Stripe-Signature",
	subscription.ProviderPaddle: "Paddle-Signature",
}

// Recorder receives outcome counts. *metrics.Collector satisfies it.
type Recorder interface {
	ObserveWebhook(provider, status string)
	ObserveSync(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveWebhook(string, string) {}
func (nopRecorder) ObserveSync(string)            {}

// Service is the HTTP surface of the subscription engine.
type Service struct {
	reconciler   *subscription.Reconciler
	orchestrator *subscription.Orchestrator
	manager      *subscription.Manager
	store        subscription.Store

	signatureHeaders map[subscription.ProviderName]string
	maxBodyBytes     int64
	middlewares      []func(http.Handler) http.Handler
	validate         *validator.Validate
	recorder         Recorder
	logger           *slog.Logger
	errorHandler     handler.ErrorHandler[handler.Context]
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSignatureHeader overrides the signature header read for provider.
func WithSignatureHeader(provider subscription.ProviderName, header string) Option {
	return func(s *Service) {
		if header != "" {
			s.signatureHeaders[provider] = header
		}
	}
}

// WithRecorder counts webhook and sync outcomes.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithMiddleware appends middleware applied to every route.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Service) {
		s.middlewares = append(s.middlewares, mw...)
	}
}

// NewService creates the HTTP service. It panics on nil dependencies.
func NewService(
	reconciler *subscription.Reconciler,
	orchestrator *subscription.Orchestrator,
	manager *subscription.Manager,
	store subscription.Store,
	opts ...Option,
) *Service {
	if reconciler == nil || orchestrator == nil || manager == nil || store == nil {
		panic("billing: reconciler, orchestrator, manager and store are required")
	}

	s := &Service{
		reconciler:       reconciler,
		orchestrator:     orchestrator,
		manager:          manager,
		store:            store,
		signatureHeaders: make(map[subscription.ProviderName]string, len(DefaultSignatureHeaders)),
		maxBodyBytes:     defaultMaxBodyBytes,
		validate:         newValidator(),
		recorder:         nopRecorder{},
		logger:           slog.New(slog.DiscardHandler),
	}
	for name, header := range DefaultSignatureHeaders {
		s.signatureHeaders[name] = header
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("billing_http"))
	s.errorHandler = handler.NewErrorHandler(s.logger, mapError)
	return s
}

// Handle returns the service router.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(s.accessLog)
	r.Use(s.middlewares...)

	path := binder.Path(chi.URLParam)
	body := binder.BindJSON(binder.WithMaxBodySize(s.maxBodyBytes))

	r.Post("/webhooks/{provider}", route(s, s.webhook, s.bindWebhook))
	r.Post("/checkout", route(s, s.checkout, body, s.validateRequest))

	r.Route("/subscriptions/{userID}", func(r chi.Router) {
		r.Get("/", route(s, s.show, path))
		r.Post("/manage", route(s, s.manage, path, body, s.validateRequest))
		r.Post("/sync", route(s, s.sync, path))
	})

	r.Route("/admin/subscriptions/{userID}", func(r chi.Router) {
		r.Post("/override", route(s, s.assignOverride, requireActor, path, binder.Header(), body, s.validateRequest))
		r.Delete("/override", route(s, s.clearOverride, requireActor, path, binder.Header(), binder.Query()))
	})

	return r
}

// route wraps a typed handler with its binders and the service error handler.
func route[R any](s *Service, h handler.HandlerFunc[handler.Context, R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithBinders[handler.Context, R](binders...),
		handler.WithErrorHandler[handler.Context, R](s.errorHandler),
	)
}

func (s *Service) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		level := slog.LevelDebug
		if rw.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			logger.Duration(time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
