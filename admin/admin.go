// Package admin serves the router's operator surface: liveness, the
// redacted running configuration, Prometheus metrics and liquidity
// management against the manager contracts.
package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Kuzirashi/nxtp/chains/evm/txmanager"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/Kuzirashi/nxtp/config"
	"github.com/Kuzirashi/nxtp/dispatcher"
	"github.com/Kuzirashi/nxtp/metrics"
)

const (
	// requestRate and requestBurst bound the whole admin surface to five
	// requests per second.
	requestRate  = 5
	requestBurst = 5

	// readHeaderTimeout protects the listener from slow-header clients.
	readHeaderTimeout = 5 * time.Second
)

// actionDispatcher submits contract writes and reports their mined results.
type actionDispatcher interface {
	Dispatch(action *types.Action) (<-chan dispatcher.Result, error)
}

// errorBody is the classified failure shape of admin error replies, the
// same envelope messaging peers receive.
type errorBody struct {
	Kind    rerrors.Kind           `json:"kind"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// Server is the admin HTTP surface.
//
// Fields:
// - logger: the router logger.
// - cfg: the running configuration, served redacted.
// - configs: per-chain configuration keyed by chain id.
// - codec: the transaction manager calldata codec.
// - actions: the per-chain dispatchers executing liquidity operations.
// - signer: the router identity, the default beneficiary of deposits.
// - metrics: the collectors behind /metrics.
// - limiter: the surface-wide request limiter.
type Server struct {
	logger  *logrus.Logger
	cfg     *config.Config
	configs map[types.ChainID]*types.ChainConfig
	codec   *txmanager.Codec
	actions actionDispatcher
	signer  types.Signer
	metrics *metrics.Metrics
	limiter *rate.Limiter

	httpServer *http.Server
}

// New wires the admin server from the router's subsystems.
func New(
	cfg *config.Config,
	codec *txmanager.Codec,
	actions *dispatcher.Dispatcher,
	signer types.Signer,
	collectors *metrics.Metrics,
	logger *logrus.Logger,
) *Server {
	return &Server{
		logger:  logger,
		cfg:     cfg,
		configs: cfg.Chains(),
		codec:   codec,
		actions: actions,
		signer:  signer,
		metrics: collectors,
		limiter: rate.NewLimiter(rate.Limit(requestRate), requestBurst),
	}
}

// Router assembles the admin routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.rateLimit)

	r.Get("/ping", s.handlePing)
	r.Get("/config", s.handleConfig)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/remove-liquidity", s.handleRemoveLiquidity)
		r.Post("/add-liquidity-for", s.handleAddLiquidityFor)
	})
	return r
}

// Start serves the admin surface on the configured port. Listener errors
// after startup are logged, not fatal; losing the admin surface must not
// take transfers down with it.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.AdminHost, s.cfg.AdminPort),
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		s.logger.WithField("port", s.cfg.AdminPort).Info("Admin surface listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Admin surface stopped")
		}
	}()
}

// Stop shuts the listener down, honoring the context's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// rateLimit applies the surface-wide token bucket.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireToken guards mutating routes with the configured bearer token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			s.writeError(w, http.StatusForbidden,
				rerrors.New(rerrors.KindConfigurationError, "adminToken is not configured, liquidity operations are disabled"))
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token != s.cfg.AdminToken {
			s.writeError(w, http.StatusUnauthorized,
				rerrors.New(rerrors.KindConfigurationError, "missing or invalid admin token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with status and timing.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Debug("Admin request")
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Redacted())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode admin response")
	}
}

// writeError replies with the classified envelope peers also see on the
// messaging surface.
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{
		Kind:    rerrors.KindOf(err),
		Message: err.Error(),
		Context: rerrors.ContextOf(err),
	}
	s.writeJSON(w, status, errorEnvelope{Error: body})
}

// statusForKind maps taxonomy kinds onto HTTP statuses.
func statusForKind(kind rerrors.Kind) int {
	switch kind {
	case rerrors.KindParamsInvalid, rerrors.KindChainNotSupported, rerrors.KindNotEnoughAmount:
		return http.StatusBadRequest
	case rerrors.KindRpcError, rerrors.KindProvidersNotAvailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// newOperationID mints a transaction id for one liquidity operation, so the
// dispatcher's deduplication never collapses two distinct requests.
func newOperationID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "0x0"
	}
	return "0x" + hex.EncodeToString(buf)
}
