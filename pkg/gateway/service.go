// Package gateway runs channel adapters against a compiled router and serves
// health, readiness and metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"miniroute/pkg/bus"
	"miniroute/pkg/channel"
	"miniroute/pkg/config"
	"miniroute/pkg/metrics"
	"miniroute/pkg/router"
	"miniroute/pkg/runtime"
)

const (
	defaultHealthHost   = "0.0.0.0"
	defaultHealthPort   = 18790
	defaultMetricsPath  = "/metrics"
	healthCheckInterval = 30 * time.Second
	sessionIdleTimeout  = 30 * time.Minute
)

// HealthChecker reports whether an upstream dependency is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	baseLog  *slog.Logger
	router   *router.Router
	health   HealthChecker
	metrics  *metrics.Collector
	events   *bus.MessageBus
	sessions *sessionManager
	channels []channel.Adapter

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	channelStates    map[string]channelState
}

type ServiceOption func(*Service)

// WithHealthCheck makes readiness depend on checker, typically the assistant
// provider.
func WithHealthCheck(checker HealthChecker) ServiceOption {
	return func(s *Service) {
		s.health = checker
	}
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	Router           string                  `json:"router,omitempty"`
	Rules            int                     `json:"rules"`
	Sessions         int                     `json:"sessions"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	Channels         map[string]channelState `json:"channels"`
}

func NewService(cfg *config.Config, rt *router.Router, adapters []channel.Adapter, log *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if rt == nil {
		return nil, errors.New("router is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		baseLog:       log,
		router:        rt,
		events:        bus.NewMessageBus(),
		channels:      adapters,
		channelStates: make(map[string]channelState, len(adapters)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, adapter := range adapters {
		s.channelStates[adapter.Name()] = channelState{}
	}

	dispatcherOpts := []runtime.DispatcherOption{
		runtime.WithLogger(log),
		runtime.WithEvents(s.events),
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewCollector(nil)
		dispatcherOpts = append(dispatcherOpts, runtime.WithRecorder(s.metrics))
	}

	dispatcher, err := runtime.NewDispatcher(rt, dispatcherOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize dispatcher: %w", err)
	}
	s.sessions = newSessionManager(dispatcher.Handle, log)

	return s, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	defer s.shutdown()

	if err := s.checkProviderHealth(ctx); err != nil {
		return err
	}

	go runtime.ObserveEvents(ctx, s.events, s.baseLog)

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.sessions.Handle)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)
	go s.runMaintenance(ctx)

	s.log.Info("Gateway started", "router", s.router.Name(), "rules", len(s.router.Rules()), "channels", len(s.channels))

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

func (s *Service) shutdown() {
	s.sessions.Close()
	s.events.Close()
}

// runMaintenance re-checks provider health and prunes idle sessions.
func (s *Service) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkProviderHealth(ctx); err != nil {
				s.log.Warn("Provider health check failed", "error", err)
			}
			if dropped := s.sessions.Prune(time.Now().Add(-sessionIdleTimeout)); dropped > 0 {
				s.log.Debug("Pruned idle sessions", "count", dropped)
			}
		}
	}
}

// Handler returns the status server mux.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/routes", s.handleRoutes)
	if s.metrics != nil {
		mux.Handle(s.metricsPath(), s.metrics.Handler())
	}

	return mux
}

func (s *Service) metricsPath() string {
	path := strings.TrimSpace(s.cfg.Metrics.Path)
	if path == "" {
		return defaultMetricsPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr, "metrics", s.metrics != nil)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

// handleRoutes lists the compiled top-level rules.
func (s *Service) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.router.Rules()); err != nil {
		s.log.Error("Failed to write routes response", "error", err)
	}
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		Router:           s.router.Name(),
		Rules:            len(s.router.Rules()),
		Sessions:         s.sessions.Len(),
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		Channels:         channels,
	}
}

// isReady requires a running channel and, when a health check is
// configured, a healthy provider.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.health == nil {
		return true
	}

	return !s.providerLastOKAt.IsZero() && s.providerLastErr == ""
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if s.health == nil {
		return nil
	}

	if err := s.health.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
