package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"miniroute/pkg/bus"
	"miniroute/pkg/channel"
	"miniroute/pkg/config"
	"miniroute/pkg/router"

	"github.com/stretchr/testify/require"
)

func pingRouter(t *testing.T) *router.Router {
	t.Helper()

	rt, err := router.New(router.WithName("ping")).
		Match("ping", func(*router.Run, router.Args) (any, error) { return "pong", nil }).
		Build()
	require.NoError(t, err)
	return rt
}

type idleAdapter struct{ name string }

func (a idleAdapter) Name() string { return a.name }

func (a idleAdapter) Run(ctx context.Context, _ channel.Handler) error {
	<-ctx.Done()
	return nil
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"telegram": {}}}
	if svc.isReady() {
		t.Fatal("expected not ready without a running channel")
	}

	svc.channelStates["telegram"] = channelState{Running: true}
	if !svc.isReady() {
		t.Fatal("expected ready with running channel and no provider")
	}

	svc.health = &toggledHealthProvider{}
	if svc.isReady() {
		t.Fatal("expected not ready before the first provider health check")
	}

	svc.providerLastOKAt = time.Now().UTC()
	if !svc.isReady() {
		t.Fatal("expected ready with running channel and healthy provider")
	}

	svc.providerLastErr = "boom"
	if svc.isReady() {
		t.Fatal("expected not ready when provider has error")
	}
}

func TestNewServiceValidatesInputs(t *testing.T) {
	t.Parallel()

	rt := pingRouter(t)
	adapters := []channel.Adapter{idleAdapter{name: "websocket"}}

	_, err := NewService(nil, rt, adapters, nil)
	require.Error(t, err)
	_, err = NewService(&config.Config{}, nil, adapters, nil)
	require.Error(t, err)
	_, err = NewService(&config.Config{}, rt, nil, nil)
	require.Error(t, err)
}

func TestHandlerServesRoutesAndMetrics(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Metrics: config.MetricsConfig{Enabled: true, Path: "stats"}}
	svc, err := NewService(cfg, pingRouter(t), []channel.Adapter{idleAdapter{name: "websocket"}}, nil)
	require.NoError(t, err)
	defer svc.shutdown()

	out, err := svc.sessions.Handle(context.Background(), bus.InboundMessage{Channel: "websocket", SessionKey: "s1", Content: "ping"})
	require.NoError(t, err)
	require.Equal(t, "pong", out.Content)

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/routes")
	require.NoError(t, err)
	var rules []router.RuleInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rules))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, []router.RuleInfo{{Index: 0, Condition: `"ping"`, Action: "handler"}}, rules)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body), `miniroute_router_dispatches_total{channel="websocket",status="matched"} 1`), string(body))

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "ping", status.Router)
	require.Equal(t, 1, status.Rules)
	require.Equal(t, 1, status.Sessions)
}

func TestMetricsDisabledByDefault(t *testing.T) {
	t.Parallel()

	svc, err := NewService(&config.Config{}, pingRouter(t), []channel.Adapter{idleAdapter{name: "websocket"}}, nil)
	require.NoError(t, err)
	defer svc.shutdown()

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
