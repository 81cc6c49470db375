package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/chanhub/internal/channel"
	"github.com/soyeahso/chanhub/internal/channel/channeltest"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/soyeahso/chanhub/internal/monitor"
	"github.com/soyeahso/chanhub/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv    *Server
	ts     *httptest.Server
	reg    *channel.Registry
	router *routing.Router
	fakes  map[string]*channeltest.Fake
}

func newFixture(t *testing.T, cfg config.GatewayConfig, start bool, names ...string) *fixture {
	t.Helper()
	rt := config.DefaultRuntime()
	rt.HealthTimeout = 200 * time.Millisecond
	reg := channel.NewRegistry(logging.Nop(), rt)
	fakes := make(map[string]*channeltest.Fake)
	for _, n := range names {
		f := channeltest.NewFake(n)
		fakes[n] = f
		require.NoError(t, reg.Register(f))
	}
	router := routing.NewRouter(reg, routing.EchoResponder{}, time.Second, logging.Nop())

	if start {
		send, _ := channel.NewInbox(-1)
		require.NoError(t, reg.StartAll(context.Background(), send))
		t.Cleanup(func() { reg.Shutdown(time.Second) })
	}

	srv := New(cfg, logging.Nop(), WithChannels(reg), WithRouter(router))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts, reg: reg, router: router, fakes: fakes}
}

func (f *fixture) get(t *testing.T, path, token string, into any) int {
	t.Helper()
	req, err := http.NewRequest("GET", f.ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestHealth_Running(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, true, "irc", "slack")

	var health HealthResponse
	code := f.get(t, "/health", "", &health)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "running", health.State)
	assert.Equal(t, 2, health.Channels)
	require.NotNil(t, health.Messages)
	assert.Zero(t, health.Messages.Received)
}

func TestHealth_NotRunning(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, false, "irc")

	var health HealthResponse
	code := f.get(t, "/health", "", &health)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "building", health.Status)
}

func TestHealth_TokenHidesDetails(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{Token: "s3cret"}, true, "irc")

	var public HealthResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/health", "", &public))
	assert.Equal(t, "ok", public.Status)
	assert.Empty(t, public.Version)
	assert.Nil(t, public.Messages)

	var full HealthResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/health", "s3cret", &full))
	assert.Equal(t, "running", full.State)
	assert.NotNil(t, full.Messages)
}

func TestChannels(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, true, "discord", "telegram")

	var resp ChannelsResponse
	require.Equal(t, http.StatusOK, f.get(t, "/channels", "", &resp))
	assert.Equal(t, "running", resp.State)
	require.Len(t, resp.Channels, 2)
	names := []string{resp.Channels[0].Name, resp.Channels[1].Name}
	assert.ElementsMatch(t, []string{"discord", "telegram"}, names)
	for _, st := range resp.Channels {
		assert.True(t, st.Enabled)
	}
}

func TestChannels_RequiresToken(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{Token: "s3cret"}, false, "irc")

	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/channels", "", nil))
	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/channels", "wrong", nil))
	assert.Equal(t, http.StatusOK, f.get(t, "/channels", "s3cret", nil))
}

func TestChannels_RateLimitsFailedAuth(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{Token: "s3cret"}, false, "irc")

	for i := 0; i < authRateMaxFails; i++ {
		assert.Equal(t, http.StatusUnauthorized, f.get(t, "/channels", "wrong", nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, f.get(t, "/channels", "s3cret", nil))
}

func TestChannelsHealth(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, false, "irc", "email")

	var resp ChannelsHealthResponse
	require.Equal(t, http.StatusOK, f.get(t, "/channels/health", "", &resp))
	assert.True(t, resp.Healthy)
	assert.Len(t, resp.Channels, 2)
	assert.False(t, resp.CheckedAt.IsZero())

	f.fakes["email"].Unhealthy = true
	resp = ChannelsHealthResponse{}
	require.Equal(t, http.StatusServiceUnavailable, f.get(t, "/channels/health", "", &resp))
	assert.False(t, resp.Healthy)
	for _, ch := range resp.Channels {
		assert.Equal(t, ch.Name == "irc", ch.Healthy, ch.Name)
	}
}

func TestChannelsHealth_HangingAdapterTimesOut(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, false, "irc", "qq")
	f.fakes["qq"].HealthDelay = 10 * time.Second

	start := time.Now()
	var resp ChannelsHealthResponse
	require.Equal(t, http.StatusServiceUnavailable, f.get(t, "/channels/health", "", &resp))
	assert.Less(t, time.Since(start), 5*time.Second)

	for _, ch := range resp.Channels {
		if ch.Name == "qq" {
			assert.False(t, ch.Healthy)
			assert.NotEmpty(t, ch.Error)
		}
	}
}

func TestChannelsHealth_Cached(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, false, "irc")
	mon, err := monitor.New(f.reg, "@every 1h", logging.Nop())
	require.NoError(t, err)
	f.srv.monitor = mon

	// nothing cached yet: falls back to a live probe
	var resp ChannelsHealthResponse
	require.Equal(t, http.StatusOK, f.get(t, "/channels/health?cached=1", "", &resp))
	assert.True(t, resp.Healthy)

	f.fakes["irc"].Unhealthy = true
	mon.RunOnce(context.Background())
	f.fakes["irc"].Unhealthy = false

	resp = ChannelsHealthResponse{}
	require.Equal(t, http.StatusServiceUnavailable, f.get(t, "/channels/health?cached=1", "", &resp))
	assert.False(t, resp.Healthy)

	resp = ChannelsHealthResponse{}
	require.Equal(t, http.StatusOK, f.get(t, "/channels/health", "", &resp))
	assert.True(t, resp.Healthy)
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, false)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/nonexistent", "", nil))
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		cfg  config.GatewayConfig
		want string
	}{
		{config.GatewayConfig{Port: 8080}, "127.0.0.1:8080"},
		{config.GatewayConfig{Port: 8080, Bind: "loopback"}, "127.0.0.1:8080"},
		{config.GatewayConfig{Port: 8080, Bind: "lan"}, "0.0.0.0:8080"},
		{config.GatewayConfig{Port: 8080, Bind: "custom"}, "0.0.0.0:8080"},
		{config.GatewayConfig{Port: 8080, Bind: "custom", CustomBindHost: "10.0.0.5"}, "10.0.0.5:8080"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.cfg.Bind, tt.cfg.CustomBindHost), func(t *testing.T) {
			assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
		})
	}
}

func TestStart_ServesUntilCancelled(t *testing.T) {
	srv := New(config.GatewayConfig{Port: 0}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStart_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := New(config.GatewayConfig{Port: port}, logging.Nop())
	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
