package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/visit-scheduler/internal/config"
	"github.com/JakeFAU/visit-scheduler/internal/publisher"
)

func testConfig(t *testing.T, seeds ...string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Fetch.RespectRobots = false
	cfg.Fetch.Timeout = 2 * time.Second
	cfg.Manager.Workers = 2
	cfg.Manager.AcquireTimeout = 50 * time.Millisecond
	cfg.Manager.ShutdownGrace = time.Second
	cfg.Manager.Poll.MinInterval = 10 * time.Millisecond
	cfg.Manager.Poll.MaxInterval = time.Second
	cfg.Manager.Poll.CheckInterval = 10 * time.Millisecond
	cfg.Publisher.Provider = config.ProviderMemory
	for _, s := range seeds {
		cfg.Poller.Seeds = append(cfg.Poller.Seeds, config.SeedConfig{URL: s, Priority: 1})
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestAppProcessesSeedsAndFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app, err := NewApp(context.Background(), testConfig(t, srv.URL+"/a", srv.URL+"/old"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(app.memory.Messages()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	statuses := map[string]int{}
	for _, msg := range app.memory.Messages() {
		ev, ok := msg.Payload.(publisher.Event)
		require.True(t, ok)
		require.Equal(t, "visits", msg.Topic)
		statuses[ev.URL] = ev.Status
	}
	require.Equal(t, map[string]int{
		srv.URL + "/a":   http.StatusOK,
		srv.URL + "/old": http.StatusFound,
		srv.URL + "/new": http.StatusOK,
	}, statuses)
}

func TestAppRegistersPipelineFilters(t *testing.T) {
	t.Parallel()

	app, err := NewApp(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer app.Close()

	require.Equal(t, []string{"pipeline", "fetch", "redirect", "publish"}, app.index.Names())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, "not ready before Run")
}

func TestAppInstallsTracerProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Telemetry.ServiceName = "scheduler-test"
	app, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, app.tracer)

	app.Close()
	require.Nil(t, app.tracer, "close shuts the provider down")
}

func TestNewAppRejectsBadSeed(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Poller.Seeds = []config.SeedConfig{{URL: "ftp://example.com/"}}
	_, err := NewApp(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "static poller")
}
