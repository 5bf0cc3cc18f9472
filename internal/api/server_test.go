package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/visit-scheduler/internal/filter"
	"github.com/JakeFAU/visit-scheduler/internal/manager"
	"github.com/JakeFAU/visit-scheduler/internal/queue"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

type fakeStatus struct {
	running bool
	poll    manager.PollStatus
}

func (f fakeStatus) Running() bool                  { return f.running }
func (f fakeStatus) PollStatus() manager.PollStatus { return f.poll }

type fakeIDGen struct{ n int }

func (f *fakeIDGen) NewID() (string, error) {
	f.n++
	return "order-" + string(rune('0'+f.n)), nil
}

func newTestQueue(t *testing.T) *queue.VisitQueue {
	t.Helper()
	q, err := queue.New(queue.Config{Defaults: queue.DefaultHostConfig})
	require.NoError(t, err)
	return q
}

func newTestServer(t *testing.T, q *queue.VisitQueue, status Status, cfg Config) *Server {
	t.Helper()
	idx := filter.NewIndex()
	require.NoError(t, idx.Register(filter.NewChain("pipeline", nil,
		filter.NewFunc("fetch", nil, "timeout=1s"),
	)))
	return NewServer(q, status, idx, &fakeIDGen{}, cfg, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	stopped := newTestServer(t, q, fakeStatus{}, Config{})
	rec := do(t, stopped, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Equal(t, http.StatusServiceUnavailable, do(t, stopped, http.MethodGet, "/readyz", "").Code)

	running := newTestServer(t, q, fakeStatus{running: true}, Config{})
	require.Equal(t, http.StatusOK, do(t, running, http.MethodGet, "/readyz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestQueue(t), nil, Config{})
	do(t, s, http.MethodGet, "/healthz", "")
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestSubmitOrdersAndInspectQueue(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestServer(t, q, fakeStatus{running: true, poll: manager.PollStatus{LastPoll: last, LastCount: 3}}, Config{})

	rec := do(t, s, http.MethodPost, "/v1/orders",
		`{"urls":["https://a.example.com/x","https://b.example.org/y"],"priority":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"ids":["order-1","order-2"]}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/v1/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp queueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Queue.Queued)
	require.Equal(t, 2, resp.Queue.Hosts)
	require.NotNil(t, resp.Poll)
	require.Equal(t, 3, resp.Poll.LastCount)

	order := q.TryAcquire()
	require.NotNil(t, order)
	require.Equal(t, visit.TypePage, order.Type)
	require.InDelta(t, 2.0, order.Priority, 1e-9)
}

func TestSubmitOrdersRejectsBadInput(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	s := newTestServer(t, q, nil, Config{})

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/orders", "{invalid").Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/orders", `{"urls":[]}`).Code)
	require.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodPost, "/v1/orders", `{"urls":["https://ok.com/","mailto:x@y"]}`).Code)
	require.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodPost, "/v1/orders", `{"urls":["https://ok.com/"],"type":"video"}`).Code)
	require.Zero(t, q.OrderCount(), "a bad batch must not queue anything")

	q.Close()
	require.Equal(t, http.StatusServiceUnavailable,
		do(t, s, http.MethodPost, "/v1/orders", `{"urls":["https://ok.com/"]}`).Code)
}

func TestConfigureHostAndListHosts(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	s := newTestServer(t, q, nil, Config{})

	rec := do(t, s, http.MethodPut, "/v1/hosts/example.com", `{"min_delay":"2s","max_access":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/v1/orders", `{"urls":["https://www.example.com/"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/hosts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Hosts []queue.HostSnapshot `json:"hosts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Hosts, 1)
	require.Equal(t, "example.com", resp.Hosts[0].Key)
	require.Equal(t, 2*time.Second, resp.Hosts[0].MinDelay)
	require.Equal(t, 3, resp.Hosts[0].MaxAccess)

	require.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodPut, "/v1/hosts/example.com", `{"max_access":0}`).Code)
	require.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodPut, "/v1/hosts/example.com", `{"min_delay":"soon","max_access":1}`).Code)
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestQueue(t), nil, Config{})
	rec := do(t, s, http.MethodGet, "/v1/filters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pipeline"`)
	require.Contains(t, rec.Body.String(), `"fetch"`)
	require.Contains(t, rec.Body.String(), "timeout=1s")
}

func TestAPIKeyRequired(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestQueue(t), nil, Config{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/v1/queue", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/queue?api_key=secret", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code, "probes stay open")
}
