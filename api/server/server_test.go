package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/malbeclabs/bonds/api/store"
	bondstesting "github.com/malbeclabs/bonds/utils/pkg/testing"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type mockStore struct {
	pingErr error
}

func (m *mockStore) ListBonds(context.Context, int, int) ([]store.Bond, int, error) {
	return []store.Bond{}, 0, nil
}

func (m *mockStore) GetBond(context.Context, string) (*store.Bond, error) {
	return nil, store.ErrNotFound
}

func (m *mockStore) ListSettlements(context.Context, store.SettlementFilter, int, int) ([]store.Settlement, int, error) {
	return []store.Settlement{}, 0, nil
}

func (m *mockStore) SyncState(context.Context) (*store.SyncState, error) {
	return &store.SyncState{Epoch: 1}, nil
}

func (m *mockStore) Ping(context.Context) error { return m.pingErr }

type readiness struct{ ready atomic.Bool }

func (r *readiness) Ready() bool { return r.ready.Load() }

func newTestServer(t *testing.T, st *mockStore, ready *readiness, burst int) *Server {
	t.Helper()
	s, err := New(Config{
		Logger:     bondstesting.NewLogger(),
		ListenAddr: "127.0.0.1:0",
		Store:      st,
		Collector:  ready,
		RateLimit:  rate.Limit(1),
		RateBurst:  burst,
		VersionInfo: VersionInfo{
			Version: "test",
		},
	})
	require.NoError(t, err)
	return s
}

func serve(s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBonds_Server_Probes(t *testing.T) {
	t.Parallel()

	st := &mockStore{}
	ready := &readiness{}
	s := newTestServer(t, st, ready, 10)

	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/readyz", nil).Code)

	ready.ready.Store(true)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/readyz", nil).Code)

	st.pingErr = errors.New("down")
	require.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/readyz", nil).Code)

	rec := serve(s, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"version":"test"`)

	rec = serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "bonds_api_http_requests_total")
}

func TestBonds_Server_Routes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &mockStore{}, &readiness{}, 10)

	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/bonds", nil).Code)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/settlements?epoch=3", nil).Code)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/status", nil).Code)
	require.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/v1/unknown", nil).Code)
	require.Equal(t, http.StatusMethodNotAllowed, serve(s, http.MethodPost, "/v1/bonds", nil).Code)
}

func TestBonds_Server_CORS(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &mockStore{}, &readiness{}, 10)
	rec := serve(s, http.MethodGet, "/v1/bonds", http.Header{"Origin": {"https://example.com"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBonds_Server_RateLimitsAPI(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &mockStore{}, &readiness{}, 1)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/bonds", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, serve(s, http.MethodGet, "/v1/bonds", nil).Code)
	// Probes are not rate limited.
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code)
}

func TestBonds_Server_RunShutsDown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &mockStore{}, &readiness{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	cancel()
	require.NoError(t, <-errCh)
}
