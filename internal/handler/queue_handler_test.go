package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"biliticket/callqueue/internal/config"
	"biliticket/callqueue/pkg/auth"
	"biliticket/callqueue/pkg/queue"
	"biliticket/callqueue/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, cfg *config.Config, st store.Store, capacity int64) (*gin.Engine, *auth.Manager) {
	t.Helper()

	q, err := queue.New(st, queue.Config{Capacity: capacity, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.Close()
		_ = st.Close()
	})

	var authManager *auth.Manager
	if cfg.Auth.Enabled {
		authManager = auth.NewManager(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	}
	return SetupRouter(cfg, zap.NewNop(), authManager, NewQueueHandler(q)), authManager
}

func doRequest(r *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{}, store.NewMemoryStore(""), 1)

	w := doRequest(r, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestReserveUntilFull(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{}, store.NewMemoryStore(""), 2)

	for i := 0; i < 2; i++ {
		w := doRequest(r, http.MethodPost, "/api/v1/queue/reservations", "", "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(r, http.MethodPost, "/api/v1/queue/reservations", "", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	env := decodeEnvelope(t, w)
	require.Equal(t, 429, env.Code)
	require.Equal(t, "queue is full", env.Message)
}

func TestRequestLifecycle(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{}, store.NewMemoryStore(""), 2)

	w := doRequest(r, http.MethodPost, "/api/v1/queue/reservations", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPut, "/api/v1/queue/requests/req-1", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var st queue.Status
	w = doRequest(r, http.MethodGet, "/api/v1/queue/requests/req-1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &st))
	require.Equal(t, queue.StatePending, st.State)

	w = doRequest(r, http.MethodPost, "/api/v1/queue/requests/req-1/done", `{"response":"hello"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/queue/requests/req-1", "", "")
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &st))
	require.Equal(t, queue.StateDone, st.State)
	require.Equal(t, "hello", st.Response)

	// Completion released the slot.
	var stats queue.Stats
	w = doRequest(r, http.MethodGet, "/api/v1/queue/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &stats))
	require.EqualValues(t, 2, stats.Capacity)
	require.EqualValues(t, 0, stats.InFlight)
	require.False(t, stats.Full)

	var rm RemoveResponse
	w = doRequest(r, http.MethodDelete, "/api/v1/queue/requests/req-1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &rm))
	require.True(t, rm.Removed)

	w = doRequest(r, http.MethodGet, "/api/v1/queue/requests/req-1", "", "")
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &st))
	require.Equal(t, queue.StateAbsent, st.State)
}

func TestRemoveAbsent(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{}, store.NewMemoryStore(""), 1)

	var rm RemoveResponse
	w := doRequest(r, http.MethodDelete, "/api/v1/queue/requests/nope", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &rm))
	require.False(t, rm.Removed)
}

func TestMarkDoneRejectsBadBody(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{}, store.NewMemoryStore(""), 1)

	w := doRequest(r, http.MethodPost, "/api/v1/queue/requests/x/done", `{"response":`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServiceAuthGuard(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth = config.AuthConfig{
		Enabled:    true,
		SigningKey: "test-signing-key",
		Issuer:     "callqueue",
		TokenTTL:   time.Minute,
	}
	r, authManager := newTestRouter(t, cfg, store.NewMemoryStore(""), 1)

	w := doRequest(r, http.MethodPost, "/api/v1/queue/reservations", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/queue/reservations", "", "not-a-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Reads stay public.
	w = doRequest(r, http.MethodGet, "/api/v1/queue/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	token, err := authManager.GenerateServiceToken("worker-1")
	require.NoError(t, err)
	w = doRequest(r, http.MethodPost, "/api/v1/queue/reservations", "", token)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitCapsBurst(t *testing.T) {
	cfg := &config.Config{}
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0, Burst: 2}
	r, _ := newTestRouter(t, cfg, store.NewMemoryStore(""), 10)

	for i := 0; i < 2; i++ {
		w := doRequest(r, http.MethodGet, "/api/v1/queue/stats", "", "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(r, http.MethodGet, "/api/v1/queue/stats", "", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

var errStoreDown = errors.New("store down")

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }

func (failingStore) MGet(context.Context, ...string) ([][]byte, error) { return nil, errStoreDown }

func (failingStore) Delete(context.Context, string) (int64, error) { return 0, errStoreDown }

func (failingStore) IncrBy(context.Context, string, int64) (int64, error) {
	return 0, errStoreDown
}

func (failingStore) DecrByFloor(context.Context, string, int64) (int64, error) {
	return 0, errStoreDown
}

func (failingStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}

func (failingStore) Close() error { return nil }

func TestStoreOutageMapsTo503(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{}, failingStore{}, 1)

	w := doRequest(r, http.MethodPost, "/api/v1/queue/reservations", "", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/queue/requests/x", "", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/queue/stats", "", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
