package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/ops"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
	"github.com/flowhawk/flowhawk/internal/telemetry"
)

func testServer(t *testing.T) (*Server, *bus.Bus, *ops.State) {
	t.Helper()
	events := bus.New()
	state := ops.NewState(events, "v1")
	repo := memory.NewRepository()
	srv := NewServer(config.MonitorConfig{Host: "127.0.0.1", Port: 0}, repo, state, telemetry.New(), events)
	return srv, events, state
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.AddProbe(HealthProbe{Name: "db", Ping: func(context.Context) error { return nil }})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Healthy)
	assert.Equal(t, "ok", resp.Checks["db"])
}

func TestHealthDegraded(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.AddProbe(HealthProbe{Name: "redis", Ping: func(context.Context) error {
		return errors.New("connection refused")
	}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	events := bus.New()
	state := ops.NewState(events, "v1")
	metrics := telemetry.New()
	metrics.SignalsEmitted.WithLabelValues("NEW_CORRIDOR").Inc()
	srv := NewServer(config.MonitorConfig{}, memory.NewRepository(), state, metrics, events)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flowhawk_signals_emitted_total")
}

func TestOpsEndpointExposesState(t *testing.T) {
	srv, _, state := testServer(t)
	state.SetDriftFlags([]string{"penalty_extreme"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ops", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp opsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ops.StatusOK, resp.State.Status)
	assert.Equal(t, []string{"penalty_extreme"}, resp.State.DriftFlags)
}

func TestAckClearsCriticalState(t *testing.T) {
	srv, _, state := testServer(t)
	correlationID := state.RaiseCritical("aggregate", "cursor regression detected")
	require.Equal(t, ops.StatusCritical, state.Snapshot().Status)

	require.NoError(t, srv.repo.SystemEvents.Insert(context.Background(), domain.SystemEvent{
		ID:            "ev-1",
		Level:         domain.EventCritical,
		Component:     "aggregate",
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}))

	body, _ := json.Marshal(ackRequest{EventID: "ev-1", CorrelationID: correlationID})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ops/ack", bytes.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ops.StatusOK, state.Snapshot().Status, "last ack returns the engine to OK")

	unacked, err := srv.repo.SystemEvents.ListUnackedCritical(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unacked)
}

func TestAckRejectsEmptyBody(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ops/ack", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebsocketReceivesBusEvents(t *testing.T) {
	srv, events, _ := testServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The hub attaches asynchronously after the upgrade.
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	events.Emit(bus.SignalNew, map[string]interface{}{"signal_id": "abc"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev bus.Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, bus.SignalNew, ev.Type)
	assert.Equal(t, "abc", ev.Payload["signal_id"])
}
