package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/study-groups/quasar/internal/bridge"
	"github.com/study-groups/quasar/internal/config"
	"github.com/study-groups/quasar/internal/pulsar"
	"github.com/study-groups/quasar/internal/relay"
	"github.com/study-groups/quasar/internal/scores"
	"github.com/study-groups/quasar/internal/slots"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

// newTestServer wires a full relay stack behind a test HTTP server.
func newTestServer(t *testing.T, redis redisPinger) (*Server, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{Port: "0", MasterFPS: 15}
	clock := clockwork.NewRealClock()

	hub := relay.NewHub(relay.Options{Clock: clock, MasterFPS: cfg.MasterFPS})
	t.Cleanup(hub.Stop)

	engine := pulsar.NewEngine()
	slotMgr := slots.NewManager(engine, hub, clock)
	t.Cleanup(slotMgr.Stop)

	factory := bridge.NewFactory(slotMgr, t.TempDir(), t.TempDir(), nil, nil)
	hub.SetSpawner(factory)

	srv := NewServer(cfg, hub, slotMgr, factory, scores.NewMemoryStore(), redis)
	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)

	return srv, ts
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestServer_Liveness(t *testing.T) {
	_, ts := newTestServer(t, nil)

	code, body := getJSON(t, ts.URL+"/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadinessWithoutRedis(t *testing.T) {
	_, ts := newTestServer(t, nil)

	code, body := getJSON(t, ts.URL+"/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestServer_ReadinessWithFailingRedis(t *testing.T) {
	_, ts := newTestServer(t, failingPinger{})

	code, body := getJSON(t, ts.URL+"/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "redis", body["failed_check"])
}

func TestServer_Metrics(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StatsShape(t *testing.T) {
	_, ts := newTestServer(t, nil)

	code, body := getJSON(t, ts.URL+"/api/stats")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["viewers"])
	assert.Equal(t, float64(0), body["sources"])

	tick, ok := body["tick"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(15), tick["fps"])
	assert.Equal(t, false, tick["running"])
}

func TestServer_SetFpsValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/fps", "application/json", strings.NewReader(`{"fps":0}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/fps", "application/json", strings.NewReader(`{"fps":30}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, body := getJSON(t, ts.URL+"/api/stats")
	require.Equal(t, http.StatusOK, code)
	tick := body["tick"].(map[string]any)
	assert.Equal(t, float64(30), tick["fps"])
}

func TestServer_ScoresEndpoint(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	require.NoError(t, srv.scores.Record(context.Background(), "trax", "AAA", 99))

	code, body := getJSON(t, ts.URL+"/api/scores/trax")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "trax", body["game"])
	entries, ok := body["scores"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
}

func TestServer_SlotsEndpointReflectsSpawns(t *testing.T) {
	_, ts := newTestServer(t, nil)

	wsConn := dialWS(t, ts, "")
	readWS(t, wsConn) // sync

	require.NoError(t, wsConn.WriteJSON(map[string]any{"t": "bridge.spawn", "game": "pulsar", "channel": 4}))
	ready := readWS(t, wsConn)
	require.Equal(t, "bridge.ready", ready["t"])

	code, body := getJSON(t, ts.URL+"/api/slots")
	require.Equal(t, http.StatusOK, code)
	slotList, ok := body["slots"].([]any)
	require.True(t, ok)
	require.Len(t, slotList, 1)
	slot := slotList[0].(map[string]any)
	assert.Equal(t, float64(4), slot["index"])
	assert.Equal(t, float64(2), slot["sprites"])
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServer_WebSocketViewerGetsSync(t *testing.T) {
	_, ts := newTestServer(t, nil)

	conn := dialWS(t, ts, "")
	msg := readWS(t, conn)
	assert.Equal(t, "sync", msg["t"])
}

func TestServer_WebSocketSourceToViewerRelay(t *testing.T) {
	_, ts := newTestServer(t, nil)

	viewer := dialWS(t, ts, "")
	readWS(t, viewer) // sync

	source := dialWS(t, ts, "?role=game")
	require.NoError(t, source.WriteJSON(map[string]any{"t": "register", "gameType": "trax"}))
	require.NoError(t, source.WriteJSON(map[string]any{"t": "frame", "seq": 1, "display": "hello"}))

	frame := readWS(t, viewer)
	assert.Equal(t, "frame", frame["t"])
	assert.Equal(t, "hello", frame["display"])
}

func TestServer_WebSocketDisconnectUpdatesCounts(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	conn := dialWS(t, ts, "")
	readWS(t, conn)
	require.Eventually(t, func() bool {
		return srv.hub.Counts().Viewers == 1
	}, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return srv.hub.Counts().Viewers == 0
	}, time.Second, 5*time.Millisecond)
}
