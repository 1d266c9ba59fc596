package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/metrics"
)

type testServer struct {
	*httptest.Server
	registry *core.Registry
	metrics  *metrics.Metrics
	cfg      config.Config
}

// startTestServer runs the full router on an httptest server. mutate may adjust
// the default config before the server is built.
func startTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.PingInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	registry := core.NewRegistry(core.WithPruneEmptyRooms(cfg.PruneEmptyRooms))
	m := metrics.New(registry.Stats)

	server := NewServer(registry, m, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, registry: registry, metrics: m, cfg: cfg}
}

func (ts *testServer) wsURL(path string) string {
	return strings.Replace(ts.URL, "http", "ws", 1) + path
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// dial connects to path and waits until the session is registered in room.
func (ts *testServer) dial(t *testing.T, ctx context.Context, path, room string) *websocket.Conn {
	t.Helper()

	before := len(ts.registry.Members(room))
	conn, _, err := websocket.Dial(ctx, ts.wsURL(path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	require.Eventually(t, func() bool {
		return len(ts.registry.Members(room)) == before+1
	}, 2*time.Second, 5*time.Millisecond, "session did not join %s", room)
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
}

func readRaw(t *testing.T, ctx context.Context, conn *websocket.Conn) string {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return string(data)
}

func readJSON(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(readRaw(t, ctx, conn)), &out))
	return out
}
