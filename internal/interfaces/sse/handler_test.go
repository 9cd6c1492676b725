package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/logger"
)

type recordingConnection struct {
	id       string
	connType string
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	messages []*hub.Message
}

func newRecordingConnection(id, connType string) *recordingConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &recordingConnection{id: id, connType: connType, ctx: ctx, cancel: cancel}
}

func (r *recordingConnection) ID() string               { return r.id }
func (r *recordingConnection) Type() string             { return r.connType }
func (r *recordingConnection) Close() error             { r.cancel(); return nil }
func (r *recordingConnection) IsClosed() bool           { return r.ctx.Err() != nil }
func (r *recordingConnection) Context() context.Context { return r.ctx }
func (r *recordingConnection) Send(_ context.Context, m *hub.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func (r *recordingConnection) received() []*hub.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*hub.Message(nil), r.messages...)
}

func newTestRouter(t *testing.T, conns ...hub.Connection) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(logger.NewNopLogger())
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(context.Background()) })

	for _, c := range conns {
		require.NoError(t, h.RegisterConnection(c))
	}
	require.Eventually(t, func() bool { return h.ConnectionCount() == len(conns) }, time.Second, 5*time.Millisecond)

	router := gin.New()
	InitSSERouter(logger.NewNopLogger(), h, router.Group(""), time.Second)
	return router
}

func post(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func TestBroadcastMessageToEveryone(t *testing.T) {
	monitor := newRecordingConnection("monitor", "sse")
	peer := newRecordingConnection("peer", "websocket")
	router := newTestRouter(t, monitor, peer)

	rec := post(router, "/api/v1/sse/broadcast", `{"target":"status","arguments":["up"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "connections").Int())

	require.Eventually(t, func() bool {
		return len(monitor.received()) == 1 && len(peer.received()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"up"}, peer.received()[0].Arguments)
}

func TestBroadcastMessageToOneType(t *testing.T) {
	monitor := newRecordingConnection("monitor", "sse")
	peer := newRecordingConnection("peer", "websocket")
	router := newTestRouter(t, monitor, peer)

	rec := post(router, "/api/v1/sse/broadcast", `{"target":"status","arguments":["up"],"type":"sse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "connections").Int())

	require.Eventually(t, func() bool { return len(monitor.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "status", monitor.received()[0].Target)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, peer.received())
}

func TestBroadcastMessageRejectsBlankTarget(t *testing.T) {
	peer := newRecordingConnection("peer", "websocket")
	router := newTestRouter(t, peer)

	rec := post(router, "/api/v1/sse/broadcast", `{"target":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message target cannot be empty", gjson.Get(rec.Body.String(), "error").String())

	rec = post(router, "/api/v1/sse/send/peer", `{"target":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, peer.received())
}

func TestSendMessageToClient(t *testing.T) {
	peer := newRecordingConnection("peer", "websocket")
	router := newTestRouter(t, peer)

	rec := post(router, "/api/v1/sse/send/peer", `{"target":"ping","arguments":[1]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "peer", gjson.Get(rec.Body.String(), "client_id").String())
	require.Len(t, peer.received(), 1)
	assert.Equal(t, "ping", peer.received()[0].Target)

	rec = post(router, "/api/v1/sse/send/nobody", `{"target":"ping"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
