package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/craigcoenttec/assistbridge/internal/types"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// statusRecorder collects status transitions from an adapter under test.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *statusRecorder) snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func (r *statusRecorder) waitFor(t *testing.T, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, s := range r.snapshot() {
			if s.State == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status %v never observed in %v", Status{State: want}, r.snapshot())
}

func (r *statusRecorder) count(want State) int {
	n := 0
	for _, s := range r.snapshot() {
		if s.State == want {
			n++
		}
	}
	return n
}

var testUpgrader = websocket.Upgrader{}

// wsServer runs handler for every websocket connection and counts dials.
func wsServer(t *testing.T, handler func(conn *websocket.Conn)) (url string, dials *atomic.Int32, done func()) {
	t.Helper()
	count := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		count.Add(1)
		handler(conn)
	}))
	return "ws" + strings.TrimPrefix(srv.URL, "http"), count, srv.Close
}

func TestAudiohookSendsInitFrame(t *testing.T) {
	frames := make(chan []byte, 8)
	url, _, done := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- payload
		}
	})
	defer done()

	rec := &statusRecorder{}
	hook := NewAudiohook(testLogger(), nil, rec.record)
	require.NoError(t, hook.Connect(url, "conv-123"))
	defer hook.Disconnect(true)

	select {
	case payload := <-frames:
		var init types.AudiohookInit
		require.NoError(t, json.Unmarshal(payload, &init))
		require.Equal(t, types.AudiohookFrameInit, init.Type)
		require.Equal(t, "conv-123", init.TargetConvID)
	case <-time.After(2 * time.Second):
		t.Fatal("no init frame received")
	}
	require.True(t, hook.IsConnected())
}

func TestAudiohookInitFallsBackToLastKnownID(t *testing.T) {
	frames := make(chan []byte, 8)
	url, _, done := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- payload
		}
	})
	defer done()

	hook := NewAudiohook(testLogger(), nil, nil)
	hook.SetFallbackTarget(func() string { return "fallback-id" })
	require.NoError(t, hook.Connect(url, ""))
	defer hook.Disconnect(true)

	select {
	case payload := <-frames:
		var init types.AudiohookInit
		require.NoError(t, json.Unmarshal(payload, &init))
		require.Equal(t, "fallback-id", init.TargetConvID)
	case <-time.After(2 * time.Second):
		t.Fatal("no init frame received")
	}
}

func TestAudiohookParseErrorDoesNotDisconnect(t *testing.T) {
	url, _, done := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json at all {"))
		// Keep the connection open until the client walks away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer done()

	frames := make(chan types.AudiohookFrame, 8)
	hook := NewAudiohook(testLogger(), func(f types.AudiohookFrame) { frames <- f }, nil)
	require.NoError(t, hook.Connect(url, "conv-1"))
	defer hook.Disconnect(true)

	select {
	case frame := <-frames:
		require.Equal(t, AudiohookFrameParseError, frame.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no parse error frame surfaced")
	}
	require.True(t, hook.IsConnected())
}

func TestSendWhenNotConnectedIsNoop(t *testing.T) {
	hook := NewAudiohook(testLogger(), nil, nil)
	err := hook.Send(types.AudiohookPing{Ping: 1})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectBoundExactlyMaxAttempts(t *testing.T) {
	// An endpoint that refuses every dial: successive abnormal failures.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	rec := &statusRecorder{}
	hook := NewAudiohook(testLogger(), nil, rec.record)
	hook.sock.retryDelay = 5 * time.Millisecond

	require.Error(t, hook.Connect(url, ""))
	rec.waitFor(t, StateExhausted, 5*time.Second)

	require.Equal(t, DefaultMaxReconnectAttempts, rec.count(StateReconnecting),
		"expected exactly max reconnection attempts")
	require.Equal(t, 1, rec.count(StateExhausted))
}

func TestManualDisconnectSuppressesRetry(t *testing.T) {
	url, dials, done := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer done()

	rec := &statusRecorder{}
	hook := NewAudiohook(testLogger(), nil, rec.record)
	hook.sock.retryDelay = 5 * time.Millisecond

	require.NoError(t, hook.Connect(url, "conv-1"))
	rec.waitFor(t, StateConnected, 2*time.Second)

	hook.Disconnect(true)
	time.Sleep(100 * time.Millisecond)

	require.Zero(t, rec.count(StateReconnecting), "manual disconnect must not trigger reconnection")
	require.False(t, hook.IsConnected())
	require.EqualValues(t, 1, dials.Load())
}

func TestAbnormalCloseTriggersReconnect(t *testing.T) {
	var mu sync.Mutex
	first := true
	url, dials, done := wsServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		kill := first
		first = false
		mu.Unlock()
		if kill {
			// Drop the TCP connection without a close handshake.
			_ = conn.UnderlyingConn().Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer done()

	rec := &statusRecorder{}
	hook := NewAudiohook(testLogger(), nil, rec.record)
	hook.sock.retryDelay = 5 * time.Millisecond

	require.NoError(t, hook.Connect(url, "conv-1"))
	rec.waitFor(t, StateReconnecting, 2*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !hook.IsConnected() {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, hook.IsConnected(), "adapter should have reconnected")
	require.GreaterOrEqual(t, dials.Load(), int32(2))

	hook.Disconnect(true)
}

func TestNotificationSocketDeliversFrames(t *testing.T) {
	url, _, done := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		payload := `{"topicName":"v2.users.u1.conversations.calls","eventBody":{"id":"conv-9","participants":[]}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(payload))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer done()

	frames := make(chan types.NotificationFrame, 4)
	sock := NewNotificationSocket(testLogger(), func(f types.NotificationFrame) { frames <- f }, nil)
	require.NoError(t, sock.Connect(url))
	defer sock.Disconnect(true)

	select {
	case frame := <-frames:
		require.Contains(t, frame.TopicName, "conversations.calls")
		var body types.ConversationEventBody
		require.NoError(t, frame.DecodeEventBody(&body))
		require.Equal(t, "conv-9", body.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification frame received")
	}
}

func TestStreamingURL(t *testing.T) {
	require.Equal(t,
		"wss://streaming.mypurecloud.com/channels/chan-1",
		StreamingURL("mypurecloud.com", "chan-1"))
}

func TestStatusStrings(t *testing.T) {
	require.Equal(t, "Disconnected", Status{}.String())
	require.Equal(t, "Connecting...", Status{State: StateConnecting}.String())
	require.Equal(t, "Reconnecting... (2/5)", Status{State: StateReconnecting, Attempt: 2, Max: 5}.String())
	require.Equal(t, "Disconnected (Max retries exceeded)", Status{State: StateExhausted}.String())
}
