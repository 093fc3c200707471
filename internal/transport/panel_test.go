package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/craigcoenttec/assistbridge/internal/types"
)

func TestPanelSendStampsEnvelope(t *testing.T) {
	frames := make(chan []byte, 4)
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

	panel := NewPanel(testLogger(), WildcardOrigin, nil, nil)
	require.NoError(t, panel.Connect(url))
	defer panel.Disconnect(true)

	details, _ := json.Marshal(types.ActivateConversationDetails{ConversationID: "C1"})
	require.NoError(t, panel.Send(types.Envelope{
		Topic:   types.TopicActivateConversation,
		Details: details,
	}))

	select {
	case payload := <-frames:
		var env types.Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		require.Equal(t, types.TopicActivateConversation, env.Topic)
		require.Equal(t, types.SourceParentWindow, env.Source)
		require.False(t, env.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
	}
}

func TestPanelOriginValidation(t *testing.T) {
	send := func(conn *websocket.Conn, env types.Envelope) {
		payload, _ := json.Marshal(env)
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
	url, _, done := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		send(conn, types.Envelope{Topic: types.TopicContentAnalyzed, Origin: "https://evil.example.com"})
		send(conn, types.Envelope{Topic: types.TopicContentAnalyzed, Origin: "https://assist.example.com"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer done()

	received := make(chan types.Envelope, 4)
	panel := NewPanel(testLogger(), "https://assist.example.com", func(env types.Envelope) { received <- env }, nil)
	require.NoError(t, panel.Connect(url))
	defer panel.Disconnect(true)

	select {
	case env := <-received:
		require.Equal(t, "https://assist.example.com", env.Origin, "mismatched origin must be dropped")
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
	}
	select {
	case env := <-received:
		t.Fatalf("unexpected second envelope: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}
