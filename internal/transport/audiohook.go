package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/craigcoenttec/assistbridge/internal/types"
)

const audiohookPingInterval = 10 * time.Second

// AudiohookFrameParseError classifies frames whose payload was not valid
// JSON. Parse failures never tear down the connection.
const AudiohookFrameParseError = "parse_error"

// Audiohook relays live call audio transcription over a websocket. After the
// socket opens it binds the stream with an init frame and keeps the
// connection alive with a ping every ten seconds.
type Audiohook struct {
	logger *logrus.Entry
	sock   *socket

	onFrame func(types.AudiohookFrame)

	mu       sync.Mutex
	targetID string
	// fallbackTarget supplies the last-known contact-center conversation id
	// when no target was given at connect time.
	fallbackTarget func() string
}

func NewAudiohook(logger *logrus.Entry, onFrame func(types.AudiohookFrame), onStatus func(Status)) *Audiohook {
	a := &Audiohook{
		logger:  logger.WithField("adapter", "audiohook"),
		onFrame: onFrame,
	}
	a.sock = newSocket(a.logger, socketHooks{
		onOpen:       a.sendInit,
		onFrame:      a.handleFrame,
		onStatus:     onStatus,
		pingPayload:  func() any { return types.AudiohookPing{Ping: 1} },
		pingInterval: audiohookPingInterval,
	})
	return a
}

// SetFallbackTarget registers the source of the last-known conversation id
// used when Connect is called without one.
func (a *Audiohook) SetFallbackTarget(fn func() string) {
	a.mu.Lock()
	a.fallbackTarget = fn
	a.mu.Unlock()
}

// Connect dials the audiohook endpoint. targetConversationID may be empty;
// the init frame then falls back to the last-known conversation id.
func (a *Audiohook) Connect(endpoint, targetConversationID string) error {
	a.mu.Lock()
	a.targetID = targetConversationID
	a.mu.Unlock()

	a.logger.WithField("endpoint", endpoint).WithField("target_conversation_id", targetConversationID).Info("connecting audiohook")
	return a.sock.connect(endpoint)
}

func (a *Audiohook) Disconnect(manual bool) {
	a.sock.disconnect(manual)
}

func (a *Audiohook) IsConnected() bool {
	return a.sock.isConnected()
}

func (a *Audiohook) Send(v any) error {
	return a.sock.send(v)
}

func (a *Audiohook) sendInit(s *socket) {
	a.mu.Lock()
	target := a.targetID
	fallback := a.fallbackTarget
	a.mu.Unlock()

	if target == "" && fallback != nil {
		target = fallback()
	}
	if target == "" {
		a.logger.Info("no conversation id available for audiohook init")
		return
	}

	init := types.AudiohookInit{Type: types.AudiohookFrameInit, TargetConvID: target}
	if err := s.send(init); err != nil {
		a.logger.WithError(err).Warn("audiohook init frame failed")
	}
}

func (a *Audiohook) handleFrame(payload []byte) {
	var frame types.AudiohookFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		a.logger.WithError(err).Warn("failed to parse audiohook frame")
		if a.onFrame != nil {
			a.onFrame(types.AudiohookFrame{
				Type: AudiohookFrameParseError,
				Raw:  json.RawMessage(payload),
			})
		}
		return
	}
	frame.Raw = json.RawMessage(payload)

	if frame.IsPong() {
		a.logger.Debug("audiohook pong received")
		return
	}
	if a.onFrame != nil {
		a.onFrame(frame)
	}
}
