package transport

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/craigcoenttec/assistbridge/internal/types"
)

// NotificationSocket receives cloud platform notifications (call events,
// message events, transcription) on a per-channel streaming endpoint. The
// platform sends its own heartbeats, so no client keep-alive is needed.
type NotificationSocket struct {
	logger  *logrus.Entry
	sock    *socket
	onFrame func(types.NotificationFrame)
}

func NewNotificationSocket(logger *logrus.Entry, onFrame func(types.NotificationFrame), onStatus func(Status)) *NotificationSocket {
	n := &NotificationSocket{
		logger:  logger.WithField("adapter", "notifications"),
		onFrame: onFrame,
	}
	n.sock = newSocket(n.logger, socketHooks{
		onFrame:  n.handleFrame,
		onStatus: onStatus,
	})
	return n
}

// StreamingURL builds the notification streaming endpoint for a channel.
func StreamingURL(region, channelID string) string {
	return fmt.Sprintf("wss://streaming.%s/channels/%s", region, channelID)
}

func (n *NotificationSocket) Connect(endpoint string) error {
	n.logger.WithField("endpoint", endpoint).Info("connecting notification socket")
	return n.sock.connect(endpoint)
}

func (n *NotificationSocket) Disconnect(manual bool) {
	n.sock.disconnect(manual)
}

func (n *NotificationSocket) IsConnected() bool {
	return n.sock.isConnected()
}

func (n *NotificationSocket) Send(v any) error {
	return n.sock.send(v)
}

func (n *NotificationSocket) handleFrame(payload []byte) {
	var frame types.NotificationFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		n.logger.WithError(err).Warn("failed to parse notification frame")
		return
	}
	if n.onFrame != nil {
		n.onFrame(frame)
	}
}
