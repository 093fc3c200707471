package transport

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/craigcoenttec/assistbridge/internal/types"
)

// WildcardOrigin accepts envelopes from any origin.
const WildcardOrigin = "*"

// Panel is the duplex envelope channel to the assist panel. Inbound envelopes
// are validated against the configured target origin before they reach the
// router; outbound envelopes are stamped with timestamp and source.
type Panel struct {
	logger       *logrus.Entry
	sock         *socket
	targetOrigin string
	onEnvelope   func(types.Envelope)
}

func NewPanel(logger *logrus.Entry, targetOrigin string, onEnvelope func(types.Envelope), onStatus func(Status)) *Panel {
	p := &Panel{
		logger:       logger.WithField("adapter", "panel"),
		targetOrigin: targetOrigin,
		onEnvelope:   onEnvelope,
	}
	p.sock = newSocket(p.logger, socketHooks{
		onFrame:  p.handleFrame,
		onStatus: onStatus,
	})
	return p
}

func (p *Panel) Connect(endpoint string) error {
	p.logger.WithField("endpoint", endpoint).Info("connecting panel channel")
	return p.sock.connect(endpoint)
}

func (p *Panel) Disconnect(manual bool) {
	p.sock.disconnect(manual)
}

func (p *Panel) IsConnected() bool {
	return p.sock.isConnected()
}

// Send delivers one envelope to the panel, stamping bookkeeping fields the
// caller left empty.
func (p *Panel) Send(env types.Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = types.SourceParentWindow
	}
	return p.sock.send(env)
}

func (p *Panel) handleFrame(payload []byte) {
	var env types.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		p.logger.WithError(err).Warn("failed to parse panel envelope")
		return
	}
	if env.Topic == "" {
		p.logger.Info("ignoring non-structured panel message")
		return
	}
	if p.targetOrigin != WildcardOrigin && env.Origin != "" && env.Origin != p.targetOrigin {
		p.logger.WithField("origin", env.Origin).WithField("expected", p.targetOrigin).Warn("dropping envelope from unexpected origin")
		return
	}
	if p.onEnvelope != nil {
		p.onEnvelope(env)
	}
}
