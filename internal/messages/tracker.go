// Package messages tracks individual chat messages observed on the cloud
// notification stream, deduplicates them by message id, enriches them with
// their text asynchronously, and decides which ones get forwarded for
// content analysis.
package messages

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/craigcoenttec/assistbridge/internal/platform"
	"github.com/craigcoenttec/assistbridge/internal/types"
)

// TrackedMessage is one observed chat message. Text arrives after the
// initial tracking notification, once the lookup completes.
type TrackedMessage struct {
	MessageID          string
	ConversationID     string
	ParticipantID      string
	ParticipantName    string
	ParticipantPurpose string
	MessageTime        string
	MessageStatus      string
	MessageType        string
	MessageText        string
	TrackedAt          time.Time
}

// Callbacks fan tracker events out to the session owner. Nil funcs are
// skipped.
type Callbacks struct {
	// OnTracked fires when a message is first recorded and again when its
	// text arrives.
	OnTracked func(TrackedMessage)
	// Forward submits enriched text for content analysis against the local
	// assist conversation.
	Forward func(conversationID, text string, speaker types.Speaker)
	// Wrap closes out the local assist conversation after an agent
	// disconnect.
	Wrap func(conversationID string)
}

// Config wires a Tracker to its collaborators. The func fields are read on
// every ingest so toggles can change at runtime; nil funcs behave as
// "" / false.
type Config struct {
	Logger               *logrus.Entry
	Lookup               platform.TextLookup
	ActiveConversationID func() string
	Authenticated        func() bool
	AutoForward          func() bool
	FilterWorkflow       func() bool
	Callbacks            Callbacks
}

type Tracker struct {
	logger    *logrus.Entry
	lookup    platform.TextLookup
	activeID  func() string
	authed    func() bool
	forwardOn func() bool
	filterOn  func() bool
	callbacks Callbacks

	mu               sync.Mutex
	tracked          map[string]*TrackedMessage
	order            []string
	lastWorkflowTime map[string]time.Time

	wg sync.WaitGroup
}

func New(cfg Config) *Tracker {
	t := &Tracker{
		logger:           cfg.Logger,
		lookup:           cfg.Lookup,
		activeID:         cfg.ActiveConversationID,
		authed:           cfg.Authenticated,
		forwardOn:        cfg.AutoForward,
		filterOn:         cfg.FilterWorkflow,
		callbacks:        cfg.Callbacks,
		tracked:          make(map[string]*TrackedMessage),
		lastWorkflowTime: make(map[string]time.Time),
	}
	if t.logger == nil {
		logger := logrus.New()
		t.logger = logrus.NewEntry(logger)
	}
	if t.activeID == nil {
		t.activeID = func() string { return "" }
	}
	if t.authed == nil {
		t.authed = func() bool { return false }
	}
	if t.forwardOn == nil {
		t.forwardOn = func() bool { return false }
	}
	if t.filterOn == nil {
		t.filterOn = func() bool { return false }
	}
	return t
}

// Ingest processes one conversation-message notification. Duplicate message
// ids are no-ops. Text enrichment runs in the background; callers never block
// on the lookup.
func (t *Tracker) Ingest(ctx context.Context, conversationID string, participants []types.Participant) {
	if len(participants) == 0 {
		return
	}

	t.scanForAgentDisconnect(conversationID, participants)

	for _, participant := range participants {
		name := participant.Name
		if name == "" {
			name = "Unknown"
		}
		purpose := participant.Purpose
		if purpose == "" {
			purpose = "unknown"
		}

		for _, md := range participant.Messages {
			if md.Message == nil || md.Message.ID == "" {
				continue
			}
			t.ingestOne(ctx, conversationID, participant.ID, name, purpose, md)
		}
	}
}

func (t *Tracker) ingestOne(ctx context.Context, conversationID, participantID, participantName, purpose string, md types.ParticipantMessage) {
	messageID := md.Message.ID

	t.mu.Lock()
	if _, seen := t.tracked[messageID]; seen {
		t.mu.Unlock()
		return
	}

	if purpose == types.PurposeWorkflow {
		if at, ok := parseMessageTime(md.MessageTime); ok {
			current, has := t.lastWorkflowTime[conversationID]
			if !has || at.After(current) {
				t.lastWorkflowTime[conversationID] = at
				t.logger.WithFields(logrus.Fields{
					"conversation_id": conversationID,
					"message_time":    md.MessageTime,
				}).Debug("updated last workflow message time")
			}
		}
	}

	messageType := "unknown"
	if md.MessageMetadata != nil && md.MessageMetadata.Type != "" {
		messageType = md.MessageMetadata.Type
	}
	tm := &TrackedMessage{
		MessageID:          messageID,
		ConversationID:     conversationID,
		ParticipantID:      participantID,
		ParticipantName:    participantName,
		ParticipantPurpose: purpose,
		MessageTime:        md.MessageTime,
		MessageStatus:      md.MessageStatus,
		MessageType:        messageType,
		TrackedAt:          time.Now().UTC(),
	}
	t.tracked[messageID] = tm
	t.order = append(t.order, messageID)
	snapshot := *tm
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"message_id":  messageID,
		"participant": participantName,
		"purpose":     purpose,
	}).Info("new message tracked")

	if t.callbacks.OnTracked != nil {
		t.callbacks.OnTracked(snapshot)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.enrich(ctx, snapshot)
	}()
}

// enrich fetches the message text, re-notifies, and applies the forwarding
// decision. Lookup failures degrade to an error string in the text field and
// never abort the ingest.
func (t *Tracker) enrich(ctx context.Context, msg TrackedMessage) {
	text := t.fetchText(ctx, msg.ConversationID, msg.MessageID)

	t.mu.Lock()
	tm, ok := t.tracked[msg.MessageID]
	if !ok {
		// Cleared while the lookup was in flight.
		t.mu.Unlock()
		return
	}
	tm.MessageText = text
	snapshot := *tm
	hwm, hasHWM := t.lastWorkflowTime[msg.ConversationID]
	t.mu.Unlock()

	if t.callbacks.OnTracked != nil {
		t.callbacks.OnTracked(snapshot)
	}

	if !t.forwardOn() || strings.TrimSpace(text) == "" {
		return
	}
	active := t.activeID()
	if active == "" {
		return
	}

	if t.filterOn() {
		if msg.ParticipantPurpose == types.PurposeWorkflow {
			t.logger.WithField("message_id", msg.MessageID).Debug("skipping analysis of workflow message")
			return
		}
		if hasHWM {
			if at, parsed := parseMessageTime(msg.MessageTime); parsed && !at.After(hwm) {
				t.logger.WithFields(logrus.Fields{
					"message_id":   msg.MessageID,
					"message_time": msg.MessageTime,
				}).Debug("skipping analysis of message from workflow phase")
				return
			}
		}
	}

	speaker := types.SpeakerHumanAgent
	if msg.ParticipantPurpose == types.PurposeCustomer {
		speaker = types.SpeakerEndUser
	}
	if t.callbacks.Forward != nil {
		t.callbacks.Forward(active, text, speaker)
	}
}

func (t *Tracker) fetchText(ctx context.Context, conversationID, messageID string) string {
	if t.lookup == nil || !t.authed() {
		t.logger.WithField("message_id", messageID).Warn("cannot fetch message text: not authenticated")
		return "Not authenticated"
	}
	text, err := t.lookup.MessageText(ctx, conversationID, messageID)
	if err != nil {
		t.logger.WithError(err).WithField("message_id", messageID).Warn("message text lookup failed")
		return "Error: " + err.Error()
	}
	if strings.TrimSpace(text) == "" {
		return "No text content"
	}
	return text
}

// scanForAgentDisconnect triggers a wrap of the local assist conversation
// when the agent participant has left the messaging conversation.
func (t *Tracker) scanForAgentDisconnect(conversationID string, participants []types.Participant) {
	for _, p := range participants {
		if p.Purpose != types.PurposeAgent || p.State != types.StateDisconnected {
			continue
		}
		fields := logrus.Fields{
			"conversation_id": conversationID,
			"participant_id":  p.ID,
			"disconnect_type": p.DisconnectType,
		}
		active := t.activeID()
		if active == "" {
			t.logger.WithFields(fields).Warn("agent disconnected but no local conversation to wrap")
			continue
		}
		t.logger.WithFields(fields).Info("agent disconnected, wrapping conversation")
		if t.callbacks.Wrap != nil {
			t.callbacks.Wrap(active)
		}
	}
}

// Tracked returns all tracked messages in the order they were first seen.
func (t *Tracker) Tracked() []TrackedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedMessage, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.tracked[id])
	}
	return out
}

// LastWorkflowTime returns the workflow high-water mark for a conversation.
func (t *Tracker) LastWorkflowTime(conversationID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.lastWorkflowTime[conversationID]
	return at, ok
}

// Clear drops all tracked messages and workflow marks.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked = make(map[string]*TrackedMessage)
	t.order = nil
	t.lastWorkflowTime = make(map[string]time.Time)
}

func parseMessageTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}
