// Package router is the single ingress for everything the bridge receives:
// envelopes from the assist panel, frames from the cloud notification socket,
// and utterances from the audiohook stream. It owns the session state (access
// token, current conversation ids, subscriptions) and drives the registry,
// the message tracker, and the outbound panel channel.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/craigcoenttec/assistbridge/internal/messages"
	"github.com/craigcoenttec/assistbridge/internal/platform"
	"github.com/craigcoenttec/assistbridge/internal/registry"
	"github.com/craigcoenttec/assistbridge/internal/transport"
	"github.com/craigcoenttec/assistbridge/internal/types"
)

const defaultQueueSize = 256

// PanelSender is the outbound half of the assist panel channel.
type PanelSender interface {
	Send(types.Envelope) error
}

// NotificationConn is the cloud notification socket as the router sees it.
type NotificationConn interface {
	Connect(endpoint string) error
	Disconnect(manual bool)
	IsConnected() bool
}

// CloudAPI bundles the platform collaborators the router needs.
type CloudAPI interface {
	platform.Auth
	platform.NotificationAPI
}

// Transcript is one classified utterance from the transcription stream.
type Transcript struct {
	Channel    string
	Speaker    types.Speaker
	Utterance  string
	Confidence float64
}

// Callbacks fan router events out to whoever is watching the session. All
// funcs are optional.
type Callbacks struct {
	// ConversationIDChanged fires with the new assist conversation id after a
	// join, and with "" after a leave.
	ConversationIDChanged func(conversationID string)
	Transcript            func(Transcript)
	ConversationEvent     func(conversationID, participantState string)
	MessageNotification   func(conversationID string)
	NotesReceived         func(details json.RawMessage)
	AuthStatusChanged     func(status string)
	AudiohookEvent        func(frame types.AudiohookFrame)
	// LogFrame receives notification frames whose topic matched nothing.
	LogFrame func(frame types.NotificationFrame)
}

// Settings are the runtime-mutable forwarding toggles.
type Settings struct {
	AutoForwardTranscription bool
	AutoForwardAudiohook     bool
	AutoForwardMessages      bool
	FilterWorkflowMessages   bool
	AutoHandleIncomingCalls  bool
}

// Config wires a Router to its collaborators.
type Config struct {
	Logger        *logrus.Entry
	Panel         PanelSender
	Notifications NotificationConn
	Cloud         CloudAPI
	Registry      *registry.Registry
	Tracker       *messages.Tracker
	// Region is the bare cloud domain used to build the streaming endpoint.
	Region    string
	Settings  Settings
	Callbacks Callbacks
	QueueSize int
}

type Router struct {
	logger        *logrus.Entry
	panel         PanelSender
	notifications NotificationConn
	cloud         CloudAPI
	registry      *registry.Registry
	tracker       *messages.Tracker
	region        string
	callbacks     Callbacks

	mu                sync.Mutex
	settings          Settings
	accessToken       string
	authenticated     bool
	userID            string
	currentID         string
	contactCenterID   string
	channelID         string
	subscribedTopics  map[string]struct{}
	transcriptionConv string
	callsUserID       string
	messagesUserID    string

	events chan func()
}

func New(cfg Config) *Router {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Router{
		logger:           logger,
		panel:            cfg.Panel,
		notifications:    cfg.Notifications,
		cloud:            cfg.Cloud,
		registry:         cfg.Registry,
		tracker:          cfg.Tracker,
		region:           cfg.Region,
		callbacks:        cfg.Callbacks,
		settings:         cfg.Settings,
		subscribedTopics: make(map[string]struct{}),
		events:           make(chan func(), queueSize),
	}
}

// Run processes queued events one at a time until the context is cancelled.
// All state mutation driven by inbound traffic happens on this goroutine.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-r.events:
			fn()
		}
	}
}

func (r *Router) enqueue(fn func()) {
	select {
	case r.events <- fn:
	default:
		r.logger.Warn("event queue full, dropping inbound event")
	}
}

// HandleEnvelope queues an assist panel envelope for processing. Safe to call
// from the panel read loop.
func (r *Router) HandleEnvelope(ctx context.Context, env types.Envelope) {
	r.enqueue(func() { r.processEnvelope(ctx, env) })
}

// HandleNotification queues a cloud notification frame for processing.
func (r *Router) HandleNotification(ctx context.Context, frame types.NotificationFrame) {
	r.enqueue(func() { r.processNotification(ctx, frame) })
}

// HandleAudiohookFrame queues an audiohook frame for processing.
func (r *Router) HandleAudiohookFrame(frame types.AudiohookFrame) {
	r.enqueue(func() { r.processAudiohookFrame(frame) })
}

// ---- session accessors ----

func (r *Router) Authenticated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authenticated
}

func (r *Router) AccessToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accessToken
}

// CurrentConversationID returns the assist conversation id of the joined
// conversation, or "" when none is active.
func (r *Router) CurrentConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentID
}

func (r *Router) ContactCenterConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contactCenterID
}

func (r *Router) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

func (r *Router) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

func (r *Router) SetSettings(s Settings) {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{
		"auto_forward_transcription": s.AutoForwardTranscription,
		"auto_forward_audiohook":     s.AutoForwardAudiohook,
		"auto_forward_messages":      s.AutoForwardMessages,
		"filter_workflow_messages":   s.FilterWorkflowMessages,
		"auto_handle_incoming_calls": s.AutoHandleIncomingCalls,
	}).Info("settings updated")
}

// ---- authentication ----

// Login proves the configured token against the platform and records the
// resulting user. Failure leaves the session unauthenticated and reports a
// status string rather than propagating.
func (r *Router) Login(ctx context.Context) error {
	if r.cloud == nil {
		return fmt.Errorf("no cloud api configured")
	}
	r.authStatus("Authenticating...")
	user, err := r.cloud.Login(ctx)
	if err != nil {
		r.mu.Lock()
		r.authenticated = false
		r.mu.Unlock()
		r.authStatus("Authentication Failed")
		return fmt.Errorf("cloud login: %w", err)
	}
	r.mu.Lock()
	r.authenticated = true
	r.userID = user.ID
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{"user_id": user.ID, "user_name": user.Name}).Info("cloud authentication successful")
	r.authStatus("Authenticated as " + user.Name)
	return nil
}

func (r *Router) authStatus(status string) {
	if r.callbacks.AuthStatusChanged != nil {
		r.callbacks.AuthStatusChanged(status)
	}
}

// ---- outbound panel operations ----

// Authorize requests authorization from the assist panel.
func (r *Router) Authorize(clientID, organizationID string) {
	r.sendToPanel(types.TopicAuthorize, types.AuthorizeDetails{
		RequestID:      "auth-" + uuid.NewString(),
		ClientID:       clientID,
		OrganizationID: organizationID,
	})
}

func (r *Router) JoinConversation(conversationID, profileID, contactName, contactEmail, contactPhone string) {
	r.sendToPanel(types.TopicJoinConversation, types.JoinConversationDetails{
		ContactCenterConversationID: conversationID,
		ConversationProfileID:       profileID,
		ContactName:                 contactName,
		ContactEmail:                contactEmail,
		ContactPhone:                contactPhone,
	})
}

func (r *Router) ActivateConversation(conversationID string) {
	r.sendToPanel(types.TopicActivateConversation, types.ActivateConversationDetails{
		ConversationID: conversationID,
		RequestID:      "activate-" + uuid.NewString(),
	})
}

func (r *Router) LeaveConversation(conversationID string) {
	r.sendToPanel(types.TopicLeaveConversation, types.LeaveConversationDetails{
		ConversationID: conversationID,
	})
}

func (r *Router) AnalyzeContent(conversationID, text string, speaker types.Speaker) {
	r.sendToPanel(types.TopicAnalyzeContent, types.AnalyzeContentDetails{
		ConversationID:  conversationID,
		ParticipantType: speaker,
		TextInput:       types.TextInput{Text: text},
	})
}

func (r *Router) WrapConversation(conversationID string) {
	r.sendToPanel(types.TopicWrapConversation, types.WrapConversationDetails{
		ConversationID: conversationID,
	})
}

// sendToPanel is fire-and-forget: a send failure is logged, never returned.
func (r *Router) sendToPanel(topic types.Topic, details any) {
	if r.panel == nil {
		r.logger.WithField("topic", topic).Warn("no panel channel, dropping outbound envelope")
		return
	}
	payload, err := json.Marshal(details)
	if err != nil {
		r.logger.WithError(err).WithField("topic", topic).Warn("marshal envelope details")
		return
	}
	env := types.Envelope{Topic: topic, Details: payload}
	if err := r.panel.Send(env); err != nil {
		r.logger.WithError(err).WithField("topic", topic).Warn("panel send failed")
	}
}

// ---- inbound envelope dispatch ----

func (r *Router) processEnvelope(ctx context.Context, env types.Envelope) {
	switch env.Topic {
	case types.TopicAuthorized:
		r.handleAuthorized(env)
	case types.TopicConversationJoined:
		r.handleConversationJoined(env)
	case types.TopicConversationLeft:
		r.handleConversationLeft(env)
	case types.TopicContentAnalyzed:
		r.handleContentAnalyzed(env)
	case types.TopicNewNotesReceived:
		r.handleNewNotesReceived(env)
	default:
		r.logger.WithField("topic", env.Topic).Info("unknown envelope topic, dropping")
	}
}

func (r *Router) handleAuthorized(env types.Envelope) {
	if !env.Succeeded() {
		r.logger.WithField("error", env.Error).Warn("authorization failed")
		return
	}
	var details types.AuthorizedDetails
	if err := env.DecodeDetails(&details); err != nil {
		r.logger.WithError(err).Warn("decode authorized details")
		return
	}
	if details.SSO.AccessToken == "" {
		r.logger.Warn("authorized response carried no access token")
		return
	}
	r.mu.Lock()
	r.accessToken = details.SSO.AccessToken
	r.mu.Unlock()
	r.logger.Info("access token received and stored")
}

func (r *Router) handleConversationJoined(env types.Envelope) {
	if !env.Succeeded() {
		r.logger.WithField("error", env.Error).Warn("conversation join failed")
		return
	}
	var details types.ConversationJoinedDetails
	if err := env.DecodeDetails(&details); err != nil {
		r.logger.WithError(err).Warn("decode conversation-joined details")
		return
	}
	if details.Conversation.ID == "" {
		r.logger.Warn("conversation-joined response carried no conversation")
		return
	}

	r.mu.Lock()
	r.currentID = details.Conversation.ID
	r.contactCenterID = details.Conversation.ContactCenterConversationID
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"conversation_id":   details.Conversation.ID,
		"contact_center_id": details.Conversation.ContactCenterConversationID,
	}).Info("joined conversation")

	if r.registry != nil {
		if activeID := r.registry.ActiveID(); activeID != "" {
			r.registry.Associate(activeID, details.Conversation.ID)
		} else {
			r.logger.WithField("conversation_id", details.Conversation.ID).
				Warn("no active tracked conversation to associate")
		}
	}

	if r.callbacks.ConversationIDChanged != nil {
		r.callbacks.ConversationIDChanged(details.Conversation.ID)
	}

	r.ActivateConversation(details.Conversation.ID)
}

func (r *Router) handleConversationLeft(env types.Envelope) {
	if !env.Succeeded() {
		r.logger.WithField("error", env.Error).Warn("conversation leave failed")
		return
	}

	r.mu.Lock()
	leftID := r.currentID
	r.currentID = ""
	r.contactCenterID = ""
	r.mu.Unlock()

	if leftID != "" && r.registry != nil {
		if conv, ok := r.registry.FindByAssistID(leftID); ok {
			r.registry.Dissociate(conv.ID)
		}
	}

	if r.callbacks.ConversationIDChanged != nil {
		r.callbacks.ConversationIDChanged("")
	}
	r.logger.WithField("conversation_id", leftID).Info("left conversation")
}

func (r *Router) handleContentAnalyzed(env types.Envelope) {
	if !env.Succeeded() {
		r.logger.WithField("error", env.Error).Warn("content analysis failed")
		return
	}
	r.logger.Debug("content analysis completed")
}

func (r *Router) handleNewNotesReceived(env types.Envelope) {
	if !env.Succeeded() {
		r.logger.WithField("error", env.Error).Warn("notes delivery failed")
		return
	}
	if r.callbacks.NotesReceived != nil {
		r.callbacks.NotesReceived(env.Details)
	}
}

// ---- inbound notification dispatch ----

func (r *Router) processNotification(ctx context.Context, frame types.NotificationFrame) {
	if frame.IsHeartbeat() {
		r.logger.Debug("notification heartbeat")
		return
	}

	switch {
	case strings.Contains(frame.TopicName, types.TopicFragmentTranscription):
		r.handleTranscriptionNotification(frame)
	case strings.Contains(frame.TopicName, types.TopicFragmentCalls):
		r.handleCallNotification(frame)
	case strings.Contains(frame.TopicName, types.TopicFragmentMessages):
		r.handleMessageNotification(ctx, frame)
	default:
		if r.callbacks.LogFrame != nil {
			r.callbacks.LogFrame(frame)
		}
	}
}

func (r *Router) handleTranscriptionNotification(frame types.NotificationFrame) {
	var body types.TranscriptionEventBody
	if err := frame.DecodeEventBody(&body); err != nil {
		r.logger.WithError(err).Warn("decode transcription event")
		return
	}

	if body.Status != nil && body.Status.Status == types.SessionEnded {
		r.logger.WithField("conversation_id", body.ConversationID).Info("transcription session ended")
		if current := r.CurrentConversationID(); current != "" {
			r.WrapConversation(current)
		}
	}

	if len(body.Transcripts) == 0 {
		return
	}
	transcript := body.Transcripts[0]
	utterance := transcript.Utterance()
	if strings.TrimSpace(utterance) == "" {
		return
	}
	speaker := types.SpeakerForChannel(transcript.Channel)

	if r.Settings().AutoForwardTranscription {
		if current := r.CurrentConversationID(); current != "" {
			r.AnalyzeContent(current, utterance, speaker)
		}
	}

	if r.callbacks.Transcript != nil {
		confidence := 0.0
		if len(transcript.Alternatives) > 0 {
			confidence = transcript.Alternatives[0].Confidence
		}
		r.callbacks.Transcript(Transcript{
			Channel:    transcript.Channel,
			Speaker:    speaker,
			Utterance:  utterance,
			Confidence: confidence,
		})
	}
}

func (r *Router) handleCallNotification(frame types.NotificationFrame) {
	var body types.ConversationEventBody
	if err := frame.DecodeEventBody(&body); err != nil {
		r.logger.WithError(err).Warn("decode call notification")
		return
	}

	state := ""
	if agent, ok := types.FindByPurpose(body.Participants, types.PurposeAgent, types.PurposeUser); ok {
		state = agent.State
		if r.registry != nil {
			r.registry.Upsert(body.ID, state, body.Participants)
		}
	}

	if r.callbacks.ConversationEvent != nil {
		r.callbacks.ConversationEvent(body.ID, state)
	}
}

func (r *Router) handleMessageNotification(ctx context.Context, frame types.NotificationFrame) {
	var body types.ConversationEventBody
	if err := frame.DecodeEventBody(&body); err != nil {
		r.logger.WithError(err).Warn("decode message notification")
		return
	}
	if r.tracker != nil {
		r.tracker.Ingest(ctx, body.ID, body.Participants)
	}
	if r.callbacks.MessageNotification != nil {
		r.callbacks.MessageNotification(body.ID)
	}
}

func (r *Router) processAudiohookFrame(frame types.AudiohookFrame) {
	if r.callbacks.AudiohookEvent != nil {
		r.callbacks.AudiohookEvent(frame)
	}
	if frame.Type != types.AudiohookFrameMessage || strings.TrimSpace(frame.Content) == "" {
		return
	}
	if !r.Settings().AutoForwardAudiohook {
		return
	}
	current := r.CurrentConversationID()
	if current == "" {
		return
	}
	r.AnalyzeContent(current, frame.Content, types.SpeakerForAudiohookChannel(frame.Channel))
}

// ---- notification channel subscriptions ----

// ConnectTranscription subscribes to live transcription for a platform
// conversation, creating the notification channel and socket on first use.
func (r *Router) ConnectTranscription(ctx context.Context, conversationID string) error {
	if !r.Authenticated() {
		return fmt.Errorf("connect transcription: not authenticated")
	}
	r.mu.Lock()
	r.transcriptionConv = conversationID
	r.mu.Unlock()

	if err := r.subscribe(ctx, platform.TranscriptionTopic(conversationID)); err != nil {
		return fmt.Errorf("connect transcription: %w", err)
	}
	r.logger.WithField("conversation_id", conversationID).Info("transcription connected")
	return nil
}

// DisconnectTranscription drops the transcription subscription and closes the
// socket when nothing else is subscribed.
func (r *Router) DisconnectTranscription() {
	r.mu.Lock()
	conversationID := r.transcriptionConv
	r.transcriptionConv = ""
	r.mu.Unlock()
	if conversationID != "" {
		r.unsubscribe(platform.TranscriptionTopic(conversationID))
	}
	r.closeSocketIfIdle()
}

// ConnectCallNotifications subscribes to call state events for a user.
func (r *Router) ConnectCallNotifications(ctx context.Context, userID string) error {
	if !r.Authenticated() {
		return fmt.Errorf("connect call notifications: not authenticated")
	}
	r.mu.Lock()
	r.callsUserID = userID
	r.mu.Unlock()

	if err := r.subscribe(ctx, platform.UserCallsTopic(userID)); err != nil {
		return fmt.Errorf("connect call notifications: %w", err)
	}
	r.logger.WithField("user_id", userID).Info("call notifications connected")
	return nil
}

func (r *Router) DisconnectCallNotifications() {
	r.mu.Lock()
	userID := r.callsUserID
	r.callsUserID = ""
	r.mu.Unlock()
	if userID != "" {
		r.unsubscribe(platform.UserCallsTopic(userID))
	}
	r.closeSocketIfIdle()
}

// ConnectMessageNotifications subscribes to chat message events for a user.
func (r *Router) ConnectMessageNotifications(ctx context.Context, userID string) error {
	if !r.Authenticated() {
		return fmt.Errorf("connect message notifications: not authenticated")
	}
	r.mu.Lock()
	r.messagesUserID = userID
	r.mu.Unlock()

	if err := r.subscribe(ctx, platform.UserMessagesTopic(userID)); err != nil {
		return fmt.Errorf("connect message notifications: %w", err)
	}
	r.logger.WithField("user_id", userID).Info("message notifications connected")
	return nil
}

func (r *Router) DisconnectMessageNotifications() {
	r.mu.Lock()
	userID := r.messagesUserID
	r.messagesUserID = ""
	r.mu.Unlock()
	if userID != "" {
		r.unsubscribe(platform.UserMessagesTopic(userID))
	}
	r.closeSocketIfIdle()
}

// subscribe ensures the channel and socket exist, then registers the topic.
// Already-subscribed topics are no-ops.
func (r *Router) subscribe(ctx context.Context, topic string) error {
	r.mu.Lock()
	_, already := r.subscribedTopics[topic]
	r.mu.Unlock()
	if already {
		r.logger.WithField("topic", topic).Debug("already subscribed")
		return nil
	}

	channelID, err := r.ensureChannel(ctx)
	if err != nil {
		return err
	}
	if err := r.cloud.Subscribe(ctx, channelID, []string{topic}); err != nil {
		return fmt.Errorf("subscribe topic %s: %w", topic, err)
	}
	r.mu.Lock()
	r.subscribedTopics[topic] = struct{}{}
	r.mu.Unlock()
	r.logger.WithField("topic", topic).Info("subscribed to topic")

	return r.ensureSocket(channelID)
}

// unsubscribe only drops local tracking. The platform expires topics that are
// not renewed.
func (r *Router) unsubscribe(topic string) {
	r.mu.Lock()
	delete(r.subscribedTopics, topic)
	r.mu.Unlock()
	r.logger.WithField("topic", topic).Info("unsubscribed from topic")
}

func (r *Router) ensureChannel(ctx context.Context) (string, error) {
	r.mu.Lock()
	channelID := r.channelID
	r.mu.Unlock()
	if channelID != "" {
		return channelID, nil
	}
	channel, err := r.cloud.CreateChannel(ctx)
	if err != nil {
		return "", fmt.Errorf("create notification channel: %w", err)
	}
	r.mu.Lock()
	r.channelID = channel.ID
	r.mu.Unlock()
	r.logger.WithField("channel_id", channel.ID).Info("created notification channel")
	return channel.ID, nil
}

func (r *Router) ensureSocket(channelID string) error {
	if r.notifications == nil || r.notifications.IsConnected() {
		return nil
	}
	endpoint := transport.StreamingURL(r.region, channelID)
	if err := r.notifications.Connect(endpoint); err != nil {
		return fmt.Errorf("connect notification socket: %w", err)
	}
	return nil
}

func (r *Router) closeSocketIfIdle() {
	r.mu.Lock()
	remaining := len(r.subscribedTopics)
	r.mu.Unlock()
	if remaining > 0 || r.notifications == nil || !r.notifications.IsConnected() {
		return
	}
	r.logger.Info("no remaining subscriptions, closing notification socket")
	r.notifications.Disconnect(true)
}

// SubscribedTopics returns the locally tracked topic set.
func (r *Router) SubscribedTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subscribedTopics))
	for topic := range r.subscribedTopics {
		out = append(out, topic)
	}
	return out
}
