package types

import (
	"encoding/json"
	"time"
)

// Topic discriminates envelopes exchanged with the assist panel.
type Topic string

// Outbound topics (bridge -> panel).
const (
	TopicAuthorize            Topic = "authorize"
	TopicJoinConversation     Topic = "join-conversation"
	TopicActivateConversation Topic = "activate-conversation"
	TopicLeaveConversation    Topic = "leave-conversation"
	TopicAnalyzeContent       Topic = "analyze-content"
	TopicWrapConversation     Topic = "wrap-conversation"
)

// Inbound topics (panel -> bridge).
const (
	TopicAuthorized         Topic = "authorized"
	TopicConversationJoined Topic = "conversation-joined"
	TopicConversationLeft   Topic = "conversation-left"
	TopicContentAnalyzed    Topic = "content-analyzed"
	TopicNewNotesReceived   Topic = "new-notes-received"
)

const SourceParentWindow = "parent-window"

// Envelope is the structured message exchanged over the assist channel.
// Success and Error are only present on responses.
type Envelope struct {
	Topic     Topic           `json:"topic"`
	Details   json.RawMessage `json:"details"`
	Success   *bool           `json:"success,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
	// Origin identifies the sender for validation against the configured
	// target origin.
	Origin string `json:"origin,omitempty"`
}

func (e Envelope) DecodeDetails(v any) error {
	if len(e.Details) == 0 {
		return nil
	}
	return json.Unmarshal(e.Details, v)
}

// Succeeded reports whether a response envelope carries success=true.
// Request envelopes have no success field and report false.
func (e Envelope) Succeeded() bool {
	return e.Success != nil && *e.Success
}

type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Speaker classifies who produced a piece of content for analysis.
type Speaker string

const (
	SpeakerEndUser    Speaker = "END_USER"
	SpeakerHumanAgent Speaker = "HUMAN_AGENT"
)

type AuthorizeDetails struct {
	RequestID      string `json:"requestId"`
	ClientID       string `json:"clientId"`
	OrganizationID string `json:"organizationId"`
}

type AuthorizedDetails struct {
	SSO struct {
		AccessToken string `json:"access_token"`
	} `json:"sso"`
}

type JoinConversationDetails struct {
	ContactCenterConversationID string `json:"contact_center_conversation_id"`
	ConversationProfileID       string `json:"conversation_profile_id"`
	ContactName                 string `json:"contact_name"`
	ContactEmail                string `json:"contact_email"`
	ContactPhone                string `json:"contact_phone"`
}

type ConversationJoinedDetails struct {
	Conversation struct {
		ID                          string `json:"id"`
		ContactCenterConversationID string `json:"contact_center_conversation_id"`
	} `json:"conversation"`
}

type ActivateConversationDetails struct {
	ConversationID string `json:"conversation_id"`
	RequestID      string `json:"requestId,omitempty"`
}

type LeaveConversationDetails struct {
	ConversationID string `json:"conversation_id"`
}

type WrapConversationDetails struct {
	ConversationID string `json:"conversation_id"`
}

type AnalyzeContentDetails struct {
	ConversationID  string    `json:"conversationId"`
	ParticipantType Speaker   `json:"participantType"`
	TextInput       TextInput `json:"textInput"`
}

type TextInput struct {
	Text string `json:"text"`
}
