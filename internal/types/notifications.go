package types

import "encoding/json"

// Notification topic name fragments. The cloud platform delivers dot-delimited
// topic names; routing matches by substring, not exact topic.
const (
	TopicFragmentTranscription = "transcription"
	TopicFragmentCalls         = "conversations.calls"
	TopicFragmentMessages      = "conversations.messages"
)

const heartbeatMessage = "WebSocket Heartbeat"

// NotificationFrame is the outer frame delivered on the cloud notification
// socket. EventBody is decoded per topic.
type NotificationFrame struct {
	TopicName string          `json:"topicName"`
	EventBody json.RawMessage `json:"eventBody"`
}

// IsHeartbeat reports whether the frame is a channel keep-alive.
func (f NotificationFrame) IsHeartbeat() bool {
	var probe struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(f.EventBody, &probe); err != nil {
		return false
	}
	return probe.Message == heartbeatMessage
}

func (f NotificationFrame) DecodeEventBody(v any) error {
	if len(f.EventBody) == 0 {
		return nil
	}
	return json.Unmarshal(f.EventBody, v)
}

// TranscriptionEventBody carries live utterances and session status changes.
type TranscriptionEventBody struct {
	ConversationID string       `json:"conversationId"`
	EventTime      string       `json:"eventTime,omitempty"`
	Status         *StatusBody  `json:"status,omitempty"`
	Transcripts    []Transcript `json:"transcripts,omitempty"`
}

type StatusBody struct {
	Status string `json:"status"`
}

const SessionEnded = "SESSION_ENDED"

type Transcript struct {
	Channel      string                  `json:"channel"`
	Alternatives []TranscriptAlternative `json:"alternatives"`
}

type TranscriptAlternative struct {
	Text       string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Utterance returns the best transcript text, or "" when none is present.
func (t Transcript) Utterance() string {
	if len(t.Alternatives) == 0 {
		return ""
	}
	return t.Alternatives[0].Text
}

// ChannelExternal marks the customer side of a transcribed call.
const ChannelExternal = "EXTERNAL"

// SpeakerForChannel classifies a transcription channel.
func SpeakerForChannel(channel string) Speaker {
	if channel == ChannelExternal {
		return SpeakerEndUser
	}
	return SpeakerHumanAgent
}

// ConversationEventBody is the shape shared by call and message notifications:
// a conversation id plus a participant snapshot list.
type ConversationEventBody struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
}

type Participant struct {
	ID             string               `json:"id"`
	Name           string               `json:"name,omitempty"`
	Purpose        string               `json:"purpose,omitempty"`
	State          string               `json:"state,omitempty"`
	Direction      string               `json:"direction,omitempty"`
	Address        string               `json:"address,omitempty"`
	DisconnectType string               `json:"disconnectType,omitempty"`
	EndTime        string               `json:"endTime,omitempty"`
	StartAcwTime   string               `json:"startAcwTime,omitempty"`
	User           *ParticipantUser     `json:"user,omitempty"`
	Queue          *ParticipantQueue    `json:"queue,omitempty"`
	Messages       []ParticipantMessage `json:"messages,omitempty"`
}

type ParticipantUser struct {
	ID string `json:"id"`
}

type ParticipantQueue struct {
	ID string `json:"id"`
}

// Participant purposes observed on conversation events.
const (
	PurposeAgent    = "agent"
	PurposeUser     = "user"
	PurposeCustomer = "customer"
	PurposeWorkflow = "workflow"
)

const StateDisconnected = "disconnected"

type ParticipantMessage struct {
	Message         *MessageRef      `json:"message,omitempty"`
	MessageTime     string           `json:"messageTime,omitempty"`
	MessageStatus   string           `json:"messageStatus,omitempty"`
	MessageMetadata *MessageMetadata `json:"messageMetadata,omitempty"`
}

type MessageRef struct {
	ID string `json:"id"`
}

type MessageMetadata struct {
	Type string `json:"type"`
}

// FindByPurpose returns the first participant matching any of the purposes.
func FindByPurpose(participants []Participant, purposes ...string) (Participant, bool) {
	for _, p := range participants {
		for _, want := range purposes {
			if p.Purpose == want {
				return p, true
			}
		}
	}
	return Participant{}, false
}
