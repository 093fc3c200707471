package types

import "encoding/json"

// Audiohook frame types.
const (
	AudiohookFrameInit    = "init"
	AudiohookFrameMessage = "message"
)

// AudiohookInit is sent once after the socket opens to bind the stream to a
// contact-center conversation.
type AudiohookInit struct {
	Type         string `json:"type"`
	TargetConvID string `json:"targetConvId"`
}

// AudiohookPing is the keep-alive frame; the service answers with {"pong":...}.
type AudiohookPing struct {
	Ping int `json:"ping"`
}

// AudiohookFrame is the decoded form of an inbound audiohook frame. Frames
// are arbitrary JSON; only pong and message frames get special handling.
type AudiohookFrame struct {
	Type    string          `json:"type,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Content string          `json:"content,omitempty"`
	Pong    json.RawMessage `json:"pong,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

func (f AudiohookFrame) IsPong() bool {
	return len(f.Pong) > 0
}

// ChannelInternal marks the agent side of an audiohook stream.
const ChannelInternal = "internal"

// SpeakerForAudiohookChannel classifies an audiohook channel. The audiohook
// service labels the agent leg "internal"; everything else is the customer.
func SpeakerForAudiohookChannel(channel string) Speaker {
	if channel == ChannelInternal {
		return SpeakerHumanAgent
	}
	return SpeakerEndUser
}
