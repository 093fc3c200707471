// Package platform holds the cloud contact-center collaborators the bridge
// delegates to: authentication, the notification-channel API, and message
// text lookup. The bridge treats all of them as opaque external calls.
package platform

import "context"

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Channel struct {
	ID string `json:"id"`
}

// Auth resolves the current platform identity. Login failure is reported as a
// status string by the caller; it never crashes the bridge.
type Auth interface {
	Login(ctx context.Context) (User, error)
	CurrentUser(ctx context.Context) (User, error)
}

// NotificationAPI manages the server-side notification channel and its topic
// subscriptions.
type NotificationAPI interface {
	CreateChannel(ctx context.Context) (Channel, error)
	Subscribe(ctx context.Context, channelID string, topics []string) error
}

// TextLookup fetches the text body of a chat message. Lookup failures degrade
// to an error-describing string at the call site.
type TextLookup interface {
	MessageText(ctx context.Context, conversationID, messageID string) (string, error)
}

// Notification topic builders. Topic names are dot-delimited per the platform
// notification service.
func TranscriptionTopic(conversationID string) string {
	return "v2.conversations." + conversationID + ".transcription"
}

func UserCallsTopic(userID string) string {
	return "v2.users." + userID + ".conversations.calls"
}

func UserMessagesTopic(userID string) string {
	return "v2.users." + userID + ".conversations.messages"
}
