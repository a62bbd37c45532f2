package models

const (
	EventMessageCreated  = "message:created"
	EventMessageUpdated  = "message:updated"
	EventPresenceOnline  = "presence:online"
	EventPresenceOffline = "presence:offline"
	EventAuthChanged     = "auth:changed"
)

// Event is a store change streamed to the UI. ChannelID is the topic: a channel id,
// a conversation id, or empty for session-wide events.
type Event struct {
	Type      string      `json:"type"`
	ChannelID string      `json:"channelId"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type PresenceData struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}
