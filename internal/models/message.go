package models

import (
	"errors"
	"time"
)

// DeletedMessagePlaceholder replaces the content of a soft-deleted message
const DeletedMessagePlaceholder = "[Message deleted]"

var (
	ErrMessageTarget  = errors.New("message must have exactly one of channel id or recipient id")
	ErrMessageContent = errors.New("message content is empty")
	ErrMessageType    = errors.New("unknown message type")
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

type MessageAttachment struct {
	ID           string `json:"id"`
	FileName     string `json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	FileType     string `json:"fileType"`
	DownloadURL  string `json:"downloadURL"`
	ThumbnailURL string `json:"thumbnailURL,omitempty"`
}

type MessageReaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

type Message struct {
	ID          string              `json:"id"`
	Content     string              `json:"content"`
	AuthorID    string              `json:"authorId"`
	ChannelID   string              `json:"channelId,omitempty"`
	RecipientID string              `json:"recipientId,omitempty"`
	Type        MessageType         `json:"type"`
	Attachments []MessageAttachment `json:"attachments"`
	Reactions   []MessageReaction   `json:"reactions"`
	IsEdited    bool                `json:"isEdited"`
	EditedAt    *time.Time          `json:"editedAt,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

type CreateMessageRequest struct {
	Content     string              `json:"content"`
	ChannelID   string              `json:"channelId,omitempty"`
	RecipientID string              `json:"recipientId,omitempty"`
	Type        MessageType         `json:"type"`
	Attachments []MessageAttachment `json:"attachments,omitempty"`
}

// Validate checks that the request targets exactly one of a channel or a recipient.
// An empty type is accepted and treated as text.
func (r CreateMessageRequest) Validate() error {
	if (r.ChannelID == "") == (r.RecipientID == "") {
		return ErrMessageTarget
	}
	if r.Type != "" && !r.Type.Valid() {
		return ErrMessageType
	}
	if r.Content == "" && len(r.Attachments) == 0 {
		return ErrMessageContent
	}
	return nil
}

// MessageUpdate is a partial message update, nil fields are left untouched
type MessageUpdate struct {
	Content   *string
	IsEdited  *bool
	EditedAt  *time.Time
	Reactions []MessageReaction
}

// Apply returns a copy of m with the update applied and UpdatedAt set to now
func (up MessageUpdate) Apply(m Message, now time.Time) Message {
	m = m.Clone()
	if up.Content != nil {
		m.Content = *up.Content
	}
	if up.IsEdited != nil {
		m.IsEdited = *up.IsEdited
	}
	if up.EditedAt != nil {
		t := *up.EditedAt
		m.EditedAt = &t
	}
	if up.Reactions != nil {
		m.Reactions = cloneReactions(up.Reactions)
	}
	m.UpdatedAt = now
	return m
}

// Fields returns the document patch for the update including updatedAt
func (up MessageUpdate) Fields(now time.Time) map[string]interface{} {
	f := map[string]interface{}{"updatedAt": now}
	if up.Content != nil {
		f["content"] = *up.Content
	}
	if up.IsEdited != nil {
		f["isEdited"] = *up.IsEdited
	}
	if up.EditedAt != nil {
		f["editedAt"] = *up.EditedAt
	}
	if up.Reactions != nil {
		f["reactions"] = cloneReactions(up.Reactions)
	}
	return f
}

// IsDirect reports whether m is a direct message
func (m Message) IsDirect() bool {
	return m.RecipientID != ""
}

// Clone returns a deep copy of m
func (m Message) Clone() Message {
	if m.Attachments != nil {
		a := make([]MessageAttachment, len(m.Attachments))
		copy(a, m.Attachments)
		m.Attachments = a
	}
	m.Reactions = cloneReactions(m.Reactions)
	if m.EditedAt != nil {
		t := *m.EditedAt
		m.EditedAt = &t
	}
	return m
}

// ToggleReaction adds userID to the emoji reaction or removes it when already present.
// Reactions left without users are dropped.
func ToggleReaction(reactions []MessageReaction, emoji, userID string) []MessageReaction {
	out := make([]MessageReaction, 0, len(reactions)+1)
	found := false
	for _, r := range cloneReactions(reactions) {
		if r.Emoji != emoji {
			out = append(out, r)
			continue
		}
		found = true
		if contains(r.Users, userID) {
			users := r.Users[:0]
			for _, u := range r.Users {
				if u != userID {
					users = append(users, u)
				}
			}
			r.Users = users
		} else {
			r.Users = append(r.Users, userID)
		}
		r.Count = len(r.Users)
		if r.Count > 0 {
			out = append(out, r)
		}
	}
	if !found {
		out = append(out, MessageReaction{Emoji: emoji, Users: []string{userID}, Count: 1})
	}
	return out
}

func cloneReactions(rs []MessageReaction) []MessageReaction {
	if rs == nil {
		return []MessageReaction{}
	}
	out := make([]MessageReaction, len(rs))
	for i, r := range rs {
		r.Users = cloneStrings(r.Users)
		out[i] = r
	}
	return out
}
