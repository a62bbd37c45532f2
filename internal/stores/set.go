package stores

import (
	"context"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

// Set is the composition root of the stores sharing one gateway
type Set struct {
	Auth           *AuthStore
	User           *UserStore
	Presence       *PresenceStore
	Channel        *ChannelStore
	ChannelMember  *ChannelMemberStore
	Message        *MessageStore
	ChannelMessage *ChannelMessageStore
	DirectMessage  *DirectMessageStore
}

// NewSet builds every store on docs and auth with the same options
func NewSet(logger *zap.SugaredLogger, docs gateway.Documents, auth gateway.Auth, opts ...Option) *Set {
	return &Set{
		Auth:           NewAuthStore(logger, auth, opts...),
		User:           NewUserStore(logger, docs, opts...),
		Presence:       NewPresenceStore(logger, docs, opts...),
		Channel:        NewChannelStore(logger, docs, opts...),
		ChannelMember:  NewChannelMemberStore(logger, docs, opts...),
		Message:        NewMessageStore(logger, docs, opts...),
		ChannelMessage: NewChannelMessageStore(logger, docs, opts...),
		DirectMessage:  NewDirectMessageStore(logger, docs, opts...),
	}
}

func (s *Set) Close() {
	s.Auth.Close()
}

// SendMessage sends the message and files it under its channel or conversation
func (s *Set) SendMessage(ctx context.Context, req models.CreateMessageRequest, authorID string) (models.Message, error) {
	m, err := s.Message.SendMessage(ctx, req, authorID)
	if err != nil {
		return m, err
	}
	if m.IsDirect() {
		s.DirectMessage.AddMessageToConversation(ConversationID(m.AuthorID, m.RecipientID), m)
	} else {
		s.ChannelMessage.AddMessageToChannel(m.ChannelID, m)
	}
	return m, nil
}

func (s *Set) EditMessage(ctx context.Context, id, content string) error {
	update, err := s.Message.UpdateMessage(ctx, id, content)
	if err != nil {
		return err
	}
	s.applyMessageUpdate(id, update)
	return nil
}

func (s *Set) DeleteMessage(ctx context.Context, id string) error {
	update, err := s.Message.DeleteMessage(ctx, id)
	if err != nil {
		return err
	}
	s.applyMessageUpdate(id, update)
	return nil
}

func (s *Set) ToggleReaction(ctx context.Context, id, emoji, userID string) error {
	update, err := s.Message.ToggleReaction(ctx, id, emoji, userID)
	if err != nil {
		return err
	}
	s.applyMessageUpdate(id, update)
	return nil
}

func (s *Set) applyMessageUpdate(id string, update models.MessageUpdate) {
	s.ChannelMessage.ApplyMessageUpdate(id, update)
	s.DirectMessage.ApplyMessageUpdate(id, update)
}
