package stores

import (
	"context"
	"time"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

type MessageState struct {
	// Messages is ordered newest first
	Messages        []models.Message `json:"messages"`
	SelectedMessage *models.Message  `json:"selectedMessage"`
	CommandState
}

// MessageStore writes messages. Edits and soft deletes return the update that was
// persisted so the channel and conversation buckets can apply the same change.
type MessageStore struct {
	base
	docs  gateway.Documents
	state MessageState
}

func NewMessageStore(logger *zap.SugaredLogger, docs gateway.Documents, opts ...Option) *MessageStore {
	s := &MessageStore{
		docs:  docs,
		state: MessageState{Messages: []models.Message{}},
	}
	s.init("message", logger, opts)
	return s
}

// State returns a snapshot of the store state
func (s *MessageStore) State() MessageState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Messages = cloneMessages(s.state.Messages)
	if st.SelectedMessage != nil {
		m := st.SelectedMessage.Clone()
		st.SelectedMessage = &m
	}
	return st
}

func (s *MessageStore) SendMessage(ctx context.Context, req models.CreateMessageRequest, authorID string) (models.Message, error) {
	s.logger.Debugf("Sending message from user (%s)", authorID)

	s.begin(&s.state.CommandState)
	if err := req.Validate(); err != nil {
		return models.Message{}, s.fail(&s.state.CommandState, "sendMessage", err, "Failed to send message")
	}

	now := s.now()
	m := models.Message{
		Content:     req.Content,
		AuthorID:    authorID,
		ChannelID:   req.ChannelID,
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Attachments: make([]models.MessageAttachment, len(req.Attachments)),
		Reactions:   []models.MessageReaction{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if m.Type == "" {
		m.Type = models.MessageText
	}
	// attachments are keyed locally until the upload layer names them
	for i, a := range req.Attachments {
		if a.ID == "" {
			a.ID = GenerateMessageID()
		}
		m.Attachments[i] = a
	}

	id, err := s.docs.Create(ctx, gateway.CollectionMessages, m)
	if err != nil {
		return models.Message{}, s.fail(&s.state.CommandState, "sendMessage", err, "Failed to send message")
	}
	m.ID = id

	s.mu.Lock()
	s.state.Messages = append([]models.Message{m.Clone()}, s.state.Messages...)
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("sendMessage", nil)
	s.publish(ctx, models.EventMessageCreated, topicOf(m), m)
	s.logger.Debugf("Sent message with id %s", id)
	return m, nil
}

// UpdateMessage replaces the content and marks the message edited
func (s *MessageStore) UpdateMessage(ctx context.Context, id, content string) (models.MessageUpdate, error) {
	s.logger.Debugf("Updating message (%s)", id)

	now := s.now()
	edited := true
	update := models.MessageUpdate{Content: &content, IsEdited: &edited, EditedAt: &now}
	return update, s.write(ctx, "updateMessage", "Failed to update message", id, update, now, nil)
}

// DeleteMessage soft deletes: the content becomes the placeholder and the record is kept
func (s *MessageStore) DeleteMessage(ctx context.Context, id string) (models.MessageUpdate, error) {
	s.logger.Debugf("Deleting message (%s)", id)

	content := models.DeletedMessagePlaceholder
	edited := true
	update := models.MessageUpdate{Content: &content, IsEdited: &edited}
	return update, s.write(ctx, "deleteMessage", "Failed to delete message", id, update, s.now(), nil)
}

// ToggleReaction adds or removes userID from the emoji reaction. The reaction list is
// fetched and written back whole.
func (s *MessageStore) ToggleReaction(ctx context.Context, id, emoji, userID string) (models.MessageUpdate, error) {
	s.logger.Debugf("Toggling reaction %s by (%s) on message (%s)", emoji, userID, id)

	s.begin(&s.state.CommandState)
	doc, err := s.docs.Get(ctx, gateway.CollectionMessages, id)
	if isNotFound(err) {
		err = ErrMessageNotFound
	}
	if err != nil {
		return models.MessageUpdate{}, s.fail(&s.state.CommandState, "toggleReaction", err, "Failed to toggle reaction")
	}
	m, err := decodeMessage(doc)
	if err != nil {
		return models.MessageUpdate{}, s.fail(&s.state.CommandState, "toggleReaction", err, "Failed to toggle reaction")
	}

	update := models.MessageUpdate{Reactions: models.ToggleReaction(m.Reactions, emoji, userID)}
	return update, s.write(ctx, "toggleReaction", "Failed to toggle reaction", id, update, s.now(), &m)
}

// write persists update and publishes the resulting message. fetched is the stored
// message when the caller already read it.
func (s *MessageStore) write(ctx context.Context, command, defaultMessage, id string, update models.MessageUpdate, now time.Time, fetched *models.Message) error {
	s.begin(&s.state.CommandState)
	if err := s.docs.Update(ctx, gateway.CollectionMessages, id, update.Fields(now)); err != nil {
		if isNotFound(err) {
			err = ErrMessageNotFound
		}
		return s.fail(&s.state.CommandState, command, err, defaultMessage)
	}

	var updated *models.Message
	s.mu.Lock()
	s.state.Messages = applyMessageUpdate(s.state.Messages, id, update, now)
	for _, m := range s.state.Messages {
		if m.ID == id {
			cp := m.Clone()
			updated = &cp
			break
		}
	}
	if s.state.SelectedMessage != nil && s.state.SelectedMessage.ID == id {
		m := update.Apply(*s.state.SelectedMessage, now)
		s.state.SelectedMessage = &m
	}
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record(command, nil)
	if updated == nil && fetched != nil {
		m := update.Apply(*fetched, now)
		updated = &m
	}
	if updated == nil && s.opts.publisher != nil {
		updated = s.reread(ctx, id)
	}
	if updated != nil {
		s.publish(ctx, models.EventMessageUpdated, topicOf(*updated), *updated)
	}
	return nil
}

// reread fetches a message this store never held, for messages loaded into the
// channel or conversation stores
func (s *MessageStore) reread(ctx context.Context, id string) *models.Message {
	doc, err := s.docs.Get(ctx, gateway.CollectionMessages, id)
	if err != nil {
		s.logger.Warnf("%s: reading updated message (%s): %v", s.name, id, err)
		return nil
	}
	m, err := decodeMessage(doc)
	if err != nil {
		s.logger.Warnf("%s: decoding updated message (%s): %v", s.name, id, err)
		return nil
	}
	return &m
}

// SelectMessage sets the selected message, nil deselects
func (s *MessageStore) SelectMessage(m *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		s.state.SelectedMessage = nil
		return
	}
	cp := m.Clone()
	s.state.SelectedMessage = &cp
}

func (s *MessageStore) TotalMessages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Messages)
}

func (s *MessageStore) HasSelectedMessage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SelectedMessage != nil
}

func (s *MessageStore) ClearError() {
	s.clearError(&s.state.CommandState)
}

// topicOf returns the channel id of a channel message or the conversation id of a direct one
func topicOf(m models.Message) string {
	if m.IsDirect() {
		return ConversationID(m.AuthorID, m.RecipientID)
	}
	return m.ChannelID
}

func applyMessageUpdate(messages []models.Message, id string, update models.MessageUpdate, now time.Time) []models.Message {
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		if m.ID == id {
			m = update.Apply(m, now)
		}
		out[i] = m
	}
	return out
}

func decodeMessage(doc gateway.Document) (models.Message, error) {
	var m models.Message
	if err := doc.DataTo(&m); err != nil {
		return m, err
	}
	m.ID = doc.ID
	return m.Clone(), nil
}

func decodeMessages(docs []gateway.Document) ([]models.Message, error) {
	out := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeMessage(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func cloneMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}
