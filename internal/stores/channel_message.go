package stores

import (
	"context"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

type ChannelMessageState struct {
	// ChannelMessages maps a channel id to its messages, newest first
	ChannelMessages map[string][]models.Message `json:"channelMessages"`
	ActiveChannelID string                      `json:"activeChannelId"`
	CommandState
}

type ChannelMessageStore struct {
	base
	docs  gateway.Documents
	state ChannelMessageState
}

func NewChannelMessageStore(logger *zap.SugaredLogger, docs gateway.Documents, opts ...Option) *ChannelMessageStore {
	s := &ChannelMessageStore{
		docs:  docs,
		state: ChannelMessageState{ChannelMessages: make(map[string][]models.Message)},
	}
	s.init("channelMessage", logger, opts)
	return s
}

// State returns a snapshot of the store state
func (s *ChannelMessageStore) State() ChannelMessageState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.ChannelMessages = cloneBuckets(s.state.ChannelMessages)
	return st
}

// LoadChannelMessages replaces the channel bucket with its newest messages.
// A non-positive limit uses the configured default.
func (s *ChannelMessageStore) LoadChannelMessages(ctx context.Context, channelID string, limit int) error {
	limit = s.limitOr(limit)
	s.logger.Debugf("Loading %d messages of channel (%s)", limit, channelID)

	s.begin(&s.state.CommandState)
	q := gateway.NewQuery(gateway.Where("channelId", gateway.OpEqual, channelID)).
		OrderByTime("createdAt", true).
		WithLimit(limit)
	docs, err := s.docs.Query(ctx, gateway.CollectionMessages, q)
	if err != nil {
		return s.fail(&s.state.CommandState, "loadChannelMessages", err, "Failed to load channel messages")
	}
	messages, err := decodeMessages(docs)
	if err != nil {
		return s.fail(&s.state.CommandState, "loadChannelMessages", err, "Failed to load channel messages")
	}

	s.mu.Lock()
	s.state.ChannelMessages = withBucket(s.state.ChannelMessages, channelID, messages)
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("loadChannelMessages", nil)
	return nil
}

func (s *ChannelMessageStore) SetActiveChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveChannelID = channelID
}

// AddMessageToChannel prepends m to the channel bucket
func (s *ChannelMessageStore) AddMessageToChannel(channelID string, m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := append([]models.Message{m.Clone()}, s.state.ChannelMessages[channelID]...)
	s.state.ChannelMessages = withBucket(s.state.ChannelMessages, channelID, bucket)
}

// ApplyMessageUpdate applies update to the message with id in every bucket
func (s *ChannelMessageStore) ApplyMessageUpdate(id string, update models.MessageUpdate) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ChannelMessages = applyToBuckets(s.state.ChannelMessages, id, update, now)
}

func (s *ChannelMessageStore) MessagesByChannel(channelID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.state.ChannelMessages[channelID])
}

func (s *ChannelMessageStore) ActiveChannelMessages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.ActiveChannelID == "" {
		return []models.Message{}
	}
	return cloneMessages(s.state.ChannelMessages[s.state.ActiveChannelID])
}

// ChannelMessageCount is the number of messages across all loaded channels
func (s *ChannelMessageStore) ChannelMessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countBuckets(s.state.ChannelMessages)
}

func (s *ChannelMessageStore) ClearError() {
	s.clearError(&s.state.CommandState)
}
