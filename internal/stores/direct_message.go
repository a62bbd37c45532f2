package stores

import (
	"context"
	"time"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

type DirectMessageState struct {
	// DirectMessages maps a conversation id to its messages, newest first
	DirectMessages       map[string][]models.Message `json:"directMessages"`
	ActiveConversationID string                      `json:"activeConversationId"`
	CommandState
}

type DirectMessageStore struct {
	base
	docs  gateway.Documents
	state DirectMessageState
}

func NewDirectMessageStore(logger *zap.SugaredLogger, docs gateway.Documents, opts ...Option) *DirectMessageStore {
	s := &DirectMessageStore{
		docs:  docs,
		state: DirectMessageState{DirectMessages: make(map[string][]models.Message)},
	}
	s.init("directMessage", logger, opts)
	return s
}

// State returns a snapshot of the store state
func (s *DirectMessageStore) State() DirectMessageState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.DirectMessages = cloneBuckets(s.state.DirectMessages)
	return st
}

// LoadDirectMessages replaces the conversation bucket with the newest messages
// exchanged between the two users. A non-positive limit uses the configured default.
func (s *DirectMessageStore) LoadDirectMessages(ctx context.Context, user1, user2 string, limit int) error {
	limit = s.limitOr(limit)
	conversationID := ConversationID(user1, user2)
	s.logger.Debugf("Loading %d messages of conversation (%s)", limit, conversationID)

	s.begin(&s.state.CommandState)
	pair := []string{user1, user2}
	q := gateway.NewQuery(
		gateway.Where("recipientId", gateway.OpIn, pair),
		gateway.Where("authorId", gateway.OpIn, pair),
	).OrderByTime("createdAt", true).WithLimit(limit)
	docs, err := s.docs.Query(ctx, gateway.CollectionMessages, q)
	if err != nil {
		return s.fail(&s.state.CommandState, "loadDirectMessages", err, "Failed to load direct messages")
	}
	messages, err := decodeMessages(docs)
	if err != nil {
		return s.fail(&s.state.CommandState, "loadDirectMessages", err, "Failed to load direct messages")
	}

	s.mu.Lock()
	s.state.DirectMessages = withBucket(s.state.DirectMessages, conversationID, messages)
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("loadDirectMessages", nil)
	return nil
}

func (s *DirectMessageStore) SetActiveConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveConversationID = conversationID
}

// AddMessageToConversation prepends m to the conversation bucket
func (s *DirectMessageStore) AddMessageToConversation(conversationID string, m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := append([]models.Message{m.Clone()}, s.state.DirectMessages[conversationID]...)
	s.state.DirectMessages = withBucket(s.state.DirectMessages, conversationID, bucket)
}

// ApplyMessageUpdate applies update to the message with id in every conversation
func (s *DirectMessageStore) ApplyMessageUpdate(id string, update models.MessageUpdate) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DirectMessages = applyToBuckets(s.state.DirectMessages, id, update, now)
}

// MessagesBetween returns the loaded conversation of the two users in either order
func (s *DirectMessageStore) MessagesBetween(user1, user2 string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.state.DirectMessages[ConversationID(user1, user2)])
}

func (s *DirectMessageStore) ActiveConversationMessages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.ActiveConversationID == "" {
		return []models.Message{}
	}
	return cloneMessages(s.state.DirectMessages[s.state.ActiveConversationID])
}

// DirectMessageCount is the number of messages across all loaded conversations
func (s *DirectMessageStore) DirectMessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countBuckets(s.state.DirectMessages)
}

func (s *DirectMessageStore) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.DirectMessages)
}

func (s *DirectMessageStore) ClearError() {
	s.clearError(&s.state.CommandState)
}

// withBucket returns a copy of buckets with key set to messages
func withBucket(buckets map[string][]models.Message, key string, messages []models.Message) map[string][]models.Message {
	out := make(map[string][]models.Message, len(buckets)+1)
	for k, v := range buckets {
		out[k] = v
	}
	out[key] = messages
	return out
}

func applyToBuckets(buckets map[string][]models.Message, id string, update models.MessageUpdate, now time.Time) map[string][]models.Message {
	out := make(map[string][]models.Message, len(buckets))
	for k, v := range buckets {
		out[k] = applyMessageUpdate(v, id, update, now)
	}
	return out
}

func cloneBuckets(buckets map[string][]models.Message) map[string][]models.Message {
	out := make(map[string][]models.Message, len(buckets))
	for k, v := range buckets {
		out[k] = cloneMessages(v)
	}
	return out
}

func countBuckets(buckets map[string][]models.Message) int {
	total := 0
	for _, v := range buckets {
		total += len(v)
	}
	return total
}
