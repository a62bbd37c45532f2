package stores

import (
	"context"
	"time"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

type ChannelState struct {
	Channels        []models.Channel `json:"channels"`
	SelectedChannel *models.Channel  `json:"selectedChannel"`
	MyChannels      []models.Channel `json:"myChannels"`
	CommandState
}

type ChannelStore struct {
	base
	docs  gateway.Documents
	state ChannelState
}

func NewChannelStore(logger *zap.SugaredLogger, docs gateway.Documents, opts ...Option) *ChannelStore {
	s := &ChannelStore{
		docs: docs,
		state: ChannelState{
			Channels:   []models.Channel{},
			MyChannels: []models.Channel{},
		},
	}
	s.init("channel", logger, opts)
	return s
}

// State returns a snapshot of the store state
func (s *ChannelStore) State() ChannelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Channels = cloneChannels(s.state.Channels)
	st.MyChannels = cloneChannels(s.state.MyChannels)
	if st.SelectedChannel != nil {
		c := st.SelectedChannel.Clone()
		st.SelectedChannel = &c
	}
	return st
}

// LoadChannels fetches every channel. When userID is set MyChannels holds the ones
// the user is a member of, otherwise it is emptied.
func (s *ChannelStore) LoadChannels(ctx context.Context, userID string) error {
	s.logger.Debugf("Loading channels for user (%s)", userID)

	s.begin(&s.state.CommandState)
	docs, err := s.docs.Query(ctx, gateway.CollectionChannels, gateway.NewQuery())
	if err != nil {
		return s.fail(&s.state.CommandState, "loadChannels", err, "Failed to load channels")
	}
	channels := make([]models.Channel, 0, len(docs))
	mine := []models.Channel{}
	for _, doc := range docs {
		c, err := decodeChannel(doc)
		if err != nil {
			return s.fail(&s.state.CommandState, "loadChannels", err, "Failed to load channels")
		}
		channels = append(channels, c)
		if userID != "" && c.HasMember(userID) {
			mine = append(mine, c.Clone())
		}
	}

	s.mu.Lock()
	s.state.Channels = channels
	s.state.MyChannels = mine
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("loadChannels", nil)
	return nil
}

// CreateChannel stores a new channel with the creator as member and admin exactly once
func (s *ChannelStore) CreateChannel(ctx context.Context, req models.CreateChannelRequest, createdBy string) (models.Channel, error) {
	s.logger.Debugf("Creating channel (%s) by (%s)", req.Name, createdBy)

	s.begin(&s.state.CommandState)
	c := buildChannel(req, createdBy, s.now())
	id, err := s.docs.Create(ctx, gateway.CollectionChannels, c)
	if err != nil {
		return models.Channel{}, s.fail(&s.state.CommandState, "createChannel", err, "Failed to create channel")
	}
	c.ID = id

	s.mu.Lock()
	s.state.Channels = append(cloneChannels(s.state.Channels), c.Clone())
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("createChannel", nil)
	s.logger.Debugf("Created channel (%s) with id %s", req.Name, id)
	return c, nil
}

func (s *ChannelStore) UpdateChannel(ctx context.Context, id string, update models.ChannelUpdate) error {
	s.logger.Debugf("Updating channel (%s)", id)

	s.begin(&s.state.CommandState)
	now := s.now()
	if err := s.docs.Update(ctx, gateway.CollectionChannels, id, update.Fields(now)); err != nil {
		if isNotFound(err) {
			err = ErrChannelNotFound
		}
		return s.fail(&s.state.CommandState, "updateChannel", err, "Failed to update channel")
	}

	s.mu.Lock()
	s.state.Channels = applyChannelUpdate(s.state.Channels, id, update, now)
	s.state.MyChannels = applyChannelUpdate(s.state.MyChannels, id, update, now)
	if s.state.SelectedChannel != nil && s.state.SelectedChannel.ID == id {
		c := update.Apply(*s.state.SelectedChannel, now)
		s.state.SelectedChannel = &c
	}
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("updateChannel", nil)
	return nil
}

// SelectChannel sets the selected channel, nil deselects
func (s *ChannelStore) SelectChannel(c *models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil {
		s.state.SelectedChannel = nil
		return
	}
	cp := c.Clone()
	s.state.SelectedChannel = &cp
}

func (s *ChannelStore) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Channels)
}

func (s *ChannelStore) UserChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.MyChannels)
}

func (s *ChannelStore) ChannelByID(id string) (models.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.state.Channels {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return models.Channel{}, false
}

func (s *ChannelStore) PublicChannels() []models.Channel {
	return s.filter(func(c models.Channel) bool { return !c.IsPrivate })
}

func (s *ChannelStore) PrivateChannels() []models.Channel {
	return s.filter(func(c models.Channel) bool { return c.IsPrivate })
}

func (s *ChannelStore) filter(keep func(models.Channel) bool) []models.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Channel{}
	for _, c := range s.state.Channels {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	return out
}

func (s *ChannelStore) ClearError() {
	s.clearError(&s.state.CommandState)
}

func buildChannel(req models.CreateChannelRequest, createdBy string, now time.Time) models.Channel {
	return models.Channel{
		Name:          req.Name,
		Description:   req.Description,
		IsPrivate:     req.IsPrivate,
		CreatedBy:     createdBy,
		Members:       addID(addID(nil, req.Members...), createdBy),
		Admins:        []string{createdBy},
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}
}

func applyChannelUpdate(channels []models.Channel, id string, update models.ChannelUpdate, now time.Time) []models.Channel {
	out := make([]models.Channel, len(channels))
	for i, c := range channels {
		if c.ID == id {
			c = update.Apply(c, now)
		}
		out[i] = c
	}
	return out
}

func decodeChannel(doc gateway.Document) (models.Channel, error) {
	var c models.Channel
	if err := doc.DataTo(&c); err != nil {
		return c, err
	}
	c.ID = doc.ID
	return c.Clone(), nil
}

func cloneChannels(channels []models.Channel) []models.Channel {
	out := make([]models.Channel, len(channels))
	for i, c := range channels {
		out[i] = c.Clone()
	}
	return out
}
