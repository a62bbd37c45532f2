package stores

import (
	"context"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

const (
	fieldMembers = "members"
	fieldAdmins  = "admins"
)

type ChannelMemberState struct {
	ActiveChannelID string `json:"activeChannelId"`
	CommandState
}

// ChannelMemberStore mutates channel membership and admin lists. When the gateway
// implements gateway.ArrayMutator each change is a single atomic operation, otherwise
// the whole array is fetched, changed and written back, and concurrent changes to the
// same channel can overwrite each other.
type ChannelMemberStore struct {
	base
	docs  gateway.Documents
	state ChannelMemberState
}

func NewChannelMemberStore(logger *zap.SugaredLogger, docs gateway.Documents, opts ...Option) *ChannelMemberStore {
	s := &ChannelMemberStore{docs: docs}
	s.init("channelMember", logger, opts)
	return s
}

// State returns a snapshot of the store state
func (s *ChannelMemberStore) State() ChannelMemberState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *ChannelMemberStore) AddMember(ctx context.Context, channelID, uid string) error {
	return s.mutate(ctx, "addMember", "Failed to add member", channelID, fieldMembers, uid, true)
}

// RemoveMember drops uid from the member list. The admin list is left untouched.
func (s *ChannelMemberStore) RemoveMember(ctx context.Context, channelID, uid string) error {
	return s.mutate(ctx, "removeMember", "Failed to remove member", channelID, fieldMembers, uid, false)
}

func (s *ChannelMemberStore) AddAdmin(ctx context.Context, channelID, uid string) error {
	return s.mutate(ctx, "addAdmin", "Failed to add admin", channelID, fieldAdmins, uid, true)
}

func (s *ChannelMemberStore) RemoveAdmin(ctx context.Context, channelID, uid string) error {
	return s.mutate(ctx, "removeAdmin", "Failed to remove admin", channelID, fieldAdmins, uid, false)
}

func (s *ChannelMemberStore) mutate(ctx context.Context, command, defaultMessage, channelID, field, uid string, add bool) error {
	s.logger.Debugf("%s (%s) in channel (%s)", command, uid, channelID)

	s.begin(&s.state.CommandState)
	var err error
	if m, ok := s.docs.(gateway.ArrayMutator); ok {
		if add {
			err = m.ArrayUnion(ctx, gateway.CollectionChannels, channelID, field, uid)
		} else {
			err = m.ArrayRemove(ctx, gateway.CollectionChannels, channelID, field, uid)
		}
		if isNotFound(err) {
			err = ErrChannelNotFound
		}
	} else {
		err = s.replaceArray(ctx, channelID, field, uid, add)
	}
	if err != nil {
		return s.fail(&s.state.CommandState, command, err, defaultMessage)
	}

	s.mu.Lock()
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record(command, nil)
	return nil
}

// replaceArray is the fetch, compute, write back path with last-write-wins semantics
func (s *ChannelMemberStore) replaceArray(ctx context.Context, channelID, field, uid string, add bool) error {
	c, err := s.channel(ctx, channelID)
	if err != nil {
		return err
	}

	current := c.Members
	if field == fieldAdmins {
		current = c.Admins
	}
	var next []string
	if add {
		next = addID(current, uid)
	} else {
		next = removeID(current, uid)
	}

	err = s.docs.Update(ctx, gateway.CollectionChannels, channelID, gateway.Fields{
		field:       next,
		"updatedAt": s.now(),
	})
	if isNotFound(err) {
		return ErrChannelNotFound
	}
	return err
}

// IsUserMember reports whether uid is in the channel member list. Failures are
// recorded on the store and reported as false.
func (s *ChannelMemberStore) IsUserMember(ctx context.Context, channelID, uid string) bool {
	c, err := s.channel(ctx, channelID)
	if err != nil {
		s.fail(&s.state.CommandState, "isUserMember", err, "Failed to check membership")
		return false
	}
	return c.HasMember(uid)
}

// IsUserAdmin reports whether uid is in the channel admin list. Failures are
// recorded on the store and reported as false.
func (s *ChannelMemberStore) IsUserAdmin(ctx context.Context, channelID, uid string) bool {
	c, err := s.channel(ctx, channelID)
	if err != nil {
		s.fail(&s.state.CommandState, "isUserAdmin", err, "Failed to check admin status")
		return false
	}
	return c.HasAdmin(uid)
}

// Members returns the channel's member list with roles. Admins missing from the member
// list are not reported.
func (s *ChannelMemberStore) Members(ctx context.Context, channelID string) ([]models.ChannelMember, error) {
	c, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, s.fail(&s.state.CommandState, "members", err, "Failed to load members")
	}
	members := make([]models.ChannelMember, 0, len(c.Members))
	for _, uid := range c.Members {
		role := models.RoleMember
		if c.HasAdmin(uid) {
			role = models.RoleAdmin
		}
		members = append(members, models.ChannelMember{
			UID:       uid,
			ChannelID: c.ID,
			Role:      role,
			JoinedAt:  c.CreatedAt,
		})
	}
	return members, nil
}

func (s *ChannelMemberStore) SetActiveChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveChannelID = channelID
}

func (s *ChannelMemberStore) ClearError() {
	s.clearError(&s.state.CommandState)
}

func (s *ChannelMemberStore) channel(ctx context.Context, channelID string) (models.Channel, error) {
	doc, err := s.docs.Get(ctx, gateway.CollectionChannels, channelID)
	if isNotFound(err) {
		return models.Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return models.Channel{}, err
	}
	return decodeChannel(doc)
}
