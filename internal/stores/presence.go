package stores

import (
	"context"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

type PresenceState struct {
	OnlineUsers []string `json:"onlineUsers"`
	CommandState
}

// PresenceStore caches the set of online user ids. The user documents are the
// source of truth.
type PresenceStore struct {
	base
	docs  gateway.Documents
	state PresenceState
}

func NewPresenceStore(logger *zap.SugaredLogger, docs gateway.Documents, opts ...Option) *PresenceStore {
	s := &PresenceStore{
		docs:  docs,
		state: PresenceState{OnlineUsers: []string{}},
	}
	s.init("presence", logger, opts)
	return s
}

// State returns a snapshot of the store state
func (s *PresenceStore) State() PresenceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.OnlineUsers = copyStrings(s.state.OnlineUsers)
	return st
}

func (s *PresenceStore) SetUserOnline(ctx context.Context, uid string) error {
	return s.setPresence(ctx, uid, true)
}

func (s *PresenceStore) SetUserOffline(ctx context.Context, uid string) error {
	return s.setPresence(ctx, uid, false)
}

func (s *PresenceStore) setPresence(ctx context.Context, uid string, online bool) error {
	command, defaultMessage, event := "setUserOffline", "Failed to set user offline", models.EventPresenceOffline
	if online {
		command, defaultMessage, event = "setUserOnline", "Failed to set user online", models.EventPresenceOnline
	}
	s.logger.Debugf("Setting user (%s) online=%t", uid, online)

	s.begin(&s.state.CommandState)
	fields := gateway.Fields{"isOnline": online, "lastSeen": s.now()}
	if err := s.docs.Update(ctx, gateway.CollectionUsers, uid, fields); err != nil {
		return s.fail(&s.state.CommandState, command, err, defaultMessage)
	}

	s.mu.Lock()
	if online {
		s.state.OnlineUsers = addID(s.state.OnlineUsers, uid)
	} else {
		s.state.OnlineUsers = removeID(s.state.OnlineUsers, uid)
	}
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record(command, nil)
	s.publish(ctx, event, "", models.PresenceData{UserID: uid, IsOnline: online})
	return nil
}

// UpdateMultiplePresence replaces the online set
func (s *PresenceStore) UpdateMultiplePresence(uids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.OnlineUsers = addID(nil, uids...)
}

func (s *PresenceStore) ClearOnlineUsers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.OnlineUsers = []string{}
}

func (s *PresenceStore) OnlineUserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.OnlineUsers)
}

func (s *PresenceStore) IsUserOnline(uid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return containsID(s.state.OnlineUsers, uid)
}

func (s *PresenceStore) OnlineUserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyStrings(s.state.OnlineUsers)
}

func (s *PresenceStore) ClearError() {
	s.clearError(&s.state.CommandState)
}
