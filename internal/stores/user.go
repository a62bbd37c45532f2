package stores

import (
	"context"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

type UserState struct {
	Users        []models.User `json:"users"`
	SelectedUser *models.User  `json:"selectedUser"`
	CommandState
}

// UserStore caches user profiles
type UserStore struct {
	base
	docs  gateway.Documents
	state UserState
}

func NewUserStore(logger *zap.SugaredLogger, docs gateway.Documents, opts ...Option) *UserStore {
	s := &UserStore{
		docs:  docs,
		state: UserState{Users: []models.User{}},
	}
	s.init("user", logger, opts)
	return s
}

// State returns a snapshot of the store state
func (s *UserStore) State() UserState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Users = cloneUsers(s.state.Users)
	if st.SelectedUser != nil {
		u := st.SelectedUser.Clone()
		st.SelectedUser = &u
	}
	return st
}

func (s *UserStore) LoadUsers(ctx context.Context) error {
	s.logger.Debug("Loading users")

	s.begin(&s.state.CommandState)
	docs, err := s.docs.Query(ctx, gateway.CollectionUsers, gateway.NewQuery())
	if err != nil {
		return s.fail(&s.state.CommandState, "loadUsers", err, "Failed to load users")
	}
	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		u, err := decodeUser(doc)
		if err != nil {
			return s.fail(&s.state.CommandState, "loadUsers", err, "Failed to load users")
		}
		users = append(users, u)
	}

	s.mu.Lock()
	s.state.Users = users
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("loadUsers", nil)
	s.logger.Debugf("Loaded %d users", len(users))
	return nil
}

// CreateUser writes the user document under its uid
func (s *UserStore) CreateUser(ctx context.Context, u models.User) error {
	s.logger.Debugf("Creating user (%s)", u.UID)

	s.begin(&s.state.CommandState)
	now := s.now()
	u = u.Clone()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if err := s.docs.Set(ctx, gateway.CollectionUsers, u.UID, u); err != nil {
		return s.fail(&s.state.CommandState, "createUser", err, "Failed to create user")
	}

	s.mu.Lock()
	s.state.Users = upsertUser(s.state.Users, u)
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("createUser", nil)
	return nil
}

// upsertUser returns a copy of users with u in place of the entry sharing its uid,
// or appended when there is none.
func upsertUser(users []models.User, u models.User) []models.User {
	out := cloneUsers(users)
	for i := range out {
		if out[i].UID == u.UID {
			out[i] = u
			return out
		}
	}
	return append(out, u)
}

func (s *UserStore) UpdateUser(ctx context.Context, uid string, update models.UserUpdate) error {
	s.logger.Debugf("Updating user (%s)", uid)

	s.begin(&s.state.CommandState)
	now := s.now()
	if err := s.docs.Update(ctx, gateway.CollectionUsers, uid, update.Fields(now)); err != nil {
		return s.fail(&s.state.CommandState, "updateUser", err, "Failed to update user")
	}

	s.mu.Lock()
	users := make([]models.User, len(s.state.Users))
	for i, u := range s.state.Users {
		if u.UID == uid {
			u = update.Apply(u, now)
		}
		users[i] = u
	}
	s.state.Users = users
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("updateUser", nil)
	return nil
}

// DeleteUser removes the user document. It is an administrative operation.
func (s *UserStore) DeleteUser(ctx context.Context, uid string) error {
	s.logger.Debugf("Deleting user (%s)", uid)

	s.begin(&s.state.CommandState)
	if err := s.docs.Delete(ctx, gateway.CollectionUsers, uid); err != nil {
		return s.fail(&s.state.CommandState, "deleteUser", err, "Failed to delete user")
	}

	s.mu.Lock()
	users := make([]models.User, 0, len(s.state.Users))
	for _, u := range s.state.Users {
		if u.UID != uid {
			users = append(users, u)
		}
	}
	s.state.Users = users
	if s.state.SelectedUser != nil && s.state.SelectedUser.UID == uid {
		s.state.SelectedUser = nil
	}
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.record("deleteUser", nil)
	return nil
}

// GetUserByID fetches the user document, returning nil when it does not exist
func (s *UserStore) GetUserByID(ctx context.Context, uid string) (*models.User, error) {
	doc, err := s.docs.Get(ctx, gateway.CollectionUsers, uid)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(&s.state.CommandState, "getUser", err, "Failed to get user")
	}
	u, err := decodeUser(doc)
	if err != nil {
		return nil, s.fail(&s.state.CommandState, "getUser", err, "Failed to get user")
	}
	return &u, nil
}

// SelectUser sets the selected user, nil deselects
func (s *UserStore) SelectUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.state.SelectedUser = nil
		return
	}
	cp := u.Clone()
	s.state.SelectedUser = &cp
}

func (s *UserStore) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Users)
}

// UserByID returns the cached user with uid
func (s *UserStore) UserByID(uid string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.state.Users {
		if u.UID == uid {
			return u.Clone(), true
		}
	}
	return models.User{}, false
}

// UsersByIDs returns the cached users whose uid is listed, in cache order
func (s *UserStore) UsersByIDs(uids []string) []models.User {
	want := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		want[uid] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.User{}
	for _, u := range s.state.Users {
		if _, ok := want[u.UID]; ok {
			out = append(out, u.Clone())
		}
	}
	return out
}

func (s *UserStore) ClearError() {
	s.clearError(&s.state.CommandState)
}

func decodeUser(doc gateway.Document) (models.User, error) {
	var u models.User
	if err := doc.DataTo(&u); err != nil {
		return u, err
	}
	u.UID = doc.ID
	return u.Clone(), nil
}

func cloneUsers(users []models.User) []models.User {
	out := make([]models.User, len(users))
	for i, u := range users {
		out[i] = u.Clone()
	}
	return out
}
