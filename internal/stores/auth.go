package stores

import (
	"context"
	"sync"
	"time"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

type AuthStatus string

const (
	StatusLoading         AuthStatus = "loading"
	StatusAuthenticated   AuthStatus = "authenticated"
	StatusUnauthenticated AuthStatus = "unauthenticated"
)

type AuthState struct {
	User            *models.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	CommandState
}

// AuthStore mirrors the auth provider session. It starts loading and resolves on the
// first session notification or the first sign-in, registration or logout attempt that
// settles the session, whichever comes first.
type AuthStore struct {
	base
	auth  gateway.Auth
	state AuthState

	resolved    chan struct{}
	resolveOnce sync.Once
	unsubscribe func()
}

func NewAuthStore(logger *zap.SugaredLogger, auth gateway.Auth, opts ...Option) *AuthStore {
	s := &AuthStore{
		auth:     auth,
		state:    AuthState{CommandState: CommandState{IsLoading: true}},
		resolved: make(chan struct{}),
	}
	s.init("auth", logger, opts)
	s.unsubscribe = auth.OnAuthStateChanged(s.handleAuthState)
	return s
}

// Close stops listening to session changes
func (s *AuthStore) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *AuthStore) handleAuthState(id *gateway.Identity) {
	s.mu.Lock()
	if id != nil {
		u := projectUser(*id, s.now())
		s.state.User = &u
		s.state.IsAuthenticated = true
	} else {
		s.state.User = nil
		s.state.IsAuthenticated = false
	}
	s.state.IsLoading = false
	s.mu.Unlock()

	s.resolve()

	var data interface{}
	if id != nil {
		data = id.UID
	}
	s.publish(context.Background(), models.EventAuthChanged, "", data)
}

func (s *AuthStore) resolve() {
	s.resolveOnce.Do(func() { close(s.resolved) })
}

// Resolved is closed once the session state is known
func (s *AuthStore) Resolved() <-chan struct{} {
	return s.resolved
}

// WaitResolved blocks until the session state is known or ctx is done
func (s *AuthStore) WaitResolved(ctx context.Context) error {
	select {
	case <-s.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the store state
func (s *AuthStore) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.User != nil {
		u := st.User.Clone()
		st.User = &u
	}
	return st
}

func (s *AuthStore) Status() AuthStatus {
	select {
	case <-s.resolved:
	default:
		return StatusLoading
	}
	if s.IsLoggedIn() {
		return StatusAuthenticated
	}
	return StatusUnauthenticated
}

func (s *AuthStore) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsAuthenticated && s.state.User != nil
}

// UserDisplayName returns the display name of the signed-in user, "Anonymous" when unset
func (s *AuthStore) UserDisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.User == nil || s.state.User.DisplayName == "" {
		return "Anonymous"
	}
	return s.state.User.DisplayName
}

func (s *AuthStore) UserEmail() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.User == nil {
		return ""
	}
	return s.state.User.Email
}

func (s *AuthStore) HasError() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.HasError()
}

func (s *AuthStore) ClearError() {
	s.clearError(&s.state.CommandState)
}

func (s *AuthStore) LoginWithEmail(ctx context.Context, email, password string) error {
	s.logger.Debugf("Logging in (%s)", email)
	return s.login("loginWithEmail", func() (gateway.Identity, error) {
		return s.auth.SignInWithEmail(ctx, email, password)
	})
}

func (s *AuthStore) LoginWithGoogle(ctx context.Context) error {
	s.logger.Debug("Logging in with Google")
	return s.login("loginWithGoogle", func() (gateway.Identity, error) {
		return s.auth.SignInWithPopup(ctx, gateway.ProviderGoogle)
	})
}

func (s *AuthStore) LoginAnonymously(ctx context.Context) error {
	s.logger.Debug("Logging in anonymously")
	return s.login("loginAnonymously", func() (gateway.Identity, error) {
		return s.auth.SignInAnonymously(ctx)
	})
}

func (s *AuthStore) login(command string, signIn func() (gateway.Identity, error)) error {
	s.begin(&s.state.CommandState)
	id, err := signIn()
	if err != nil {
		err = s.fail(&s.state.CommandState, command, err, "Login failed")
		s.resolve()
		return err
	}
	s.authenticated(command, id)
	return nil
}

// Register creates the account, sets its display name and signs it in
func (s *AuthStore) Register(ctx context.Context, email, password, displayName string) error {
	s.logger.Debugf("Registering (%s)", email)

	s.begin(&s.state.CommandState)
	id, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		err = s.fail(&s.state.CommandState, "register", err, "Registration failed")
		s.resolve()
		return err
	}
	if err := s.auth.UpdateProfile(ctx, gateway.ProfileUpdate{DisplayName: &displayName}); err != nil {
		return s.fail(&s.state.CommandState, "register", err, "Registration failed")
	}
	id.DisplayName = displayName
	s.authenticated("register", id)

	s.logger.Debugf("Registered (%s) with uid %s", email, id.UID)
	return nil
}

func (s *AuthStore) authenticated(command string, id gateway.Identity) {
	u := projectUser(id, s.now())

	s.mu.Lock()
	s.state.User = &u
	s.state.IsAuthenticated = true
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.resolve()
	s.record(command, nil)
}

func (s *AuthStore) Logout(ctx context.Context) error {
	s.logger.Debug("Logging out")

	s.begin(&s.state.CommandState)
	if err := s.auth.SignOut(ctx); err != nil {
		return s.fail(&s.state.CommandState, "logout", err, "Logout failed")
	}

	s.mu.Lock()
	s.state.User = nil
	s.state.IsAuthenticated = false
	s.doneLocked(&s.state.CommandState)
	s.mu.Unlock()

	s.resolve()
	s.record("logout", nil)
	return nil
}

func (s *AuthStore) SendPasswordResetEmail(ctx context.Context, email string) error {
	err := s.auth.SendPasswordResetEmail(ctx, email)
	s.record("sendPasswordResetEmail", err)
	return err
}

func (s *AuthStore) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	err := s.auth.ConfirmPasswordReset(ctx, code, newPassword)
	s.record("confirmPasswordReset", err)
	return err
}

// VerifyEmail applies a verification code. The cached identity is not refreshed,
// callers reload the session to observe the new state.
func (s *AuthStore) VerifyEmail(ctx context.Context, code string) error {
	err := s.auth.ApplyActionCode(ctx, code)
	s.record("verifyEmail", err)
	return err
}

func (s *AuthStore) SendEmailVerification(ctx context.Context) error {
	err := s.auth.SendEmailVerification(ctx)
	s.record("sendEmailVerification", err)
	return err
}

// UpdateUserProfile patches the signed-in identity and the mirrored user
func (s *AuthStore) UpdateUserProfile(ctx context.Context, update gateway.ProfileUpdate) error {
	if _, ok := s.auth.CurrentUser(); !ok {
		s.record("updateUserProfile", gateway.ErrNoUser)
		return gateway.ErrNoUser
	}
	if err := s.auth.UpdateProfile(ctx, update); err != nil {
		s.record("updateUserProfile", err)
		return err
	}

	s.mu.Lock()
	if s.state.User != nil {
		u := s.state.User.Clone()
		if update.DisplayName != nil {
			u.DisplayName = *update.DisplayName
		}
		if update.PhotoURL != nil {
			u.PhotoURL = *update.PhotoURL
		}
		u.UpdatedAt = s.now()
		s.state.User = &u
	}
	s.mu.Unlock()

	s.record("updateUserProfile", nil)
	return nil
}

// projectUser maps an identity to the local user shape: online, no channels or
// conversations yet, fresh timestamps
func projectUser(id gateway.Identity, now time.Time) models.User {
	return models.User{
		UID:            id.UID,
		Email:          id.Email,
		DisplayName:    id.DisplayName,
		PhotoURL:       id.PhotoURL,
		IsOnline:       true,
		LastSeen:       now,
		Channels:       []string{},
		DirectMessages: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
