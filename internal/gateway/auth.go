package gateway

import "context"

const ProviderGoogle = "google.com"

// Identity is the authenticated principal as reported by the auth provider
type Identity struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoURL"`
	EmailVerified bool   `json:"emailVerified"`
	IsAnonymous   bool   `json:"isAnonymous"`
}

// ProfileUpdate patches the current identity, nil fields are left untouched
type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
}

// Auth is the authentication provider. Methods acting on "the current user" operate on
// the session established by the last successful sign-in.
type Auth interface {
	SignInWithEmail(ctx context.Context, email, password string) (Identity, error)
	SignInWithPopup(ctx context.Context, provider string) (Identity, error)
	SignInAnonymously(ctx context.Context) (Identity, error)
	SignUp(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context) error

	// CurrentUser returns the cached current identity without a remote call
	CurrentUser() (Identity, bool)
	// Reload refreshes the current identity from the provider
	Reload(ctx context.Context) (Identity, error)
	UpdateProfile(ctx context.Context, update ProfileUpdate) error

	SendEmailVerification(ctx context.Context) error
	SendPasswordResetEmail(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, code, newPassword string) error
	ApplyActionCode(ctx context.Context, code string) error

	// OnAuthStateChanged registers f for every session change. f receives nil on sign-out.
	OnAuthStateChanged(f func(*Identity)) (unsubscribe func())
}
