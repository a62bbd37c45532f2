// Package guards decides whether a page may be entered given the session state.
// Guards never fail: every outcome is a Decision.
package guards

import (
	"context"
	"fmt"

	"dabubble/internal/gateway"
	"dabubble/internal/stores"

	"go.uber.org/zap"
)

const (
	PathSignIn          = "/auth/signin"
	PathDashboard       = "/dashboard"
	PathAvatarSelection = "/auth/avatar-selection"
)

// Policy selects how much a guard checks beyond the cached session
type Policy int

const (
	// Strict reloads the identity and checks email verification and avatar
	Strict Policy = iota
	// Lax only looks at the cached session
	Lax
)

func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Lax:
		return "lax"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy maps "strict" or "lax" to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "strict", "":
		return Strict, nil
	case "lax":
		return Lax, nil
	}
	return Strict, fmt.Errorf("unknown guard policy %q", s)
}

// Decision is the outcome of a guard. Redirect is set when Allow is false.
type Decision struct {
	Allow    bool
	Redirect string
}

func allow() Decision { return Decision{Allow: true} }

func redirect(path string) Decision { return Decision{Redirect: path} }

// Session is the part of the auth store guards read
type Session interface {
	WaitResolved(ctx context.Context) error
	State() stores.AuthState
}

// Reloader refreshes the current identity from the auth provider
type Reloader interface {
	Reload(ctx context.Context) (gateway.Identity, error)
}

type Guards struct {
	logger   *zap.SugaredLogger
	session  Session
	reloader Reloader
	policy   Policy
}

type Option func(*Guards)

// WithPolicy overrides the Strict default
func WithPolicy(p Policy) Option {
	return func(g *Guards) { g.policy = p }
}

func New(logger *zap.SugaredLogger, session Session, reloader Reloader, opts ...Option) *Guards {
	g := &Guards{
		logger:   logger,
		session:  session,
		reloader: reloader,
		policy:   Strict,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guards) Policy() Policy {
	return g.policy
}

// authenticated waits for the session to resolve and reports whether someone is signed in
func (g *Guards) authenticated(ctx context.Context) (stores.AuthState, bool) {
	if err := g.session.WaitResolved(ctx); err != nil {
		g.logger.Debugf("Session not resolved: %v", err)
		return stores.AuthState{}, false
	}
	st := g.session.State()
	return st, st.IsAuthenticated && st.User != nil
}

// identity reloads the current identity. ok is false when the reload fails.
func (g *Guards) identity(ctx context.Context) (gateway.Identity, bool) {
	id, err := g.reloader.Reload(ctx)
	if err != nil {
		g.logger.Debugf("Reloading identity: %v", err)
		return gateway.Identity{}, false
	}
	return id, id.UID != ""
}

// RequireAuth admits signed-in users. Under Strict the identity must be reloadable,
// verified unless anonymous, and have an avatar unless anonymous.
func (g *Guards) RequireAuth(ctx context.Context) Decision {
	_, ok := g.authenticated(ctx)
	if !ok {
		return redirect(PathSignIn)
	}
	if g.policy == Lax {
		return allow()
	}

	id, ok := g.identity(ctx)
	if !ok {
		return redirect(PathSignIn)
	}
	if id.IsAnonymous {
		return allow()
	}
	if !id.EmailVerified {
		return redirect(PathSignIn)
	}
	if id.PhotoURL == "" {
		return redirect(PathAvatarSelection)
	}
	return allow()
}

// RequireNoAuth admits visitors who are not signed in
func (g *Guards) RequireNoAuth(ctx context.Context) Decision {
	if err := g.session.WaitResolved(ctx); err != nil {
		return redirect(PathSignIn)
	}
	if st := g.session.State(); st.IsAuthenticated {
		return redirect(PathDashboard)
	}
	return allow()
}

// RequireAvatarSelection admits signed-in users still without an avatar
func (g *Guards) RequireAvatarSelection(ctx context.Context) Decision {
	st, ok := g.authenticated(ctx)
	if !ok {
		return redirect(PathSignIn)
	}
	photoURL := st.User.PhotoURL

	if g.policy == Strict {
		id, ok := g.identity(ctx)
		if !ok {
			return redirect(PathSignIn)
		}
		if !id.IsAnonymous && !id.EmailVerified {
			return redirect(PathSignIn)
		}
		photoURL = id.PhotoURL
	}

	if photoURL != "" {
		return redirect(PathDashboard)
	}
	return allow()
}
