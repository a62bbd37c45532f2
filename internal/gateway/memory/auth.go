package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"dabubble/internal/gateway"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	ModeVerifyEmail   = "verifyEmail"
	ModeResetPassword = "resetPassword"

	minPasswordLength = 6
	defaultCodeTTL    = time.Hour
)

// Mailer receives the deep link sent to an email address
type Mailer func(email, link string)

type Option func(*Auth)

// WithMailer sets the hook receiving verification and password reset links
func WithMailer(m Mailer) Option {
	return func(a *Auth) { a.mailer = m }
}

// WithActionURL sets the base URL of the deep links carrying one-time codes
func WithActionURL(u string) Option {
	return func(a *Auth) { a.actionURL = u }
}

// WithSecret sets the HMAC key signing one-time codes
func WithSecret(secret []byte) Option {
	return func(a *Auth) { a.secret = secret }
}

func WithCodeTTL(d time.Duration) Option {
	return func(a *Auth) { a.codeTTL = d }
}

func WithBcryptCost(cost int) Option {
	return func(a *Auth) { a.cost = cost }
}

// WithDelayedRestore holds back the first session notification of every subscriber
// until Restore is called
func WithDelayedRestore() Option {
	return func(a *Auth) { a.held = true }
}

type account struct {
	identity gateway.Identity
	hash     []byte
}

type actionClaims struct {
	Mode string `json:"mode"`
	jwt.RegisteredClaims
}

// Auth is an in-process auth provider with email/password, popup and anonymous sign-in
type Auth struct {
	mu        sync.Mutex
	accounts  map[string]*account // by uid
	byEmail   map[string]string
	providers map[string]gateway.Identity
	current   *gateway.Identity
	listeners map[int]func(*gateway.Identity)
	nextID    int
	held      bool
	pending   []int

	mailer    Mailer
	actionURL string
	secret    []byte
	codeTTL   time.Duration
	cost      int
	used      map[string]struct{}
}

var _ gateway.Auth = (*Auth)(nil)

func NewAuth(opts ...Option) *Auth {
	a := &Auth{
		accounts:  make(map[string]*account),
		byEmail:   make(map[string]string),
		providers: make(map[string]gateway.Identity),
		listeners: make(map[int]func(*gateway.Identity)),
		mailer:    func(string, string) {},
		actionURL: "http://localhost:9000/auth/action",
		codeTTL:   defaultCodeTTL,
		cost:      bcrypt.DefaultCost,
		used:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.secret == nil {
		a.secret = make([]byte, 32)
		_, _ = rand.Read(a.secret)
	}
	return a
}

// RegisterProvider makes popup sign-in with provider succeed with the given profile
func (a *Auth) RegisterProvider(provider string, profile gateway.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers[provider] = profile
}

func (a *Auth) SignInWithEmail(_ context.Context, email, password string) (gateway.Identity, error) {
	a.mu.Lock()
	uid, ok := a.byEmail[normalizeEmail(email)]
	if !ok {
		a.mu.Unlock()
		return gateway.Identity{}, gateway.ErrInvalidCredentials
	}
	acc := a.accounts[uid]
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		a.mu.Unlock()
		return gateway.Identity{}, gateway.ErrInvalidCredentials
	}
	id := acc.identity
	a.current = &id
	listeners := a.listenersLocked()
	a.mu.Unlock()

	notify(listeners, &id)
	return id, nil
}

func (a *Auth) SignInWithPopup(_ context.Context, provider string) (gateway.Identity, error) {
	a.mu.Lock()
	profile, ok := a.providers[provider]
	if !ok {
		a.mu.Unlock()
		return gateway.Identity{}, gateway.ErrPopupClosed
	}

	email := normalizeEmail(profile.Email)
	uid, exists := a.byEmail[email]
	if !exists {
		uid = uuid.NewString()
		profile.UID = uid
		profile.EmailVerified = true
		a.accounts[uid] = &account{identity: profile}
		if email != "" {
			a.byEmail[email] = uid
		}
	}
	id := a.accounts[uid].identity
	a.current = &id
	listeners := a.listenersLocked()
	a.mu.Unlock()

	notify(listeners, &id)
	return id, nil
}

func (a *Auth) SignInAnonymously(_ context.Context) (gateway.Identity, error) {
	a.mu.Lock()
	id := gateway.Identity{UID: uuid.NewString(), IsAnonymous: true}
	a.accounts[id.UID] = &account{identity: id}
	a.current = &id
	listeners := a.listenersLocked()
	a.mu.Unlock()

	notify(listeners, &id)
	return id, nil
}

func (a *Auth) SignUp(_ context.Context, email, password string) (gateway.Identity, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return gateway.Identity{}, gateway.ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return gateway.Identity{}, gateway.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return gateway.Identity{}, err
	}

	a.mu.Lock()
	if _, exists := a.byEmail[email]; exists {
		a.mu.Unlock()
		return gateway.Identity{}, gateway.ErrEmailInUse
	}
	id := gateway.Identity{UID: uuid.NewString(), Email: email}
	a.accounts[id.UID] = &account{identity: id, hash: hash}
	a.byEmail[email] = id.UID
	a.current = &id
	listeners := a.listenersLocked()
	a.mu.Unlock()

	notify(listeners, &id)
	return id, nil
}

func (a *Auth) SignOut(_ context.Context) error {
	a.mu.Lock()
	a.current = nil
	listeners := a.listenersLocked()
	a.mu.Unlock()

	notify(listeners, nil)
	return nil
}

func (a *Auth) CurrentUser() (gateway.Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return gateway.Identity{}, false
	}
	return *a.current, true
}

func (a *Auth) Reload(_ context.Context) (gateway.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return gateway.Identity{}, gateway.ErrNoUser
	}
	acc, ok := a.accounts[a.current.UID]
	if !ok {
		return gateway.Identity{}, gateway.ErrNoUser
	}
	id := acc.identity
	a.current = &id
	return id, nil
}

func (a *Auth) UpdateProfile(_ context.Context, update gateway.ProfileUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return gateway.ErrNoUser
	}
	acc := a.accounts[a.current.UID]
	if update.DisplayName != nil {
		acc.identity.DisplayName = *update.DisplayName
		a.current.DisplayName = *update.DisplayName
	}
	if update.PhotoURL != nil {
		acc.identity.PhotoURL = *update.PhotoURL
		a.current.PhotoURL = *update.PhotoURL
	}
	return nil
}

func (a *Auth) SendEmailVerification(_ context.Context) error {
	a.mu.Lock()
	if a.current == nil || a.current.IsAnonymous {
		a.mu.Unlock()
		return gateway.ErrNoUser
	}
	uid, email := a.current.UID, a.current.Email
	a.mu.Unlock()

	return a.sendCode(ModeVerifyEmail, uid, email)
}

// SendPasswordResetEmail mails a reset link. Unknown addresses are accepted silently.
func (a *Auth) SendPasswordResetEmail(_ context.Context, email string) error {
	email = normalizeEmail(email)
	a.mu.Lock()
	uid, ok := a.byEmail[email]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.sendCode(ModeResetPassword, uid, email)
}

func (a *Auth) ConfirmPasswordReset(_ context.Context, code, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return gateway.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), a.cost)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.redeemLocked(code, ModeResetPassword)
	if err != nil {
		return err
	}
	acc.hash = hash
	return nil
}

// ApplyActionCode applies an email verification code. The cached current user is not
// refreshed, callers reload to observe the change.
func (a *Auth) ApplyActionCode(_ context.Context, code string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.redeemLocked(code, ModeVerifyEmail)
	if err != nil {
		return err
	}
	acc.identity.EmailVerified = true
	return nil
}

func (a *Auth) OnAuthStateChanged(f func(*gateway.Identity)) func() {
	a.mu.Lock()
	a.nextID++
	key := a.nextID
	a.listeners[key] = f
	var current *gateway.Identity
	if a.current != nil {
		id := *a.current
		current = &id
	}
	held := a.held
	if held {
		a.pending = append(a.pending, key)
	}
	a.mu.Unlock()

	if !held {
		f(current)
	}

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, key)
	}
}

// Restore delivers the held first notification to subscribers registered so far
// and stops holding back new ones
func (a *Auth) Restore() {
	a.mu.Lock()
	a.held = false
	var fs []func(*gateway.Identity)
	for _, key := range a.pending {
		if f, ok := a.listeners[key]; ok {
			fs = append(fs, f)
		}
	}
	a.pending = nil
	var current *gateway.Identity
	if a.current != nil {
		id := *a.current
		current = &id
	}
	a.mu.Unlock()

	notify(fs, current)
}

func (a *Auth) sendCode(mode, uid, email string) error {
	now := time.Now()
	claims := actionClaims{
		Mode: mode,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.codeTTL)),
		},
	}
	code, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return fmt.Errorf("signing action code: %w", err)
	}

	link := fmt.Sprintf("%s?mode=%s&oobCode=%s", a.actionURL, mode, url.QueryEscape(code))
	a.mailer(email, link)
	return nil
}

func (a *Auth) redeemLocked(code, mode string) (*account, error) {
	var claims actionClaims
	_, err := jwt.ParseWithClaims(code, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.Mode != mode {
		return nil, gateway.ErrInvalidActionCode
	}
	if _, spent := a.used[claims.ID]; spent {
		return nil, gateway.ErrInvalidActionCode
	}
	acc, ok := a.accounts[claims.Subject]
	if !ok {
		return nil, gateway.ErrInvalidActionCode
	}
	a.used[claims.ID] = struct{}{}
	return acc, nil
}

func (a *Auth) listenersLocked() []func(*gateway.Identity) {
	fs := make([]func(*gateway.Identity), 0, len(a.listeners))
	for key, f := range a.listeners {
		if a.held && containsKey(a.pending, key) {
			continue
		}
		fs = append(fs, f)
	}
	return fs
}

func notify(fs []func(*gateway.Identity), id *gateway.Identity) {
	for _, f := range fs {
		if id == nil {
			f(nil)
			continue
		}
		cp := *id
		f(&cp)
	}
}

func containsKey(keys []int, key int) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
