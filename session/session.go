// Package session owns the signed in user. It restores the session from the
// local cache, refreshes expired tokens and tells listeners whenever the user
// signs in, signs out or edits their profile.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bunnyup/backend"
	"bunnyup/forms"
	"bunnyup/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrConfirmationPending is returned by SignUp when the account was created
// but has to be confirmed by email before it can sign in
var ErrConfirmationPending = errors.New("check your inbox to confirm the account")

// ErrSignedOut is returned by operations that need a signed in user
var ErrSignedOut = errors.New("not signed in")

// refreshMargin refreshes tokens that expire this soon
const refreshMargin = time.Minute

// Backend is the auth and profile surface of the hosted backend
type Backend interface {
	SignUp(ctx context.Context, email, password, name string) (backend.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (backend.Session, error)
	Refresh(ctx context.Context, refreshToken string) (backend.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, userID string) (models.User, error)
	UpdateUser(ctx context.Context, userID string, form forms.ProfileForm) (models.User, error)
	SetAccessToken(token string)
}

// Store persists the session between runs
type Store interface {
	SaveSession(ctx context.Context, session backend.Session) error
	LoadSession(ctx context.Context) (backend.Session, bool, error)
	ClearSession(ctx context.Context) error
	SaveProfile(ctx context.Context, user models.User) error
	LoadProfile(ctx context.Context, userID string) (models.User, bool, error)
}

// State is what listeners see. User is the profile row merged over the
// account.
type State struct {
	SignedIn bool
	Session  backend.Session
	User     models.User
}

type Manager struct {
	backend Backend
	store   Store

	mu    sync.RWMutex
	state State

	listenersMu sync.Mutex
	listeners   map[string]func(State)
}

func NewManager(b Backend, store Store) *Manager {
	return &Manager{
		backend:   b,
		store:     store,
		listeners: make(map[string]func(State)),
	}
}

// Current returns the current state
func (m *Manager) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnChange registers fn to be called with every new state. The returned
// function unregisters it.
func (m *Manager) OnChange(fn func(State)) func() {
	key := uuid.NewString()

	m.listenersMu.Lock()
	m.listeners[key] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, key)
	}
}

// Init restores the stored session. An expired token is refreshed; when that
// fails the stored session is dropped and the manager starts signed out.
func (m *Manager) Init(ctx context.Context) (State, error) {
	stored, ok, err := m.store.LoadSession(ctx)
	if err != nil {
		return State{}, fmt.Errorf("failed to restore session: %w", err)
	}
	if !ok || !stored.Valid() {
		return m.set(State{}), nil
	}

	if m.expired(stored) {
		log.WithField("userId", stored.User.ID).Info("Refreshing expired session")
		refreshed, err := m.backend.Refresh(ctx, stored.RefreshToken)
		if err != nil {
			log.WithFields(log.Fields{
				"userId": stored.User.ID,
				"error":  err,
			}).Warn("Could not refresh session, signing out")
			if err := m.store.ClearSession(ctx); err != nil {
				return State{}, err
			}
			m.backend.SetAccessToken("")
			return m.set(State{}), nil
		}
		stored = refreshed
	}

	return m.establish(ctx, stored)
}

// SignIn validates the form and signs in with email and password
func (m *Manager) SignIn(ctx context.Context, form forms.LoginForm) (State, error) {
	if err := form.Validate(); err != nil {
		return State{}, err
	}
	form = form.Trimmed()

	session, err := m.backend.SignInWithPassword(ctx, form.Email, form.Password)
	if err != nil {
		return State{}, err
	}
	return m.establish(ctx, session)
}

// SignUp validates the form and registers the account. When the backend
// requires email confirmation ErrConfirmationPending is returned and the
// manager stays signed out.
func (m *Manager) SignUp(ctx context.Context, form forms.SignUpForm) (State, error) {
	if err := form.Validate(); err != nil {
		return State{}, err
	}
	form = form.Trimmed()

	session, err := m.backend.SignUp(ctx, form.Email, form.Password, form.Name)
	if err != nil {
		return State{}, err
	}
	if !session.Valid() {
		return m.Current(), ErrConfirmationPending
	}
	return m.establish(ctx, session)
}

// SignOut revokes the session remotely and forgets it locally. The local
// session is dropped even when the remote call fails.
func (m *Manager) SignOut(ctx context.Context) error {
	current := m.Current()
	if !current.SignedIn {
		return nil
	}

	remoteErr := m.backend.SignOut(ctx, current.Session.AccessToken)
	if remoteErr != nil {
		log.WithField("error", remoteErr).Warn("Remote sign out failed")
	}

	m.backend.SetAccessToken("")
	m.set(State{})
	if err := m.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("failed to clear stored session: %w", err)
	}

	log.WithField("userId", current.User.ID).Info("Signed out")
	return remoteErr
}

// SetProfile saves the profile form for the signed in user
func (m *Manager) SetProfile(ctx context.Context, form forms.ProfileForm) (State, error) {
	current := m.Current()
	if !current.SignedIn {
		return current, ErrSignedOut
	}

	user, err := m.backend.UpdateUser(ctx, current.User.ID, form)
	if err != nil {
		return current, err
	}
	if user.Email == "" {
		user.Email = current.User.Email
	}

	if err := m.store.SaveProfile(ctx, user); err != nil {
		log.WithField("error", err).Warn("Could not cache profile")
	}

	current.User = user
	return m.set(current), nil
}

// establish makes session the current one and loads the user's profile
func (m *Manager) establish(ctx context.Context, session backend.Session) (State, error) {
	m.backend.SetAccessToken(session.AccessToken)
	if err := m.store.SaveSession(ctx, session); err != nil {
		return State{}, err
	}

	account := models.User{
		ID:    session.User.ID,
		Name:  session.User.Name(),
		Email: session.User.Email,
	}

	profile, err := m.backend.GetUser(ctx, session.User.ID)
	if err != nil {
		cached, ok, cacheErr := m.store.LoadProfile(ctx, session.User.ID)
		if cacheErr != nil || !ok {
			log.WithFields(log.Fields{
				"userId": session.User.ID,
				"error":  err,
			}).Warn("Could not load profile")
			cached = models.User{}
		}
		profile = cached
	} else if err := m.store.SaveProfile(ctx, profile); err != nil {
		log.WithField("error", err).Warn("Could not cache profile")
	}

	log.WithField("userId", session.User.ID).Info("Signed in")
	return m.set(State{
		SignedIn: true,
		Session:  session,
		User:     mergeProfile(account, profile),
	}), nil
}

func (m *Manager) set(state State) State {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.listenersMu.Lock()
	listeners := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
	return state
}

// expired reports whether the session's token is expired or about to be. The
// exp claim of the token wins over the stored expiry.
func (m *Manager) expired(session backend.Session) bool {
	expiresAt := session.ExpiresAt
	if exp, err := TokenExpiry(session.AccessToken); err == nil {
		expiresAt = exp
	}
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(refreshMargin).After(expiresAt)
}

// TokenExpiry reads the exp claim of an access token. The signature is not
// checked.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no expiry")
	}
	return exp.Time, nil
}

// mergeProfile lays the non-empty profile fields over base
func mergeProfile(base, profile models.User) models.User {
	if profile.ID != "" {
		base.ID = profile.ID
	}
	if profile.Name != "" {
		base.Name = profile.Name
	}
	if profile.Image != nil {
		base.Image = profile.Image
	}
	if profile.Bio != "" {
		base.Bio = profile.Bio
	}
	if profile.Address != "" {
		base.Address = profile.Address
	}
	if profile.PhoneNumber != "" {
		base.PhoneNumber = profile.PhoneNumber
	}
	if profile.Email != "" {
		base.Email = profile.Email
	}
	return base
}
