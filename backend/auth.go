package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"
)

// AuthUser is the account record kept by the auth API
type AuthUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Name returns the display name given at sign up, if any
func (u AuthUser) Name() string {
	name, _ := u.UserMetadata["name"].(string)
	return name
}

// Session is a signed in auth session. AccessToken is empty when sign up
// still awaits email confirmation.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         AuthUser  `json:"user"`
}

func (s Session) Valid() bool {
	return s.AccessToken != ""
}

func authUser(u types.User) AuthUser {
	user := AuthUser{Email: u.Email, UserMetadata: u.UserMetadata}
	if u.ID != uuid.Nil {
		user.ID = u.ID.String()
	}
	return user
}

func sessionFrom(s types.Session, now time.Time) Session {
	out := Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         authUser(s.User),
	}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		out.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	return out
}

// SignUp registers an account, storing name in the user metadata
func (c *Client) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	resp, err := c.authClient(ctx, "auth/signup", "").Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"name": name},
	})
	if err != nil {
		return Session{}, fmt.Errorf("sign up failed: %w", err)
	}

	// Without auto confirmation the response is the bare user
	s := sessionFrom(resp.Session, time.Now())
	s.User = authUser(resp.User)
	return s, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	resp, err := c.authClient(ctx, "auth/token", "").SignInWithEmailPassword(email, password)
	if err != nil {
		return Session{}, fmt.Errorf("sign in failed: %w", err)
	}
	return sessionFrom(resp.Session, time.Now()), nil
}

// Refresh trades a refresh token for a new session
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	resp, err := c.authClient(ctx, "auth/token", "").RefreshToken(refreshToken)
	if err != nil {
		return Session{}, fmt.Errorf("session refresh failed: %w", err)
	}
	return sessionFrom(resp.Session, time.Now()), nil
}

// SignOut revokes the session behind accessToken
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if err := c.authClient(ctx, "auth/logout", accessToken).Logout(); err != nil {
		return fmt.Errorf("sign out failed: %w", err)
	}
	return nil
}

// GetAuthUser returns the account behind accessToken
func (c *Client) GetAuthUser(ctx context.Context, accessToken string) (AuthUser, error) {
	resp, err := c.authClient(ctx, "auth/user", accessToken).GetUser()
	if err != nil {
		return AuthUser{}, fmt.Errorf("failed to fetch account: %w", err)
	}
	return authUser(resp.User), nil
}
