// Package profiles resolves user ids to public profiles, caching lookups so a
// burst of pushed rows by the same author costs one request.
package profiles

import (
	"context"
	"fmt"

	"bunnyup/models"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

const DefaultSize = 256

// Source loads a user from the backend
type Source interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// Resolver is safe for concurrent use. Failed lookups are not cached.
type Resolver struct {
	source Source
	cache  *lru.Cache[string, models.User]
}

func NewResolver(source Source, size int) (*Resolver, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[string, models.User](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}
	return &Resolver{source: source, cache: cache}, nil
}

// Resolve returns the public part of the profile: id, name and image
func (r *Resolver) Resolve(ctx context.Context, userID string) (models.User, error) {
	if user, ok := r.cache.Get(userID); ok {
		return user, nil
	}

	user, err := r.source.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	public := models.User{ID: user.ID, Name: user.Name, Image: user.Image}
	r.cache.Add(userID, public)
	log.WithField("userId", userID).Debug("Cached profile")
	return public, nil
}

// Forget drops a cached profile, e.g. after the user edited it
func (r *Resolver) Forget(userID string) {
	r.cache.Remove(userID)
}
