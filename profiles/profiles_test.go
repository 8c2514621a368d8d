package profiles_test

import (
	"context"
	"errors"
	"testing"

	"bunnyup/models"
	"bunnyup/profiles"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls map[string]int
	users map[string]models.User
}

func (s *countingSource) GetUser(_ context.Context, userID string) (models.User, error) {
	s.calls[userID]++
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	return models.User{}, errors.New("not found")
}

func TestResolveCaches(t *testing.T) {
	source := &countingSource{
		calls: map[string]int{},
		users: map[string]models.User{
			"u1": {ID: "u1", Name: "Ann", Image: lo.ToPtr("a.png"), PhoneNumber: "555", Address: "Main St"},
		},
	}
	resolver, err := profiles.NewResolver(source, 2)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		user, err := resolver.Resolve(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, models.User{ID: "u1", Name: "Ann", Image: lo.ToPtr("a.png")}, user)
	}
	assert.Equal(t, 1, source.calls["u1"])

	resolver.Forget("u1")
	_, err = resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls["u1"])
}

func TestResolveDoesNotCacheFailures(t *testing.T) {
	source := &countingSource{calls: map[string]int{}, users: map[string]models.User{}}
	resolver, err := profiles.NewResolver(source, 0)
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "ghost")
	assert.Error(t, err)
	_, err = resolver.Resolve(context.Background(), "ghost")
	assert.Error(t, err)
	assert.Equal(t, 2, source.calls["ghost"])
}
