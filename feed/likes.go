package feed

import (
	"context"
	"fmt"

	"bunnyup/models"

	log "github.com/sirupsen/logrus"
)

// LikeStore writes like records to the backend
type LikeStore interface {
	CreateLike(ctx context.Context, postID int64, userID string) (models.Like, error)
	RemoveLike(ctx context.Context, postID int64, userID string) error
}

// Liker keeps at most one like per user and post. Local state only changes
// after the backend accepted the write.
type Liker struct {
	store LikeStore
}

func NewLiker(store LikeStore) *Liker {
	return &Liker{store: store}
}

// Toggle removes the user's like when likes holds one and creates it
// otherwise. It returns the like set after the toggle, or the unchanged set
// together with the error.
func (l *Liker) Toggle(ctx context.Context, likes []models.Like, postID int64, userID string) ([]models.Like, error) {
	next, _, err := l.toggle(ctx, likes, postID, userID)
	return next, err
}

// toggle also returns the server-returned record when a like was created
func (l *Liker) toggle(ctx context.Context, likes []models.Like, postID int64, userID string) ([]models.Like, *models.Like, error) {
	if HasLiked(likes, userID) {
		if err := l.store.RemoveLike(ctx, postID, userID); err != nil {
			return likes, nil, fmt.Errorf("could not unlike post %d: %w", postID, err)
		}
		log.WithFields(log.Fields{
			"postId": postID,
			"userId": userID,
		}).Debug("Removed like")
		return removeLike(likes, 0, userID), nil, nil
	}

	like, err := l.store.CreateLike(ctx, postID, userID)
	if err != nil {
		return likes, nil, fmt.Errorf("could not like post %d: %w", postID, err)
	}
	log.WithFields(log.Fields{
		"postId": postID,
		"userId": userID,
		"likeId": like.ID,
	}).Debug("Created like")
	return addLike(likes, like), &like, nil
}
