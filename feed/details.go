package feed

import (
	"context"
	"fmt"

	"bunnyup/forms"
	"bunnyup/models"

	log "github.com/sirupsen/logrus"
)

// DetailsStore is the backend surface the post details screen needs
type DetailsStore interface {
	LikeStore
	FetchPostDetails(ctx context.Context, postID int64) (models.Post, error)
	CreateComment(ctx context.Context, postID int64, userID, text string) (models.Comment, error)
	RemoveComment(ctx context.Context, commentID int64) error
	RemovePost(ctx context.Context, postID int64) error
	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error)
}

// Details mirrors a single post together with its comments. It is a Feed of
// at most one post that ignores pushed post inserts.
type Details struct {
	*Feed
	postID int64
	store  DetailsStore
}

func NewDetails(postID int64, store DetailsStore, resolver UserResolver) *Details {
	fetcher := FetcherFunc(func(ctx context.Context, _ int) ([]models.Post, error) {
		post, err := store.FetchPostDetails(ctx, postID)
		if err != nil {
			return nil, err
		}
		return []models.Post{post}, nil
	})

	return &Details{
		Feed: New(fetcher,
			WithPageSize(1),
			WithResolver(resolver),
			WithLiker(NewLiker(store)),
			WithFixedMembership(),
		),
		postID: postID,
		store:  store,
	}
}

func (d *Details) PostID() int64 {
	return d.postID
}

// Load fetches the post with its comments
func (d *Details) Load(ctx context.Context) (models.Post, error) {
	if _, err := d.LoadMore(ctx); err != nil {
		return models.Post{}, err
	}
	post, ok := d.Post(d.postID)
	if !ok {
		return models.Post{}, fmt.Errorf("post %d not found", d.postID)
	}
	return post, nil
}

// AddComment validates the form, creates the comment and notifies the post
// owner. The comment is merged locally right away, a redelivery through the
// change feed is then ignored.
func (d *Details) AddComment(ctx context.Context, author models.User, form forms.CommentForm) (models.Comment, error) {
	if err := form.Validate(); err != nil {
		return models.Comment{}, err
	}

	comment, err := d.store.CreateComment(ctx, d.postID, author.ID, form.Text)
	if err != nil {
		return models.Comment{}, err
	}
	if comment.User == nil {
		comment.User = &author
	}

	d.mutate(func(posts []models.Post) []models.Post {
		return InsertComment(posts, d.postID, comment)
	})

	if post, ok := d.Post(d.postID); ok && post.UserID != author.ID {
		d.notifyOwner(ctx, post, comment)
	}

	return comment, nil
}

func (d *Details) notifyOwner(ctx context.Context, post models.Post, comment models.Comment) {
	data := fmt.Sprintf(`{"postId":%d,"commentId":%d}`, post.ID, comment.ID)

	_, err := d.store.CreateNotification(ctx, models.Notification{
		SenderID:   comment.UserID,
		ReceiverID: post.UserID,
		Title:      "commented on your post",
		Data:       data,
	})
	if err != nil {
		// The comment itself went through
		log.WithFields(log.Fields{
			"postId":    post.ID,
			"commentId": comment.ID,
			"error":     err,
		}).Warn("Could not notify post owner")
	}
}

// DeleteComment removes the comment remotely, then locally
func (d *Details) DeleteComment(ctx context.Context, commentID int64) error {
	if err := d.store.RemoveComment(ctx, commentID); err != nil {
		return err
	}
	d.mutate(func(posts []models.Post) []models.Post {
		return DeleteComment(posts, commentID)
	})
	return nil
}

// DeletePost removes the post remotely and tears the details state down
func (d *Details) DeletePost(ctx context.Context) error {
	if err := d.store.RemovePost(ctx, d.postID); err != nil {
		return err
	}
	d.mutate(func(posts []models.Post) []models.Post {
		return DeletePost(posts, d.postID)
	})
	d.Close()
	return nil
}
