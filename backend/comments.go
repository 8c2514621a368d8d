package backend

import (
	"context"
	"fmt"

	"bunnyup/models"
)

func (c *Client) CreateComment(ctx context.Context, postID int64, userID, text string) (models.Comment, error) {
	query := c.rest(ctx, tableComments).From(tableComments)
	query.Select(selectComment, "", false)

	var row CommentRow
	_, err := query.Insert(map[string]any{
		"postId": postID,
		"userId": userID,
		"text":   text,
	}, false, "", "representation", "").Single().ExecuteTo(&row)
	if err != nil {
		return models.Comment{}, fmt.Errorf("failed to create comment: %w", err)
	}
	return row.Model(), nil
}

func (c *Client) RemoveComment(ctx context.Context, commentID int64) error {
	_, _, err := c.rest(ctx, tableComments).From(tableComments).
		Delete("minimal", "").
		Eq("id", formatID(commentID)).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to remove comment %d: %w", commentID, err)
	}
	return nil
}

// CreateLike inserts a like and returns the stored record
func (c *Client) CreateLike(ctx context.Context, postID int64, userID string) (models.Like, error) {
	var row LikeRow
	_, err := c.rest(ctx, tableLikes).From(tableLikes).
		Insert(map[string]any{
			"postId": postID,
			"userId": userID,
		}, false, "", "representation", "").
		Single().
		ExecuteTo(&row)
	if err != nil {
		return models.Like{}, fmt.Errorf("failed to create like: %w", err)
	}
	return row.Model(), nil
}

// RemoveLike deletes the user's like on a post
func (c *Client) RemoveLike(ctx context.Context, postID int64, userID string) error {
	_, _, err := c.rest(ctx, tableLikes).From(tableLikes).
		Delete("minimal", "").
		Eq("postId", formatID(postID)).
		Eq("userId", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to remove like: %w", err)
	}
	return nil
}
