package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"bunnyup/forms"
	"bunnyup/models"

	"github.com/supabase-community/postgrest-go"
)

// PostMediaFolder is the storage folder post media is uploaded to
const PostMediaFolder = "postImages"

var newestFirst = &postgrest.OrderOpts{Ascending: false}

// FetchPosts returns the newest posts up to limit with their authors, likes
// and comment counts
func (c *Client) FetchPosts(ctx context.Context, limit int) ([]models.Post, error) {
	var rows []PostRow
	_, err := c.rest(ctx, tablePosts).From(tablePosts).
		Select(selectFeedPosts, "", false).
		Order("created_at", newestFirst).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts: %w", err)
	}

	posts := make([]models.Post, 0, len(rows))
	for _, row := range rows {
		posts = append(posts, row.Model())
	}
	return posts, nil
}

// FetchPostDetails returns one post with its comments, newest comment first
func (c *Client) FetchPostDetails(ctx context.Context, postID int64) (models.Post, error) {
	var row PostRow
	_, err := c.rest(ctx, tablePosts).From(tablePosts).
		Select(selectPostDetails, "", false).
		Eq("id", formatID(postID)).
		Order("created_at", &postgrest.OrderOpts{ForeignTable: "comments"}).
		Single().
		ExecuteTo(&row)
	if err != nil {
		return models.Post{}, fmt.Errorf("failed to fetch post %d: %w", postID, err)
	}
	post := row.Model()
	if post.Comments == nil {
		post.Comments = []models.Comment{}
	}
	return post, nil
}

// postPayload builds the row to write. A file removed while editing is sent
// as null so the stored media reference is dropped.
func postPayload(form forms.PostForm, userID, file string) map[string]any {
	payload := map[string]any{
		"body":   form.Body,
		"userId": userID,
	}
	if form.ID != 0 {
		payload["id"] = form.ID
	}
	switch {
	case file != "":
		payload["file"] = file
	case form.FileCleared:
		payload["file"] = nil
	}
	return payload
}

// UpsertPost creates the post, or updates it when form.ID is set. A local
// file is uploaded first and the post stores its public URL; a URL is kept
// as is.
func (c *Client) UpsertPost(ctx context.Context, userID string, form forms.PostForm) (models.Post, error) {
	if err := form.Validate(); err != nil {
		return models.Post{}, err
	}

	var file string
	if form.File != "" {
		var err error
		if file, err = c.resolveMedia(ctx, form.File); err != nil {
			return models.Post{}, err
		}
	}
	payload := postPayload(form, userID, file)

	query := c.rest(ctx, tablePosts).From(tablePosts)
	query.Select(selectFeedPosts, "", false)
	var write *postgrest.FilterBuilder
	if form.ID != 0 {
		write = query.Upsert(payload, "", "representation", "")
	} else {
		write = query.Insert(payload, false, "", "representation", "")
	}

	var row PostRow
	if _, err := write.Single().ExecuteTo(&row); err != nil {
		return models.Post{}, fmt.Errorf("failed to save post: %w", err)
	}
	return row.Model(), nil
}

func (c *Client) resolveMedia(ctx context.Context, file string) (string, error) {
	if strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://") {
		return file, nil
	}
	if c.uploader == nil {
		return "", fmt.Errorf("no object store configured to upload %s", file)
	}
	uploaded, err := c.uploader.Upload(ctx, PostMediaFolder, file)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	return uploaded, nil
}

func (c *Client) RemovePost(ctx context.Context, postID int64) error {
	_, _, err := c.rest(ctx, tablePosts).From(tablePosts).
		Delete("minimal", "").
		Eq("id", formatID(postID)).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to remove post %d: %w", postID, err)
	}
	return nil
}

func formatID(value int64) string {
	return strconv.FormatInt(value, 10)
}
