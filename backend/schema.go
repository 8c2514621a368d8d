package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"bunnyup/models"

	"github.com/samber/lo"
)

// Tables and the select lists used against them. Column names follow the
// hosted schema: foreign keys are camelCase, created_at is snake case.
const (
	tablePosts         = "posts"
	tableComments      = "comments"
	tableLikes         = "post_likes"
	tableUsers         = "users"
	tableNotifications = "notifications"

	authorColumns = "id,name,image"

	selectFeedPosts    = "*,user:users(" + authorColumns + "),postLikes:post_likes(*),commentCount:comments(count)"
	selectPostDetails  = "*,user:users(" + authorColumns + "),postLikes:post_likes(*),comments(*,user:users(" + authorColumns + "))"
	selectComment      = "*,user:users(" + authorColumns + ")"
	selectNotification = "*,sender:senderId(" + authorColumns + ")"
)

// Timestamp accepts the timestamp formats the REST and realtime APIs emit.
// Realtime records of timestamp columns carry no zone and are read as UTC.
type Timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(value)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// UserRow is a row of the users table, or the embedded author of another row
type UserRow struct {
	ID          string  `json:"id"`
	Name        *string `json:"name"`
	Image       *string `json:"image"`
	Bio         *string `json:"bio,omitempty"`
	Address     *string `json:"address,omitempty"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
	Email       *string `json:"email,omitempty"`
}

func (r UserRow) Model() models.User {
	return models.User{
		ID:          r.ID,
		Name:        lo.FromPtr(r.Name),
		Image:       r.Image,
		Bio:         lo.FromPtr(r.Bio),
		Address:     lo.FromPtr(r.Address),
		PhoneNumber: lo.FromPtr(r.PhoneNumber),
		Email:       lo.FromPtr(r.Email),
	}
}

func userModel(row *UserRow) *models.User {
	if row == nil {
		return nil
	}
	user := row.Model()
	return &user
}

// LikeRow is a row of the post_likes table
type LikeRow struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"postId"`
	UserID    string    `json:"userId"`
	CreatedAt Timestamp `json:"created_at"`
}

func (r LikeRow) Model() models.Like {
	return models.Like{
		ID:        r.ID,
		PostID:    r.PostID,
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt.Time(),
	}
}

// CommentRow is a row of the comments table
type CommentRow struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"postId"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt Timestamp `json:"created_at"`
	User      *UserRow  `json:"user,omitempty"`
}

func (r CommentRow) Model() models.Comment {
	return models.Comment{
		ID:        r.ID,
		PostID:    r.PostID,
		UserID:    r.UserID,
		Text:      r.Text,
		CreatedAt: r.CreatedAt.Time(),
		User:      userModel(r.User),
	}
}

type countRow struct {
	Count int `json:"count"`
}

// PostRow is a row of the posts table with its optional embeddings
type PostRow struct {
	ID           int64        `json:"id"`
	CreatedAt    Timestamp    `json:"created_at"`
	Body         string       `json:"body"`
	File         *string      `json:"file"`
	UserID       string       `json:"userId"`
	User         *UserRow     `json:"user,omitempty"`
	PostLikes    []LikeRow    `json:"postLikes,omitempty"`
	Comments     []CommentRow `json:"comments,omitempty"`
	CommentCount []countRow   `json:"commentCount,omitempty"`
}

func (r PostRow) Model() models.Post {
	post := models.Post{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.Time(),
		Body:      r.Body,
		File:      r.File,
		UserID:    r.UserID,
		User:      userModel(r.User),
		Likes:     lo.Map(r.PostLikes, func(l LikeRow, _ int) models.Like { return l.Model() }),
	}

	if r.Comments != nil {
		post.Comments = lo.Map(r.Comments, func(c CommentRow, _ int) models.Comment { return c.Model() })
		post.CommentCount = len(post.Comments)
	}
	if len(r.CommentCount) > 0 {
		post.CommentCount = r.CommentCount[0].Count
	}
	return post
}

// NotificationRow is a row of the notifications table
type NotificationRow struct {
	ID         int64           `json:"id"`
	CreatedAt  Timestamp       `json:"created_at"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Title      string          `json:"title"`
	Data       json.RawMessage `json:"data"`
	Sender     *UserRow        `json:"sender,omitempty"`
}

func (r NotificationRow) Model() models.Notification {
	return models.Notification{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt.Time(),
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Title:      r.Title,
		Data:       dataText(r.Data),
		Sender:     userModel(r.Sender),
	}
}

// dataText accepts the data column both as a json column and as text holding
// json
func dataText(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
