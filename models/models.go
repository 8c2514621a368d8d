package models

import "time"

// User is the public profile row joined onto posts, comments and notifications
type User struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Image       *string `json:"image,omitempty"`
	Bio         string  `json:"bio,omitempty"`
	Address     string  `json:"address,omitempty"`
	PhoneNumber string  `json:"phoneNumber,omitempty"`
	Email       string  `json:"email,omitempty"`
}

// Post is a feed item with its likes and (when loaded) comments
type Post struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Body         string    `json:"body"`
	File         *string   `json:"file,omitempty"`
	UserID       string    `json:"userId"`
	User         *User     `json:"user,omitempty"`
	Likes        []Like    `json:"likes"`
	Comments     []Comment `json:"comments,omitempty"`
	CommentCount int       `json:"commentCount"`
}

// Comment on a post
type Comment struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"postId"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	User      *User     `json:"user,omitempty"`
}

// Like is identified by the (UserID, PostID) pair
type Like struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"postId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification sent from one user to another, Data holds a JSON object with
// the postId and optional commentId it refers to
type Notification struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Title      string    `json:"title"`
	Data       string    `json:"data"`
	Sender     *User     `json:"sender,omitempty"`
}

// PostPatch carries the fields of an updated post row. Nil fields are left
// untouched when the patch is applied.
type PostPatch struct {
	Body      *string `json:"body,omitempty"`
	File      *string `json:"file,omitempty"`
	ClearFile bool    `json:"clearFile,omitempty"`
}

// CreatePostEvent fired when a new post is created
type CreatePostEvent struct {
	Post Post
}

// UpdatePostEvent fired when a post is updated
type UpdatePostEvent struct {
	ID    int64
	Patch PostPatch
}

// DeletePostEvent fired when a post is deleted
type DeletePostEvent struct {
	ID int64
}

// CreateCommentEvent fired when a comment is created
type CreateCommentEvent struct {
	Comment Comment
}

// DeleteCommentEvent fired when a comment is deleted
type DeleteCommentEvent struct {
	ID int64
}

// CreateLikeEvent fired when a post is liked
type CreateLikeEvent struct {
	Like Like
}

// DeleteLikeEvent fired when a like is removed. PostID and UserID are only
// set when the backend ships the full old row.
type DeleteLikeEvent struct {
	ID     int64
	PostID int64
	UserID string
}

// CreateNotificationEvent fired when a notification is created
type CreateNotificationEvent struct {
	Notification Notification
}

// FeedResponse is what the preview server returns for the feed
type FeedResponse struct {
	Feed      []Post `json:"feed"`
	Limit     int    `json:"limit"`
	Exhausted bool   `json:"exhausted"`
}
