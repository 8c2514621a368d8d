package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"bunnyup/backend"
	"bunnyup/models"
)

var (
	// ErrUnsupported is returned for changes no event type exists for
	ErrUnsupported = errors.New("unsupported change")

	// ErrMalformed is returned for changes whose record lacks required columns
	// or cannot be decoded
	ErrMalformed = errors.New("malformed change")
)

// Change is the data of a postgres_changes delivery
type Change struct {
	Schema          string                     `json:"schema"`
	Table           string                     `json:"table"`
	Type            string                     `json:"type"`
	CommitTimestamp string                     `json:"commit_timestamp"`
	Record          map[string]json.RawMessage `json:"record"`
	OldRecord       map[string]json.RawMessage `json:"old_record"`
	Errors          json.RawMessage            `json:"errors"`
}

// Decode turns a row change into the matching models event
func Decode(c Change) (interface{}, error) {
	if len(c.Errors) > 0 && !bytes.Equal(c.Errors, []byte("null")) {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, c.Errors)
	}

	switch c.Table + "/" + c.Type {
	case "posts/INSERT":
		var row backend.PostRow
		if err := decodeRecord(c.Record, &row, "id", "userId", "created_at"); err != nil {
			return nil, err
		}
		return models.CreatePostEvent{Post: row.Model()}, nil

	case "posts/UPDATE":
		var row backend.PostRow
		if err := decodeRecord(c.Record, &row, "id"); err != nil {
			return nil, err
		}
		patch := models.PostPatch{}
		if _, ok := c.Record["body"]; ok {
			body := row.Body
			patch.Body = &body
		}
		if _, ok := c.Record["file"]; ok {
			if row.File == nil {
				patch.ClearFile = true
			} else {
				patch.File = row.File
			}
		}
		return models.UpdatePostEvent{ID: row.ID, Patch: patch}, nil

	case "posts/DELETE":
		id, err := deletedID(c.OldRecord)
		if err != nil {
			return nil, err
		}
		return models.DeletePostEvent{ID: id}, nil

	case "comments/INSERT":
		var row backend.CommentRow
		if err := decodeRecord(c.Record, &row, "id", "postId", "userId", "text", "created_at"); err != nil {
			return nil, err
		}
		return models.CreateCommentEvent{Comment: row.Model()}, nil

	case "comments/DELETE":
		id, err := deletedID(c.OldRecord)
		if err != nil {
			return nil, err
		}
		return models.DeleteCommentEvent{ID: id}, nil

	case "post_likes/INSERT":
		var row backend.LikeRow
		if err := decodeRecord(c.Record, &row, "id", "postId", "userId"); err != nil {
			return nil, err
		}
		return models.CreateLikeEvent{Like: row.Model()}, nil

	case "post_likes/DELETE":
		// Without a full replica identity only the id is sent
		var row backend.LikeRow
		if err := decodeRecord(c.OldRecord, &row, "id"); err != nil {
			return nil, err
		}
		return models.DeleteLikeEvent{ID: row.ID, PostID: row.PostID, UserID: row.UserID}, nil

	case "notifications/INSERT":
		var row backend.NotificationRow
		if err := decodeRecord(c.Record, &row, "id", "senderId", "receiverId"); err != nil {
			return nil, err
		}
		return models.CreateNotificationEvent{Notification: row.Model()}, nil
	}

	return nil, fmt.Errorf("%w: %s on %s", ErrUnsupported, c.Type, c.Table)
}

func deletedID(record map[string]json.RawMessage) (int64, error) {
	var key struct {
		ID int64 `json:"id"`
	}
	if err := decodeRecord(record, &key, "id"); err != nil {
		return 0, err
	}
	return key.ID, nil
}

func decodeRecord(record map[string]json.RawMessage, out any, required ...string) error {
	for _, column := range required {
		raw, ok := record[column]
		if !ok || bytes.Equal(raw, []byte("null")) {
			return fmt.Errorf("%w: record has no %s", ErrMalformed, column)
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
