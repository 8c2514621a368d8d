package realtime_test

import (
	"encoding/json"
	"testing"
	"time"

	"bunnyup/models"
	"bunnyup/realtime"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func change(t *testing.T, raw string) realtime.Change {
	t.Helper()
	var c realtime.Change
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func TestDecode(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		payload  string
		expected interface{}
	}{
		{
			name:    "post insert",
			payload: `{"table":"posts","type":"INSERT","record":{"id":4,"body":"hi","file":null,"userId":"u1","created_at":"2026-03-01T10:00:00"},"old_record":null,"errors":null}`,
			expected: models.CreatePostEvent{Post: models.Post{
				ID: 4, Body: "hi", UserID: "u1", CreatedAt: created, Likes: []models.Like{},
			}},
		},
		{
			name:    "post update clearing the file",
			payload: `{"table":"posts","type":"UPDATE","record":{"id":4,"body":"edited","file":null,"userId":"u1","created_at":"2026-03-01T10:00:00"},"old_record":{"id":4}}`,
			expected: models.UpdatePostEvent{ID: 4, Patch: models.PostPatch{
				Body: lo.ToPtr("edited"), ClearFile: true,
			}},
		},
		{
			name:    "post update with a file",
			payload: `{"table":"posts","type":"UPDATE","record":{"id":4,"body":"edited","file":"https://cdn/x.png"}}`,
			expected: models.UpdatePostEvent{ID: 4, Patch: models.PostPatch{
				Body: lo.ToPtr("edited"), File: lo.ToPtr("https://cdn/x.png"),
			}},
		},
		{
			name:     "post delete",
			payload:  `{"table":"posts","type":"DELETE","record":null,"old_record":{"id":4}}`,
			expected: models.DeletePostEvent{ID: 4},
		},
		{
			name:    "comment insert",
			payload: `{"table":"comments","type":"INSERT","record":{"id":9,"postId":4,"userId":"u2","text":"nice","created_at":"2026-03-01T10:00:00+00:00"}}`,
			expected: models.CreateCommentEvent{Comment: models.Comment{
				ID: 9, PostID: 4, UserID: "u2", Text: "nice", CreatedAt: created,
			}},
		},
		{
			name:     "comment delete",
			payload:  `{"table":"comments","type":"DELETE","old_record":{"id":9}}`,
			expected: models.DeleteCommentEvent{ID: 9},
		},
		{
			name:    "like insert",
			payload: `{"table":"post_likes","type":"INSERT","record":{"id":3,"postId":4,"userId":"u2","created_at":"2026-03-01T10:00:00"}}`,
			expected: models.CreateLikeEvent{Like: models.Like{
				ID: 3, PostID: 4, UserID: "u2", CreatedAt: created,
			}},
		},
		{
			name:     "like delete with only the key",
			payload:  `{"table":"post_likes","type":"DELETE","old_record":{"id":3}}`,
			expected: models.DeleteLikeEvent{ID: 3},
		},
		{
			name:     "like delete with full identity",
			payload:  `{"table":"post_likes","type":"DELETE","old_record":{"id":3,"postId":4,"userId":"u2"}}`,
			expected: models.DeleteLikeEvent{ID: 3, PostID: 4, UserID: "u2"},
		},
		{
			name:    "notification insert",
			payload: `{"table":"notifications","type":"INSERT","record":{"id":1,"senderId":"u2","receiverId":"u1","title":"commented on your post","data":"{\"postId\":4}","created_at":"2026-03-01T10:00:00"}}`,
			expected: models.CreateNotificationEvent{Notification: models.Notification{
				ID: 1, SenderID: "u2", ReceiverID: "u1", Title: "commented on your post", Data: `{"postId":4}`, CreatedAt: created,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := realtime.Decode(change(t, tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, event)
		})
	}
}

func TestDecodeDropsIncompleteRows(t *testing.T) {
	payloads := []string{
		`{"table":"comments","type":"INSERT","record":{"postId":4,"userId":"u2","text":"nice","created_at":"2026-03-01T10:00:00"}}`,
		`{"table":"comments","type":"INSERT","record":{"id":9,"userId":"u2","text":"nice","created_at":"2026-03-01T10:00:00"}}`,
		`{"table":"comments","type":"INSERT","record":{"id":9,"postId":4,"text":"nice","created_at":"2026-03-01T10:00:00"}}`,
		`{"table":"comments","type":"INSERT","record":{"id":9,"postId":4,"userId":"u2","text":null,"created_at":"2026-03-01T10:00:00"}}`,
		`{"table":"comments","type":"INSERT","record":{"id":9,"postId":4,"userId":"u2","text":"nice"}}`,
		`{"table":"comments","type":"INSERT","record":{"id":"nine","postId":4,"userId":"u2","text":"nice","created_at":"2026-03-01T10:00:00"}}`,
		`{"table":"posts","type":"INSERT","record":{"id":1,"userId":"u1","created_at":"last tuesday"}}`,
		`{"table":"posts","type":"DELETE","old_record":{}}`,
		`{"table":"posts","type":"INSERT","record":{"id":1},"errors":["Error 401: Unauthorized"]}`,
	}

	for _, payload := range payloads {
		_, err := realtime.Decode(change(t, payload))
		assert.ErrorIs(t, err, realtime.ErrMalformed, payload)
	}
}

func TestDecodeUnsupported(t *testing.T) {
	_, err := realtime.Decode(change(t, `{"table":"users","type":"UPDATE","record":{"id":"u1"}}`))
	assert.ErrorIs(t, err, realtime.ErrUnsupported)

	_, err = realtime.Decode(change(t, `{"table":"notifications","type":"DELETE","old_record":{"id":1}}`))
	assert.ErrorIs(t, err, realtime.ErrUnsupported)
}
