package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"bunnyup/backend"
	"bunnyup/feed"
	"bunnyup/models"
	"bunnyup/server"
	"bunnyup/session"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func posts(n int) []models.Post {
	out := make([]models.Post, 0, n)
	for i := n; i > 0; i-- {
		out = append(out, models.Post{
			ID:        int64(i),
			CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
			Body:      "post",
			UserID:    "author",
			Likes:     []models.Like{},
		})
	}
	return out
}

type fakeBackend struct {
	total         int
	fetchErr      error
	likes         map[int64]bool
	notifications []models.Notification
	receiver      string
}

func (b *fakeBackend) FetchPosts(_ context.Context, limit int) ([]models.Post, error) {
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	all := posts(b.total)
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (b *fakeBackend) CreateLike(_ context.Context, postID int64, userID string) (models.Like, error) {
	b.likes[postID] = true
	return models.Like{ID: 100 + postID, PostID: postID, UserID: userID, CreatedAt: epoch}, nil
}

func (b *fakeBackend) RemoveLike(_ context.Context, postID int64, _ string) error {
	delete(b.likes, postID)
	return nil
}

func (b *fakeBackend) FetchPostDetails(_ context.Context, id int64) (models.Post, error) {
	if id != 1 {
		return models.Post{}, &backend.Error{Status: 406, Code: "PGRST116", Message: "no rows"}
	}
	post := posts(1)[0]
	post.Comments = []models.Comment{{ID: 9, PostID: 1, UserID: "u2", Text: "hi", CreatedAt: epoch}}
	return post, nil
}

func (b *fakeBackend) FetchNotifications(_ context.Context, receiverID string) ([]models.Notification, error) {
	b.receiver = receiverID
	return b.notifications, nil
}

type staticSession struct {
	state session.State
}

func (s staticSession) Current() session.State {
	return s.state
}

func signedIn() staticSession {
	return staticSession{state: session.State{SignedIn: true, User: models.User{ID: "u1", Name: "Ann"}}}
}

func newApp(t *testing.T, b *fakeBackend, s server.Session) (*fiber.App, *feed.Feed) {
	t.Helper()
	f := feed.New(b, feed.WithPageSize(10), feed.WithLiker(feed.NewLiker(b)))
	t.Cleanup(f.Close)

	app := server.Server(&server.ServerConfig{
		Feed:          f,
		Session:       s,
		Posts:         b,
		Notifications: b,
	})
	return app, f
}

func decode[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var value T
	require.NoError(t, json.NewDecoder(body).Decode(&value))
	return value
}

func TestFeedAndLoadMore(t *testing.T) {
	b := &fakeBackend{total: 15, likes: map[int64]bool{}}
	app, _ := newApp(t, b, signedIn())

	resp, err := app.Test(httptest.NewRequest("GET", "/feed", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	empty := decode[models.FeedResponse](t, resp.Body)
	assert.NotNil(t, empty.Feed)
	assert.Empty(t, empty.Feed)

	resp, err = app.Test(httptest.NewRequest("POST", "/feed/more", nil))
	require.NoError(t, err)
	first := decode[models.FeedResponse](t, resp.Body)
	assert.Len(t, first.Feed, 10)
	assert.Equal(t, 10, first.Limit)
	assert.False(t, first.Exhausted)

	resp, err = app.Test(httptest.NewRequest("POST", "/feed/more", nil))
	require.NoError(t, err)
	second := decode[models.FeedResponse](t, resp.Body)
	assert.Len(t, second.Feed, 15)
	assert.True(t, second.Exhausted)
}

func TestLoadMoreFailure(t *testing.T) {
	b := &fakeBackend{fetchErr: &backend.Error{Status: 500, Message: "database is down"}}
	app, _ := newApp(t, b, signedIn())

	resp, err := app.Test(httptest.NewRequest("POST", "/feed/more", nil))
	require.NoError(t, err)
	assert.Equal(t, 502, resp.StatusCode)
	body := decode[map[string]string](t, resp.Body)
	assert.Equal(t, "database is down", body["error"])
}

func TestToggleLike(t *testing.T) {
	b := &fakeBackend{total: 3, likes: map[int64]bool{}}
	app, f := newApp(t, b, signedIn())
	_, err := f.LoadMore(context.Background())
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("POST", "/posts/2/like", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	liked := decode[map[string][]models.Like](t, resp.Body)
	require.Len(t, liked["likes"], 1)
	assert.Equal(t, "u1", liked["likes"][0].UserID)
	assert.True(t, b.likes[2])

	resp, err = app.Test(httptest.NewRequest("POST", "/posts/2/like", nil))
	require.NoError(t, err)
	unliked := decode[map[string][]models.Like](t, resp.Body)
	assert.Empty(t, unliked["likes"])
	assert.False(t, b.likes[2])

	post, ok := f.Post(2)
	require.True(t, ok)
	assert.Empty(t, post.Likes)
}

func TestToggleLikeRejected(t *testing.T) {
	b := &fakeBackend{total: 3, likes: map[int64]bool{}}

	tests := []struct {
		name    string
		session server.Session
		path    string
		status  int
	}{
		{"signed out", staticSession{}, "/posts/2/like", 401},
		{"not in feed", signedIn(), "/posts/42/like", 404},
		{"bad id", signedIn(), "/posts/abc/like", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, f := newApp(t, b, tt.session)
			_, err := f.LoadMore(context.Background())
			require.NoError(t, err)

			resp, err := app.Test(httptest.NewRequest("POST", tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Empty(t, b.likes)
}

func TestPostDetails(t *testing.T) {
	b := &fakeBackend{likes: map[int64]bool{}}
	app, _ := newApp(t, b, signedIn())

	resp, err := app.Test(httptest.NewRequest("GET", "/posts/1", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	post := decode[models.Post](t, resp.Body)
	assert.Equal(t, int64(1), post.ID)
	assert.Len(t, post.Comments, 1)

	resp, err = app.Test(httptest.NewRequest("GET", "/posts/7", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestNotifications(t *testing.T) {
	b := &fakeBackend{
		likes: map[int64]bool{},
		notifications: []models.Notification{
			{ID: 1, ReceiverID: "u1", SenderID: "u2", Title: "commented on your post", Data: `{"postId":1}`},
		},
	}

	app, _ := newApp(t, b, staticSession{})
	resp, err := app.Test(httptest.NewRequest("GET", "/notifications", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	app, _ = newApp(t, b, signedIn())
	resp, err = app.Test(httptest.NewRequest("GET", "/notifications", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	notifications := decode[[]models.Notification](t, resp.Body)
	assert.Equal(t, b.notifications, notifications)
	assert.Equal(t, "u1", b.receiver)
}

func TestHealthAndMetrics(t *testing.T) {
	app, _ := newApp(t, &fakeBackend{likes: map[int64]bool{}}, signedIn())

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bunnyup_server_request_duration_seconds")
}

func TestBroadcaster(t *testing.T) {
	bc := server.NewBroadcaster()
	feedClient := make(chan models.FeedResponse, 1)
	notificationClient := make(chan models.Notification, 1)
	bc.AddClient("a", feedClient, notificationClient)
	assert.Equal(t, 1, bc.Clients())

	// A slow client only keeps the newest snapshot
	bc.BroadcastFeed(models.FeedResponse{Limit: 10})
	bc.BroadcastFeed(models.FeedResponse{Limit: 20})
	assert.Equal(t, 20, (<-feedClient).Limit)

	bc.BroadcastNotification(models.Notification{ID: 1})
	bc.BroadcastNotification(models.Notification{ID: 2})
	assert.Equal(t, int64(1), (<-notificationClient).ID)

	bc.RemoveClient("a")
	bc.RemoveClient("a")
	_, open := <-feedClient
	assert.False(t, open)
	assert.Zero(t, bc.Clients())
}

func TestBroadcasterFollow(t *testing.T) {
	b := &fakeBackend{total: 2, likes: map[int64]bool{}}
	f := feed.New(b)
	defer f.Close()

	bc := server.NewBroadcaster()
	feedClient := make(chan models.FeedResponse, 1)
	bc.AddClient("a", feedClient, make(chan models.Notification, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bc.Follow(ctx, f)
		close(done)
	}()

	// Follow subscribes asynchronously, keep pushing posts until a snapshot
	// arrives
	next := int64(100)
	require.Eventually(t, func() bool {
		next++
		err := f.Apply(context.Background(), models.CreatePostEvent{Post: models.Post{ID: next, CreatedAt: epoch, UserID: "u1"}})
		assert.NoError(t, err)
		select {
		case snapshot := <-feedClient:
			return len(snapshot.Feed) > 0 && snapshot.Feed[0].User != nil
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestBroadcasterFollowNotifications(t *testing.T) {
	bc := server.NewBroadcaster()
	notificationClient := make(chan models.Notification, 2)
	bc.AddClient("a", make(chan models.FeedResponse, 1), notificationClient)

	events := make(chan interface{}, 3)
	events <- models.CreatePostEvent{}
	events <- models.CreateNotificationEvent{Notification: models.Notification{ID: 5}}
	close(events)

	bc.FollowNotifications(context.Background(), events)
	assert.Equal(t, int64(5), (<-notificationClient).ID)
	assert.Len(t, notificationClient, 0)
}
