package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bunnyup/models"
	"bunnyup/realtime"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type phoenixFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref"`
}

// fakeRealtime accepts one socket, acknowledges the join and then pushes the
// given changes
func fakeRealtime(t *testing.T, changes []string, received chan<- phoenixFrame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" || r.URL.Query().Get("apikey") != "anon" {
			http.Error(w, "bad socket url", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var f phoenixFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			received <- f

			if f.Event != "phx_join" {
				continue
			}
			_ = conn.WriteJSON(map[string]any{
				"topic":   f.Topic,
				"event":   "phx_reply",
				"payload": map[string]any{"status": "ok", "response": map[string]any{}},
				"ref":     f.Ref,
			})
			for _, c := range changes {
				_ = conn.WriteJSON(map[string]any{
					"topic":   f.Topic,
					"event":   "postgres_changes",
					"payload": map[string]json.RawMessage{"ids": json.RawMessage(`[1]`), "data": json.RawMessage(c)},
					"ref":     nil,
				})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSocketURL(t *testing.T) {
	ch := realtime.NewChannel(realtime.Config{URL: "https://project.example.com/", APIKey: "anon"}, "feed")
	u, err := ch.SocketURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://project.example.com/realtime/v1/websocket?apikey=anon&vsn=1.0.0", u)
	assert.Equal(t, "realtime:feed", ch.Topic())

	_, err = realtime.NewChannel(realtime.Config{URL: "ftp://project.example.com"}, "feed").SocketURL()
	assert.Error(t, err)
}

func TestChannelDeliversChangesInOrder(t *testing.T) {
	received := make(chan phoenixFrame, 16)
	srv := fakeRealtime(t, []string{
		`{"table":"posts","type":"INSERT","record":{"id":1,"body":"a","userId":"u1","created_at":"2026-03-01T10:00:00"}}`,
		`{"table":"comments","type":"INSERT","record":{"id":5,"postId":1}}`,
		`{"table":"posts","type":"INSERT","record":{"id":2,"body":"b","userId":"u1","created_at":"2026-03-01T10:01:00"}}`,
		`{"table":"posts","type":"DELETE","old_record":{"id":1}}`,
	}, received)

	ch := realtime.NewChannel(realtime.Config{
		URL:    srv.URL,
		APIKey: "anon",
		Token:  func() string { return "user-jwt" },
	}, "feed", realtime.AllChanges("posts"), realtime.Inserts("comments", "postId=eq.1"))

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan interface{}, 8)
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx, out) }()

	join := <-received
	assert.Equal(t, "phx_join", join.Event)
	assert.Equal(t, "realtime:feed", join.Topic)

	var payload struct {
		Config struct {
			PostgresChanges []realtime.Binding `json:"postgres_changes"`
		} `json:"config"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(join.Payload, &payload))
	assert.Equal(t, "user-jwt", payload.AccessToken)
	assert.Equal(t, []realtime.Binding{
		{Event: "*", Schema: "public", Table: "posts"},
		{Event: "INSERT", Schema: "public", Table: "comments", Filter: "postId=eq.1"},
	}, payload.Config.PostgresChanges)

	// The malformed comment is dropped, the rest arrive in order
	var events []interface{}
	for len(events) < 3 {
		select {
		case e := <-out:
			events = append(events, e)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d events delivered", len(events))
		}
	}
	assert.Equal(t, int64(1), events[0].(models.CreatePostEvent).Post.ID)
	assert.Equal(t, int64(2), events[1].(models.CreatePostEvent).Post.ID)
	assert.Equal(t, models.DeletePostEvent{ID: 1}, events[2])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	leave := <-received
	assert.Equal(t, "phx_leave", leave.Event)
	assert.Equal(t, join.Ref, leave.JoinRef)
}

// scriptedRealtime hands every frame of the n-th connection, counting from
// zero, to script. Returning false closes that connection.
func scriptedRealtime(t *testing.T, script func(n int, conn *websocket.Conn, f phoenixFrame) bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	connections := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		n := connections
		connections++
		mu.Unlock()

		for {
			var f phoenixFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if !script(n, conn, f) {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func replyJoin(conn *websocket.Conn, join phoenixFrame, status string) {
	_ = conn.WriteJSON(map[string]any{
		"topic":   join.Topic,
		"event":   "phx_reply",
		"payload": map[string]any{"status": status, "response": map[string]any{"reason": status}},
		"ref":     join.Ref,
	})
}

func pushChange(conn *websocket.Conn, topic, change string) {
	_ = conn.WriteJSON(map[string]any{
		"topic":   topic,
		"event":   "postgres_changes",
		"payload": map[string]json.RawMessage{"data": json.RawMessage(change)},
		"ref":     nil,
	})
}

func runChannel(t *testing.T, cfg realtime.Config) <-chan interface{} {
	t.Helper()
	ch := realtime.NewChannel(cfg, "feed", realtime.AllChanges("posts"))

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan interface{}, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, ch.Run(ctx, out))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return out
}

func nextEvent(t *testing.T, out <-chan interface{}) interface{} {
	t.Helper()
	select {
	case e := <-out:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestChannelReconnects(t *testing.T) {
	tests := []struct {
		name  string
		first func(conn *websocket.Conn, join phoenixFrame) bool
	}{
		{
			name: "socket dropped after join",
			first: func(conn *websocket.Conn, join phoenixFrame) bool {
				replyJoin(conn, join, "ok")
				return false
			},
		},
		{
			name: "join rejected",
			first: func(conn *websocket.Conn, join phoenixFrame) bool {
				replyJoin(conn, join, "error")
				return true
			},
		},
		{
			name: "channel errored by server",
			first: func(conn *websocket.Conn, join phoenixFrame) bool {
				replyJoin(conn, join, "ok")
				_ = conn.WriteJSON(map[string]any{"topic": join.Topic, "event": "phx_error", "payload": map[string]any{}, "ref": nil})
				return true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joins := make(chan int, 8)
			srv := scriptedRealtime(t, func(n int, conn *websocket.Conn, f phoenixFrame) bool {
				if f.Event != "phx_join" {
					return true
				}
				joins <- n
				if n == 0 {
					return tt.first(conn, f)
				}
				replyJoin(conn, f, "ok")
				pushChange(conn, f.Topic, `{"table":"posts","type":"DELETE","old_record":{"id":7}}`)
				return true
			})

			out := runChannel(t, realtime.Config{URL: srv.URL, APIKey: "anon"})

			assert.Equal(t, models.DeletePostEvent{ID: 7}, nextEvent(t, out))
			assert.Equal(t, 0, <-joins)
			assert.Equal(t, 1, <-joins)
		})
	}
}

func TestChannelSendsHeartbeats(t *testing.T) {
	heartbeats := make(chan phoenixFrame, 8)
	srv := scriptedRealtime(t, func(_ int, conn *websocket.Conn, f phoenixFrame) bool {
		switch f.Event {
		case "phx_join":
			replyJoin(conn, f, "ok")
		case "heartbeat":
			select {
			case heartbeats <- f:
			default:
			}
		}
		return true
	})

	runChannel(t, realtime.Config{URL: srv.URL, APIKey: "anon", Heartbeat: 20 * time.Millisecond})

	for i := 0; i < 2; i++ {
		select {
		case hb := <-heartbeats:
			assert.Equal(t, "phoenix", hb.Topic)
			require.NotNil(t, hb.Ref)
		case <-time.After(5 * time.Second):
			t.Fatal("no heartbeat sent")
		}
	}
}
