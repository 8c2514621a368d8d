// Package realtime subscribes to row changes over the backend's Phoenix
// channel websocket and turns them into models events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	wsReadBufferSize  = 64 * 1024
	wsWriteBufferSize = 1024
	wsReadTimeout     = 60 * time.Second
	wsWriteTimeout    = 10 * time.Second
	heartbeatInterval = 25 * time.Second
	protocolVersion   = "1.0.0"
)

// Config points the channel at the backend project
type Config struct {
	// URL is the project URL, http(s)://host
	URL    string
	APIKey string
	// Token returns the access token to join with. The API key is used when
	// it is nil or returns an empty token.
	Token func() string
	// Heartbeat is the protocol heartbeat interval, 25s when zero
	Heartbeat time.Duration
}

// Binding selects the row changes of one table. Event is INSERT, UPDATE,
// DELETE or * and Filter a PostgREST style filter such as postId=eq.5.
type Binding struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// AllChanges binds every change of table
func AllChanges(table string) Binding {
	return Binding{Event: "*", Schema: "public", Table: table}
}

// Inserts binds the inserts of table matching filter
func Inserts(table, filter string) Binding {
	return Binding{Event: "INSERT", Schema: "public", Table: table, Filter: filter}
}

type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Channel is one subscription. Run keeps it connected until its context ends.
type Channel struct {
	cfg      Config
	topic    string
	bindings []Binding
	dialer   websocket.Dialer
	ref      atomic.Uint64
}

func NewChannel(cfg Config, name string, bindings ...Binding) *Channel {
	return &Channel{
		cfg:      cfg,
		topic:    "realtime:" + name,
		bindings: bindings,
		dialer: websocket.Dialer{
			ReadBufferSize:   wsReadBufferSize,
			WriteBufferSize:  wsWriteBufferSize,
			HandshakeTimeout: 45 * time.Second,
			NetDialContext: (&net.Dialer{
				Timeout:   45 * time.Second,
				KeepAlive: 45 * time.Second,
			}).DialContext,
		},
	}
}

func (c *Channel) Topic() string {
	return c.topic
}

// SocketURL returns the websocket endpoint of the project
func (c *Channel) SocketURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.URL, "/"))
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u = u.JoinPath("realtime", "v1", "websocket")

	q := u.Query()
	q.Set("apikey", c.cfg.APIKey)
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects, joins the channel and delivers decoded events to out in
// arrival order. Lost connections are re-established with exponential
// backoff. Run returns nil once ctx is done, after leaving the channel.
func (c *Channel) Run(ctx context.Context, out chan<- interface{}) error {
	socketURL, err := c.SocketURL()
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"topic":  c.topic,
		"tables": len(c.bindings),
	}).Info("Subscribing to realtime changes")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 1.5
	b.MaxElapsedTime = 0 // Never stop retrying

	for {
		joined, err := c.session(ctx, socketURL, out)
		if ctx.Err() != nil {
			return nil
		}
		if joined {
			b.Reset()
		}

		wait := b.NextBackOff()
		log.WithFields(log.Fields{
			"topic": c.topic,
			"retry": wait,
			"error": err,
		}).Warn("Realtime connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection until it fails or ctx ends. It reports whether
// the channel was joined.
func (c *Channel) session(ctx context.Context, socketURL string, out chan<- interface{}) (bool, error) {
	wsConnectionAttempts.Inc()
	conn, _, err := c.dialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		wsConnectionErrors.Inc()
		return false, fmt.Errorf("failed to connect: %w", err)
	}

	wsCurrentConnections.Inc()
	connStart := time.Now()
	defer func() {
		wsConnectionDuration.Observe(time.Since(connStart).Seconds())
		wsCurrentConnections.Dec()
	}()

	conn.SetCloseHandler(func(code int, text string) error {
		log.Infof("WebSocket connection closed with code %d: %s", code, text)
		return nil
	})

	var writeMu sync.Mutex
	write := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(f)
	}

	joinRef := c.nextRef()
	join, err := c.push("phx_join", c.joinPayload(), joinRef)
	if err != nil {
		conn.Close()
		return false, err
	}
	join.JoinRef = &joinRef
	if err := write(join); err != nil {
		wsConnectionErrors.Inc()
		conn.Close()
		return false, fmt.Errorf("failed to join %s: %w", c.topic, err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.keepAlive(sessionCtx, write)

		// Leave only when the caller is done, not when the connection broke
		if ctx.Err() != nil {
			if leave, err := c.push("phx_leave", struct{}{}, c.nextRef()); err == nil {
				leave.JoinRef = &joinRef
				_ = write(leave)
			}
			writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			writeMu.Unlock()
		}
		conn.Close()
	}()

	joined := false
	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			cancel()
			<-done
			return joined, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			cancel()
			<-done
			if ctx.Err() != nil {
				return joined, nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("Unexpected websocket close: %v", err)
			}
			wsConnectionErrors.Inc()
			return joined, fmt.Errorf("read failed: %w", err)
		}

		ok, err := c.handle(ctx, data, joinRef, out)
		joined = joined || ok
		if err != nil {
			cancel()
			<-done
			return joined, err
		}
	}
}

// handle processes one frame. It reports whether the frame confirmed the join.
func (c *Channel) handle(ctx context.Context, data []byte, joinRef string, out chan<- interface{}) (bool, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.WithField("error", err).Warn("Dropping undecodable realtime frame")
		return false, nil
	}

	switch f.Event {
	case "phx_reply":
		if f.Topic != c.topic || f.Ref == nil || *f.Ref != joinRef {
			return false, nil
		}
		var r reply
		if err := json.Unmarshal(f.Payload, &r); err != nil || r.Status != "ok" {
			return false, fmt.Errorf("join of %s rejected: %s", c.topic, f.Payload)
		}
		log.WithField("topic", c.topic).Info("Joined realtime channel")
		return true, nil

	case "postgres_changes":
		var payload struct {
			Data Change `json:"data"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			malformedChanges.WithLabelValues("unknown").Inc()
			log.WithField("error", err).Warn("Dropping malformed realtime payload")
			return false, nil
		}
		c.deliver(ctx, payload.Data, out)
		return false, nil

	case "phx_error", "phx_close":
		if f.Topic == c.topic {
			return false, fmt.Errorf("channel %s closed by server: %s", c.topic, f.Event)
		}

	case "system":
		log.WithFields(log.Fields{
			"topic":   f.Topic,
			"payload": string(f.Payload),
		}).Debug("Realtime system message")
	}
	return false, nil
}

func (c *Channel) deliver(ctx context.Context, change Change, out chan<- interface{}) {
	event, err := Decode(change)
	if errors.Is(err, ErrUnsupported) {
		log.WithFields(log.Fields{
			"table": change.Table,
			"type":  change.Type,
		}).Debug("Ignoring unsupported change")
		return
	}
	if err != nil {
		malformedChanges.WithLabelValues(change.Table).Inc()
		log.WithFields(log.Fields{
			"table": change.Table,
			"type":  change.Type,
			"error": err,
		}).Warn("Dropping malformed realtime payload")
		return
	}

	changesReceived.WithLabelValues(change.Table, change.Type).Inc()
	select {
	case out <- event:
	case <-ctx.Done():
	}
}

// keepAlive sends the protocol heartbeat until ctx ends
func (c *Channel) keepAlive(ctx context.Context, write func(frame) error) {
	interval := c.cfg.Heartbeat
	if interval <= 0 {
		interval = heartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb, err := c.push("heartbeat", struct{}{}, c.nextRef())
			if err != nil {
				return
			}
			hb.Topic = "phoenix"
			log.Debug("Sending realtime heartbeat")
			if err := write(hb); err != nil {
				log.Warn("Heartbeat failed, closing connection for restart: ", err)
				wsConnectionErrors.Inc()
				return
			}
		}
	}
}

func (c *Channel) joinPayload() map[string]any {
	token := c.cfg.APIKey
	if c.cfg.Token != nil {
		if t := c.cfg.Token(); t != "" {
			token = t
		}
	}
	return map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]bool{"self": false},
			"presence":         map[string]string{"key": ""},
			"postgres_changes": c.bindings,
		},
		"access_token": token,
	}
}

func (c *Channel) push(event string, payload any, ref string) (frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return frame{}, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return frame{Topic: c.topic, Event: event, Payload: data, Ref: &ref}, nil
}

func (c *Channel) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}
