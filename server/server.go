// Package server is the local preview server. It serves the in-memory feed
// as JSON, streams every new snapshot to server-sent-event clients and lets a
// browser load more posts, like them and open them as the signed in user.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"bunnyup/backend"
	"bunnyup/feed"
	"bunnyup/models"
	"bunnyup/session"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// PostSource loads a single post with its comments
type PostSource interface {
	FetchPostDetails(ctx context.Context, id int64) (models.Post, error)
}

// NotificationSource lists the notifications of a user
type NotificationSource interface {
	FetchNotifications(ctx context.Context, receiverID string) ([]models.Notification, error)
}

// Session reports who is signed in
type Session interface {
	Current() session.State
}

type ServerConfig struct {
	// The feed the server exposes
	Feed *feed.Feed

	// Broadcast channels to pass snapshots to SSE clients
	Broadcaster *Broadcaster

	Session       Session
	Posts         PostSource
	Notifications NotificationSource

	// Origins allowed to call the server from a browser, e.g. a local dev
	// server for a web client
	AllowOrigins string

	// Interval between SSE keep-alive pings
	PingInterval time.Duration
}

type errorResponse struct {
	Error string `json:"error"`
}

func feedResponse(f *feed.Feed) models.FeedResponse {
	return snapshotResponse(f, f.Snapshot())
}

func snapshotResponse(f *feed.Feed, posts []models.Post) models.FeedResponse {
	if posts == nil {
		posts = []models.Post{}
	}
	return models.FeedResponse{
		Feed:      posts,
		Limit:     f.Limit(),
		Exhausted: f.Exhausted(),
	}
}

// Returns a fiber.App instance serving the preview endpoints
func Server(config *ServerConfig) *fiber.App {
	bc := config.Broadcaster
	if bc == nil {
		bc = NewBroadcaster()
	}
	pingInterval := config.PingInterval
	if pingInterval <= 0 {
		pingInterval = 5 * time.Second
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	// Track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		requestDuration.WithLabelValues(c.Method(), c.Route().Path).Observe(latency.Seconds())
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": latency,
		}).Debug("Request")
		return err
	})

	app.Use(requestid.New())
	if config.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     config.AllowOrigins,
			AllowHeaders:     "Cache-Control",
			AllowCredentials: true,
		}))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/feed", func(c *fiber.Ctx) error {
		return c.JSON(feedResponse(config.Feed))
	})

	app.Post("/feed/more", func(c *fiber.Ctx) error {
		if _, err := config.Feed.LoadMore(c.UserContext()); err != nil {
			log.WithField("error", err).Error("Error loading more posts")
			return c.Status(fiber.StatusBadGateway).JSON(errorResponse{
				Error: backend.UserMessage(err, "Could not load posts."),
			})
		}
		return c.JSON(feedResponse(config.Feed))
	})

	app.Post("/posts/:id/like", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "Invalid post id"})
		}
		state := config.Session.Current()
		if !state.SignedIn {
			return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "Sign in to like posts."})
		}
		if _, ok := config.Feed.Post(id); !ok {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "Post not found"})
		}

		likes, err := config.Feed.ToggleLike(c.UserContext(), id, state.User.ID)
		if err != nil {
			log.WithFields(log.Fields{
				"postId": id,
				"error":  err,
			}).Error("Error toggling like")
			return c.Status(fiber.StatusBadGateway).JSON(errorResponse{
				Error: backend.UserMessage(err, "Could not update like."),
			})
		}
		return c.JSON(fiber.Map{"likes": likes})
	})

	app.Get("/posts/:id", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "Invalid post id"})
		}

		post, err := config.Posts.FetchPostDetails(c.UserContext(), id)
		if backend.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "Post not found"})
		}
		if err != nil {
			log.WithFields(log.Fields{
				"postId": id,
				"error":  err,
			}).Error("Error fetching post")
			return c.Status(fiber.StatusBadGateway).JSON(errorResponse{
				Error: backend.UserMessage(err, "Could not load post."),
			})
		}
		return c.JSON(post)
	})

	app.Get("/notifications", func(c *fiber.Ctx) error {
		state := config.Session.Current()
		if !state.SignedIn {
			return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "Sign in to see notifications."})
		}

		notifications, err := config.Notifications.FetchNotifications(c.UserContext(), state.User.ID)
		if err != nil {
			log.WithField("error", err).Error("Error fetching notifications")
			return c.Status(fiber.StatusBadGateway).JSON(errorResponse{
				Error: backend.UserMessage(err, "Could not load notifications."),
			})
		}
		return c.JSON(notifications)
	})

	app.Delete("/feed/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.SendString("OK")
	})

	app.Get("/feed/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		key := uuid.New().String()
		feedChannel := make(chan models.FeedResponse, 1)
		notificationChannel := make(chan models.Notification, 10)
		bc.AddClient(key, feedChannel, notificationChannel)

		initial := feedResponse(config.Feed)

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer bc.RemoveClient(key)

			alive := time.NewTicker(pingInterval)
			defer alive.Stop()

			if err := writeEvent(w, "init", key); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}
			if err := writeJSONEvent(w, "feed", initial); err != nil {
				log.Warnf("Failed to send feed to client %s: %v", key, err)
				return
			}

			for {
				select {
				case <-alive.C:
					if err := writeEvent(w, "ping", ""); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}

				case snapshot, ok := <-feedChannel:
					if !ok {
						return
					}
					if err := writeJSONEvent(w, "feed", snapshot); err != nil {
						log.Warnf("Failed to send feed to client %s: %v", key, err)
						return
					}

				case notification, ok := <-notificationChannel:
					if !ok {
						return
					}
					if err := writeJSONEvent(w, "notification", notification); err != nil {
						log.Warnf("Failed to send notification to client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}

func writeEvent(w *bufio.Writer, event, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

func writeJSONEvent(w *bufio.Writer, event string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return writeEvent(w, event, string(data))
}
