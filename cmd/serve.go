package cmd

import (
	"fmt"
	"time"

	"bunnyup/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the live feed over HTTP",
		Description: `Starts the local preview server.

Loads the feed, subscribes to the backend's change feed and serves the result:

GET    /feed            the feed as JSON
POST   /feed/more       load the next page
GET    /feed/sse        server-sent events with every new feed snapshot
DELETE /feed/sse?key=   disconnect an SSE client
POST   /posts/:id/like  like or unlike a post as the logged in user
GET    /posts/:id       a post with its comments
GET    /notifications   the logged in user's notifications
GET    /metrics         prometheus metrics`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on, overrides [server] port",
				EnvVars: []string{"BUNNYUP_PORT"},
			},
			&cli.StringFlag{
				Name:    "allow-origins",
				Usage:   "CORS origins allowed to call the server",
				EnvVars: []string{"BUNNYUP_ALLOW_ORIGINS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			port := c.cfg.Server.Port
			if ctx.IsSet("port") {
				port = ctx.Int("port")
			}

			f := c.newFeed(ctx)
			defer f.Close()
			if _, err := f.LoadMore(ctx.Context); err != nil {
				log.WithField("error", err).Warn("Could not load feed, serving the cached one")
			}

			bc := server.NewBroadcaster()
			go bc.Follow(ctx.Context, f)
			runFeed(ctx.Context, f, c.feedChannel())

			if state := c.session.Current(); state.SignedIn {
				events := make(chan interface{}, 16)
				channel := c.notificationChannel(state.User.ID)
				go func() {
					if err := channel.Run(ctx.Context, events); err != nil {
						log.WithField("error", err).Error("Notification subscription stopped")
					}
				}()
				go bc.FollowNotifications(ctx.Context, events)
			}

			app := server.Server(&server.ServerConfig{
				Feed:          f,
				Broadcaster:   bc,
				Session:       c.session,
				Posts:         c.backend,
				Notifications: c.backend,
				AllowOrigins:  ctx.String("allow-origins"),
			})

			go func() {
				<-ctx.Context.Done()
				log.Info("Gracefully shutting down...")
				bc.Shutdown()
				if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
					log.WithField("error", err).Error("Error shutting down server")
				}
			}()

			log.WithField("port", port).Info("Starting server")
			if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
				return err
			}

			c.saveFeed(f)
			log.Info("Done!")
			return nil
		},
	}
}
