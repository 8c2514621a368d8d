package cmd

import (
	"context"
	"os"

	"bunnyup/feed"
	"bunnyup/models"
	"bunnyup/realtime"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func feedCmd() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Print the feed",
		Description: `Loads the newest posts and prints the feed as a single JSON object.

With --follow the feed stays subscribed to the backend's change feed and
prints a new JSON line every time the list changes: new posts, edits,
deletions, comments and likes by anyone.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "pages",
				Aliases: []string{"p"},
				Value:   1,
				Usage:   "Number of pages to load",
			},
			&cli.BoolFlag{
				Name:    "follow",
				Aliases: []string{"f"},
				Usage:   "Keep printing the feed as it changes",
			},
		},
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			f := c.newFeed(ctx)
			defer f.Close()

			for i := 0; i < ctx.Int("pages"); i++ {
				exhausted, err := f.LoadMore(ctx.Context)
				if err != nil {
					return fail(err, "Could not load posts.")
				}
				if exhausted {
					break
				}
			}
			c.saveFeed(f)

			if !ctx.Bool("follow") {
				return printJSON(response(f, f.Snapshot()))
			}

			key, snapshots := f.Subscribe()
			defer f.Unsubscribe(key)

			if err := printJSON(response(f, f.Snapshot())); err != nil {
				return err
			}

			runFeed(ctx.Context, f, c.feedChannel())

			for {
				select {
				case <-ctx.Context.Done():
					c.saveFeed(f)
					return nil
				case posts, ok := <-snapshots:
					if !ok {
						return nil
					}
					if err := printJSON(response(f, posts)); err != nil {
						return err
					}
				}
			}
		},
	}
}

func response(f *feed.Feed, posts []models.Post) models.FeedResponse {
	if posts == nil {
		posts = []models.Post{}
	}
	return models.FeedResponse{
		Feed:      posts,
		Limit:     f.Limit(),
		Exhausted: f.Exhausted(),
	}
}

// runFeed connects channel and applies its events to f until ctx is done
func runFeed(ctx context.Context, f *feed.Feed, channel *realtime.Channel) {
	events := make(chan interface{}, 64)

	go func() {
		if err := channel.Run(ctx, events); err != nil {
			log.WithFields(log.Fields{
				"topic": channel.Topic(),
				"error": err,
			}).Error("Realtime subscription stopped")
		}
	}()

	go func() {
		if err := f.Run(ctx, events); err != nil {
			log.Errorf("Feed stopped: %v", err)
		}
	}()
}
