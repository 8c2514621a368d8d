package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "bunnyup",
		Usage: "A terminal client for the bunnyup social feed",
		Description: `A client for the bunnyup social feed.

		Browse the realtime feed, post, comment, like and manage your
		profile. Everything is stored by the hosted backend; the client
		keeps the last feed and your session in a local SQLite cache.

		Flags can generally be set via environment variables, e.g.:

		--config => BUNNYUP_CONFIG=bunnyup.toml
		--log-level => BUNNYUP_LOG_LEVEL=debug
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "bunnyup.toml",
				Usage:   "Path to the configuration file",
				EnvVars: []string{"BUNNYUP_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level: trace, debug, info, warn, error",
				EnvVars: []string{"BUNNYUP_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "backend-url",
				Usage:   "Backend project URL, overrides [backend] url",
				EnvVars: []string{"BUNNYUP_BACKEND_URL"},
			},
			&cli.StringFlag{
				Name:    "anon-key",
				Usage:   "Backend anon key, overrides [backend] anon_key",
				EnvVars: []string{"BUNNYUP_ANON_KEY"},
			},
			&cli.StringFlag{
				Name:    "cache",
				Usage:   "SQLite cache file, overrides [cache] path",
				EnvVars: []string{"BUNNYUP_CACHE"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			signupCmd(),
			loginCmd(),
			logoutCmd(),
			whoamiCmd(),
			feedCmd(),
			postCmd(),
			showCmd(),
			deletePostCmd(),
			commentCmd(),
			deleteCommentCmd(),
			likeCmd(),
			notificationsCmd(),
			profileCmd(),
			downloadCmd(),
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
			statsCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return cli.ShowAppHelp(ctx)
		},
	}
}

// Execute runs the app with os.Args until it finishes or the process is
// interrupted
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
