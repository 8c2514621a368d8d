package cmd

import (
	"fmt"

	"bunnyup/db"

	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the backend database",
		Description: `Tidy up the backend database by removing old notifications.

Removes notifications older than the retention, 90 days by default, to keep
the table small. Can be run as a cron job.`,
		Flags: append(databaseFlags(), &cli.DurationFlag{
			Name:    "retention",
			Value:   db.DefaultRetention,
			Usage:   "How long notifications are kept",
			EnvVars: []string{"BUNNYUP_RETENTION"},
		}),
		Action: func(ctx *cli.Context) error {
			cfg, err := databaseConfig(ctx)
			if err != nil {
				return err
			}

			removed, err := db.Tidy(ctx.Context, cfg.Database, ctx.Duration("retention"))
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d notifications\n", removed)
			return nil
		},
	}
}

func statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print the number of posts per hour, day or week",
		Flags: append(databaseFlags(), &cli.StringFlag{
			Name:  "per",
			Value: "day",
			Usage: "Period to count posts in: hour, day or week",
		}),
		Action: func(ctx *cli.Context) error {
			per := ctx.String("per")
			if per != "hour" && per != "day" && per != "week" {
				return fmt.Errorf("invalid period %q", per)
			}

			cfg, err := databaseConfig(ctx)
			if err != nil {
				return err
			}

			database, err := db.NewDB(cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Ping(ctx.Context); err != nil {
				return fmt.Errorf("database is not reachable: %w", err)
			}

			counts, err := database.PostCounts(ctx.Context, per)
			if err != nil {
				return err
			}
			return printJSON(counts)
		},
	}
}
