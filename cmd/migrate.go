package cmd

import (
	"bunnyup/config"
	"bunnyup/db"
	"bunnyup/storage"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db-host",
			Usage:   "PostgreSQL host, overrides [database] host",
			EnvVars: []string{"BUNNYUP_DB_HOST"},
		},
		&cli.IntFlag{
			Name:    "db-port",
			Usage:   "PostgreSQL port, overrides [database] port",
			EnvVars: []string{"BUNNYUP_DB_PORT"},
		},
		&cli.StringFlag{
			Name:    "db-user",
			Usage:   "PostgreSQL user, overrides [database] user",
			EnvVars: []string{"BUNNYUP_DB_USER"},
		},
		&cli.StringFlag{
			Name:    "db-password",
			Usage:   "PostgreSQL password, overrides [database] password",
			EnvVars: []string{"BUNNYUP_DB_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "db-name",
			Usage:   "PostgreSQL database name, overrides [database] name",
			EnvVars: []string{"BUNNYUP_DB_NAME"},
		},
	}
}

// databaseConfig returns the database settings with the db flags applied
func databaseConfig(ctx *cli.Context) (*config.TomlConfig, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if ctx.IsSet("db-host") {
		cfg.Database.Host = ctx.String("db-host")
	}
	if ctx.IsSet("db-port") {
		cfg.Database.Port = ctx.Int("db-port")
	}
	if ctx.IsSet("db-user") {
		cfg.Database.User = ctx.String("db-user")
	}
	if ctx.IsSet("db-password") {
		cfg.Database.Password = ctx.String("db-password")
	}
	if ctx.IsSet("db-name") {
		cfg.Database.Name = ctx.String("db-name")
	}

	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Name,
	}).Info("Database configured")
	return cfg, nil
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run backend database migrations",
		Description: `Creates or updates the backend tables the client works with and
publishes them to the realtime change feed.

When storage is configured the media bucket is created as well.`,
		Flags: databaseFlags(),
		Action: func(ctx *cli.Context) error {
			cfg, err := databaseConfig(ctx)
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.Database); err != nil {
				return err
			}

			if cfg.Storage.Endpoint == "" {
				return nil
			}
			media, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}
			if err := media.EnsureBucket(ctx.Context); err != nil {
				return err
			}
			log.WithField("bucket", cfg.Storage.Bucket).Info("Storage bucket ready")
			return nil
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Rollback backend database migration",
		Description: `Rolls back the last backend database migration`,
		Flags:       databaseFlags(),
		Action: func(ctx *cli.Context) error {
			cfg, err := databaseConfig(ctx)
			if err != nil {
				return err
			}
			return db.Rollback(cfg.Database)
		},
	}
}
