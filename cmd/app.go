package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bunnyup/backend"
	"bunnyup/cache"
	"bunnyup/config"
	"bunnyup/feed"
	"bunnyup/models"
	"bunnyup/profiles"
	"bunnyup/realtime"
	"bunnyup/session"
	"bunnyup/storage"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Folder profile pictures are uploaded to
const profileMediaFolder = "profileImages"

var errNotSignedIn = errors.New("not signed in, run `bunnyup login` first")

// loadConfig reads the config file and lays the global flags over it
func loadConfig(ctx *cli.Context) (*config.TomlConfig, error) {
	cfg, err := config.LoadOrDefault(ctx.String("config"))
	if err != nil {
		return nil, err
	}

	if ctx.IsSet("backend-url") {
		cfg.Backend.URL = ctx.String("backend-url")
	}
	if ctx.IsSet("anon-key") {
		cfg.Backend.AnonKey = ctx.String("anon-key")
	}
	if ctx.IsSet("cache") {
		cfg.Cache.Path = ctx.String("cache")
	}
	return cfg, nil
}

// client wires the backend collaborators every client command works with
type client struct {
	cfg      *config.TomlConfig
	backend  *backend.Client
	storage  *storage.Storage
	cache    *cache.Cache
	session  *session.Manager
	resolver *profiles.Resolver
}

// newClient loads the config, opens the cache and restores the stored
// session
func newClient(ctx *cli.Context) (*client, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []backend.Option
	var media *storage.Storage
	if cfg.Storage.Endpoint != "" {
		media, err = storage.New(cfg.Storage)
		if err != nil {
			return nil, err
		}
		opts = append(opts, backend.WithUploader(media))
	}

	api, err := backend.New(cfg.Backend.URL, cfg.Backend.AnonKey, opts...)
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}

	manager := session.NewManager(api, store)
	if _, err := manager.Init(ctx.Context); err != nil {
		store.Close()
		return nil, err
	}

	resolver, err := profiles.NewResolver(api, profiles.DefaultSize)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &client{
		cfg:      cfg,
		backend:  api,
		storage:  media,
		cache:    store,
		session:  manager,
		resolver: resolver,
	}, nil
}

func (c *client) Close() {
	if err := c.cache.Close(); err != nil {
		log.WithField("error", err).Warn("Could not close cache")
	}
}

// user returns the signed in user
func (c *client) user() (models.User, error) {
	state := c.session.Current()
	if !state.SignedIn {
		return models.User{}, errNotSignedIn
	}
	return state.User, nil
}

// newFeed builds the home feed, seeded with the cached snapshot
func (c *client) newFeed(ctx *cli.Context) *feed.Feed {
	cached, err := c.cache.LoadFeed(ctx.Context)
	if err != nil {
		log.WithField("error", err).Warn("Could not load cached feed")
	}

	return feed.New(c.backend,
		feed.WithPageSize(c.cfg.Feed.PageSize),
		feed.WithResolver(c.resolver),
		feed.WithLiker(feed.NewLiker(c.backend)),
		feed.WithInitial(cached),
	)
}

// channel subscribes to row changes as the signed in user
func (c *client) channel(name string, bindings ...realtime.Binding) *realtime.Channel {
	return realtime.NewChannel(realtime.Config{
		URL:    c.cfg.Backend.URL,
		APIKey: c.cfg.Backend.AnonKey,
		Token:  c.backend.AccessToken,
	}, name, bindings...)
}

// feedChannel carries every change the home feed reacts to
func (c *client) feedChannel() *realtime.Channel {
	return c.channel("feed",
		realtime.AllChanges("posts"),
		realtime.AllChanges("comments"),
		realtime.AllChanges("post_likes"),
	)
}

// notificationChannel carries the notifications sent to userID
func (c *client) notificationChannel(userID string) *realtime.Channel {
	return c.channel("notifications:"+userID,
		realtime.Inserts("notifications", "receiverId=eq."+userID),
	)
}

// saveFeed stores the feed snapshot for the next start. It runs on its own
// context so it also works after an interrupt.
func (c *client) saveFeed(f *feed.Feed) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cache.SaveFeed(ctx, f.Snapshot()); err != nil {
		log.WithField("error", err).Warn("Could not cache feed")
	}
}

// upload stores a local file and returns its public URL. URLs are returned
// unchanged.
func (c *client) upload(ctx *cli.Context, folder, file string) (string, error) {
	if file == "" || strings.Contains(file, "://") {
		return file, nil
	}
	if c.storage == nil {
		return "", errors.New("storage is not configured, cannot upload " + file)
	}
	return c.storage.Upload(ctx.Context, folder, file)
}

// printJSON prints value as a single line of JSON to stdout
func printJSON(value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

// fail returns the message the user should see for err
func fail(err error, fallback string) error {
	log.WithField("error", err).Debug(fallback)
	return cli.Exit(backend.UserMessage(err, fallback), 1)
}
