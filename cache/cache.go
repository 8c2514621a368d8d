// Package cache keeps the last feed snapshot, the signed in session and the
// user's profile in a local SQLite file so the client starts with something
// to show before the network answers.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bunnyup/backend"
	"bunnyup/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type Cache struct {
	db *sql.DB
}

// Open migrates and opens the cache database at path, creating its
// directory when missing
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	if err := Migrate(path); err != nil {
		return nil, err
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	// Only this process writes to the cache
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveFeed replaces the stored snapshot with posts, keeping their order
func (c *Cache) SaveFeed(ctx context.Context, posts []models.Post) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin error: %w", err)
	}
	defer tx.Rollback()

	query, args := sqlbuilder.SQLite.NewDeleteBuilder().DeleteFrom("feed_posts").Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete error: %w", err)
	}

	if len(posts) > 0 {
		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto("feed_posts").Cols("id", "position", "created_at", "data")
		for i, post := range posts {
			data, err := json.Marshal(post)
			if err != nil {
				return fmt.Errorf("failed to encode post %d: %w", post.ID, err)
			}
			ib.Values(post.ID, i, post.CreatedAt.UnixMilli(), string(data))
		}

		query, args = ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}

	log.WithField("posts", len(posts)).Debug("Saved feed snapshot")
	return nil
}

// LoadFeed returns the stored snapshot, empty when there is none
func (c *Cache) LoadFeed(ctx context.Context) ([]models.Post, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("data").From("feed_posts").OrderBy("position").Asc()
	query, args := sb.Build()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		var post models.Post
		if err := json.Unmarshal([]byte(data), &post); err != nil {
			// A row written by an older version is skipped, the next fetch
			// replaces it anyway
			log.WithField("error", err).Warn("Skipping unreadable cached post")
			continue
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// SaveSession stores session, replacing the previous one
func (c *Cache) SaveSession(ctx context.Context, session backend.Session) error {
	userData, err := json.Marshal(session.User)
	if err != nil {
		return fmt.Errorf("failed to encode session user: %w", err)
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.ReplaceInto("session").
		Cols("id", "access_token", "refresh_token", "expires_at", "user_id", "email", "user_data", "saved_at").
		Values(1, session.AccessToken, session.RefreshToken, session.ExpiresAt.Unix(), session.User.ID, session.User.Email, string(userData), time.Now().Unix())
	query, args := ib.Build()

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

// LoadSession returns the stored session. ok is false when there is none.
func (c *Cache) LoadSession(ctx context.Context) (session backend.Session, ok bool, err error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("access_token", "refresh_token", "expires_at", "user_data").
		From("session").
		Where(sb.Equal("id", 1))
	query, args := sb.Build()

	var expiresAt int64
	var userData string
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&session.AccessToken, &session.RefreshToken, &expiresAt, &userData)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Session{}, false, nil
	}
	if err != nil {
		return backend.Session{}, false, fmt.Errorf("query error: %w", err)
	}

	if err := json.Unmarshal([]byte(userData), &session.User); err != nil {
		return backend.Session{}, false, fmt.Errorf("failed to decode session user: %w", err)
	}
	session.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return session, true, nil
}

// ClearSession forgets the stored session and profile
func (c *Cache) ClearSession(ctx context.Context) error {
	for _, table := range []string{"session", "profile"} {
		query, args := sqlbuilder.SQLite.NewDeleteBuilder().DeleteFrom(table).Build()
		if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete error: %w", err)
		}
	}
	return nil
}

// SaveProfile stores the signed in user's profile
func (c *Cache) SaveProfile(ctx context.Context, user models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.ReplaceInto("profile").Cols("id", "data", "saved_at").Values(user.ID, string(data), time.Now().Unix())
	query, args := ib.Build()

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

// LoadProfile returns the stored profile of userID. ok is false when there is
// none.
func (c *Cache) LoadProfile(ctx context.Context, userID string) (user models.User, ok bool, err error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("data").From("profile").Where(sb.Equal("id", userID))
	query, args := sb.Build()

	var data string
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("query error: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return models.User{}, false, fmt.Errorf("failed to decode profile: %w", err)
	}
	return user, true, nil
}
