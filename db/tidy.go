package db

import (
	"context"
	"fmt"
	"time"

	"bunnyup/config"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// DefaultRetention is how long notifications are kept
const DefaultRetention = 90 * 24 * time.Hour

// TidyQuery deletes notifications created before the cutoff
func TidyQuery(before time.Time) (string, []interface{}) {
	dlb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	dlb.DeleteFrom("notifications").Where(dlb.LessThan("created_at", before))
	return dlb.Build()
}

// Tidy removes notifications older than retention
func Tidy(ctx context.Context, cfg config.TomlDatabase, retention time.Duration) (int64, error) {
	db, err := NewDB(cfg)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return db.Tidy(ctx, time.Now().Add(-retention))
}

func (db *DB) Tidy(ctx context.Context, before time.Time) (int64, error) {
	query, args := TidyQuery(before)
	log.WithFields(log.Fields{
		"sql":  query,
		"args": args,
	}).Info("Tidying database")

	result, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete error: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	log.WithField("removed", removed).Info("Removed old notifications")
	return removed, nil
}
