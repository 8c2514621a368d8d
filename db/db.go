// Package db administers the hosted backend's Postgres schema directly. The
// client never talks to Postgres; these operations are for whoever runs the
// backend project.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"bunnyup/config"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// DB wraps a connection pool to the backend database
type DB struct {
	db *sql.DB
}

// PostCount is the number of posts created in one period
type PostCount struct {
	Period time.Time `json:"period"`
	Count  int       `json:"count"`
}

// ConnectionString builds the lib/pq keyword/value connection string
func ConnectionString(cfg config.TomlDatabase) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

// MigrationURL builds the postgres:// URL golang-migrate expects
func MigrationURL(cfg config.TomlDatabase) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": []string{cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

func NewDB(cfg config.TomlDatabase) (*DB, error) {
	db, err := sql.Open("postgres", ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(time.Hour)

	return &DB{db: db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Ping checks the database answers
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.db.PingContext(ctx)
}

// PostCountQuery counts posts per hour, day or week, oldest period first.
// Unknown aggregations fall back to hour.
func PostCountQuery(aggregation string) (string, []interface{}) {
	var period string
	switch aggregation {
	case "day":
		period = "date_trunc('day', created_at)"
	case "week":
		period = "date_trunc('week', created_at)"
	default:
		period = "date_trunc('hour', created_at)"
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(period, "count(*) as count").From("posts")
	sb.GroupBy(period)
	sb.OrderBy(period).Asc()
	return sb.Build()
}

// PostCounts returns the number of posts per period
func (db *DB) PostCounts(ctx context.Context, aggregation string) ([]PostCount, error) {
	query, args := PostCountQuery(aggregation)
	log.WithFields(log.Fields{
		"sql":  query,
		"args": args,
	}).Debug("Counting posts")

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	counts := []PostCount{}
	for rows.Next() {
		var count PostCount
		if err := rows.Scan(&count.Period, &count.Count); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		count.Period = count.Period.UTC()
		counts = append(counts, count)
	}
	return counts, rows.Err()
}
