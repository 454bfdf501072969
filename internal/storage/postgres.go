package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// PostgresLedger keeps published URLs in the sent_news table.
// The empty destination is the global seen-set.
type PostgresLedger struct {
	db          *sql.DB
	destination string
}

// SentItem is one row of the ledger.
type SentItem struct {
	URL         string
	Destination string
	SentAt      time.Time
}

// NewPostgresLedger connects and makes sure the schema exists.
func NewPostgresLedger(ctx context.Context, connectionString string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ledger := &PostgresLedger{db: db}
	if err := ledger.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Info("PostgreSQL ledger connected")
	return ledger, nil
}

func (pl *PostgresLedger) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sent_news (
		id SERIAL PRIMARY KEY,
		url TEXT NOT NULL,
		destination VARCHAR(64) NOT NULL DEFAULT '',
		sent_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (url, destination)
	);

	CREATE INDEX IF NOT EXISTS idx_sent_news_sent_at ON sent_news(sent_at);
	`

	if _, err := pl.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Contains reports whether url was recorded for this ledger's destination.
func (pl *PostgresLedger) Contains(ctx context.Context, url string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM sent_news WHERE url = $1 AND destination = $2`
	if err := pl.db.QueryRowContext(ctx, query, url, pl.destination).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count > 0, nil
}

// Add records url. Recording an existing url keeps a single row.
func (pl *PostgresLedger) Add(ctx context.Context, url string) error {
	query := `
		INSERT INTO sent_news (url, destination, sent_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (url, destination) DO NOTHING
	`
	if _, err := pl.db.ExecContext(ctx, query, url, pl.destination); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Scope returns a ledger sharing the connection but keyed on destination.
func (pl *PostgresLedger) Scope(destination string) Ledger {
	return &PostgresLedger{db: pl.db, destination: destination}
}

// Recent returns the latest rows of this destination, newest first.
func (pl *PostgresLedger) Recent(ctx context.Context, limit int) ([]SentItem, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := pl.db.QueryContext(ctx, `
		SELECT url, destination, sent_at
		FROM sent_news
		WHERE destination = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`, pl.destination, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var items []SentItem
	for rows.Next() {
		var item SentItem
		if err := rows.Scan(&item.URL, &item.Destination, &item.SentAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Close closes the database connection.
func (pl *PostgresLedger) Close() error {
	if pl.db != nil {
		return pl.db.Close()
	}
	return nil
}
