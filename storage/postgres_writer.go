package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"listing-watcher/models"
)

// PostgresArchive keeps a history of runs and classified changes in
// PostgreSQL. It is an audit trail only; the JSON store stays authoritative.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use archive.
func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	for i := 0; i < 5; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pa := NewPostgresArchiveFromDB(db)
	if err := pa.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pa, nil
}

// NewPostgresArchiveFromDB wraps an existing handle without migrating.
func NewPostgresArchiveFromDB(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

func (pa *PostgresArchive) migrate(ctx context.Context) error {
	_, err := pa.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS watch_runs (
			run_id        UUID         PRIMARY KEY,
			started_at    TIMESTAMPTZ  NOT NULL,
			fetched       INTEGER      NOT NULL DEFAULT 0,
			excluded      INTEGER      NOT NULL DEFAULT 0,
			tracked       INTEGER      NOT NULL DEFAULT 0,
			new_count     INTEGER      NOT NULL DEFAULT 0,
			updated_count INTEGER      NOT NULL DEFAULT 0,
			price_count   INTEGER      NOT NULL DEFAULT 0,
			removed_count INTEGER      NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS listing_changes (
			id          BIGSERIAL    PRIMARY KEY,
			run_id      UUID         NOT NULL REFERENCES watch_runs(run_id),
			listing_id  TEXT         NOT NULL,
			kind        VARCHAR(16)  NOT NULL,
			old_price   INTEGER,
			new_price   INTEGER,
			payload     JSONB        NOT NULL,
			recorded_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listing_changes_listing ON listing_changes(listing_id);
		CREATE INDEX IF NOT EXISTS idx_listing_changes_kind    ON listing_changes(kind);
	`)
	return err
}

// Record stores one run and its changes in a single transaction.
func (pa *PostgresArchive) Record(ctx context.Context, run RunRecord) (err error) {
	tx, err := pa.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cs := run.Changes
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO watch_runs (run_id, started_at, fetched, excluded, tracked,
		                        new_count, updated_count, price_count, removed_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.RunID, run.StartedAt, run.Fetched, run.Excluded, len(run.Tracked),
		len(cs.New), len(cs.Updated), len(cs.PriceChanged), len(cs.Removed),
	); err != nil {
		return fmt.Errorf("postgres: insert run: %w", err)
	}

	for _, row := range changeRows(cs) {
		payload, mErr := json.Marshal(row.listing)
		if mErr != nil {
			err = fmt.Errorf("postgres: encode listing %q: %w", row.listing.ID, mErr)
			return err
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO listing_changes (run_id, listing_id, kind, old_price, new_price, payload)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			run.RunID, row.listing.ID, row.kind, nullPrice(row.oldPrice), nullPrice(row.newPrice), string(payload),
		); err != nil {
			return fmt.Errorf("postgres: insert change %q: %w", row.listing.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit transaction: %w", err)
	}
	return nil
}

type changeRow struct {
	kind     string
	listing  models.Listing
	oldPrice *int
	newPrice *int
}

func changeRows(cs models.ChangeSet) []changeRow {
	rows := make([]changeRow, 0, cs.Total())
	for _, l := range cs.New {
		rows = append(rows, changeRow{kind: "new", listing: l, newPrice: l.Price})
	}
	for _, c := range cs.PriceChanged {
		rows = append(rows, changeRow{kind: "price_changed", listing: c.Current, oldPrice: c.Previous.Price, newPrice: c.Current.Price})
	}
	for _, c := range cs.Updated {
		rows = append(rows, changeRow{kind: "updated", listing: c.Current, oldPrice: c.Previous.Price, newPrice: c.Current.Price})
	}
	for _, l := range cs.Removed {
		rows = append(rows, changeRow{kind: "removed", listing: l, oldPrice: l.Price})
	}
	return rows
}

func nullPrice(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func (pa *PostgresArchive) Close() error {
	return pa.db.Close()
}
