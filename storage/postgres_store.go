package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"mercari-watcher/models"
)

// PostgresPersister keeps the seen store in the seen_items table.
// position preserves insertion order across restarts.
type PostgresPersister struct {
	db *sqlx.DB
}

// NewPostgresPersister opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use PostgresPersister.
func NewPostgresPersister(ctx context.Context, dsn string) (*PostgresPersister, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pp := newPostgresPersister(db)
	if err := pp.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pp, nil
}

func newPostgresPersister(db *sqlx.DB) *PostgresPersister {
	return &PostgresPersister{db: db}
}

func (pp *PostgresPersister) migrate(ctx context.Context) error {
	_, err := pp.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS seen_items (
			position  INTEGER PRIMARY KEY,
			signature TEXT    UNIQUE NOT NULL,
			price     BIGINT  NOT NULL,
			seen_at   TEXT    NOT NULL DEFAULT ''
		)
	`)
	return err
}

// LoadSeen returns all stored records ordered by position.
func (pp *PostgresPersister) LoadSeen(ctx context.Context) ([]models.SeenRecord, error) {
	var records []models.SeenRecord
	err := pp.db.SelectContext(ctx, &records, `
		SELECT signature, price, seen_at
		FROM seen_items
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load seen: %w", err)
	}
	return records, nil
}

// SaveSeen replaces the table contents with records in one transaction.
func (pp *PostgresPersister) SaveSeen(ctx context.Context, records []models.SeenRecord) error {
	tx, err := pp.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM seen_items"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("postgres: clear: %w", err)
	}

	const batchSize = 50
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := insertBatch(ctx, tx, i, records[i:end]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func insertBatch(ctx context.Context, tx *sqlx.Tx, offset int, batch []models.SeenRecord) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*4)

	for idx, r := range batch {
		base := idx * 4
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4))
		valueArgs = append(valueArgs, int64(offset+idx), r.Signature, r.Price, r.Timestamp)
	}

	query := fmt.Sprintf(`
		INSERT INTO seen_items (position, signature, price, seen_at)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert batch: %w", err)
	}
	return nil
}

func (pp *PostgresPersister) Close() error {
	return pp.db.Close()
}
