// Package storage persists an operator-facing audit log of emitted
// routes, submitted bundles, and relay responses — debugging tooling,
// not a historical-analytics product.
package storage

// sqlite.go — audit log backed by modernc.org/sqlite (pure Go, no cgo).
//
// Two tables: `routes` records every profitable route the ring executor
// emitted; `bundle_sends` records every relay submission and its result,
// keyed by the ring that produced it. Both are pruned on startup against
// a fixed retention window, and SQLite is opened single-writer
// (SetMaxOpenConns(1)) since it has no real concurrent-writer story.

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS routes (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    ring_id      TEXT NOT NULL,
    trading_mint TEXT NOT NULL,
    in_amount    INTEGER NOT NULL,
    out_amount   INTEGER NOT NULL,
    gain         INTEGER NOT NULL,
    slot         INTEGER NOT NULL,
    hop_count    INTEGER NOT NULL,
    emitted_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bundle_sends (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    ring_id    TEXT NOT NULL,
    relay_url  TEXT,
    bundle_id  TEXT,
    tx1_b64    TEXT NOT NULL,
    tx2_b64    TEXT NOT NULL,
    error      TEXT,
    latency_ms INTEGER,
    sent_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_routes_emitted ON routes(emitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_bundles_sent   ON bundle_sends(sent_at DESC);
`

const (
	retentionRoutes  = 14 * 24 * time.Hour
	retentionBundles = 30 * 24 * time.Hour
)

// SQLiteAuditStore implements ports.AuditStore.
type SQLiteAuditStore struct {
	db *sql.DB
}

// NewSQLiteAuditStore opens (or creates) the audit database at path,
// applies the schema, and prunes data past its retention window.
func NewSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteAuditStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteAuditStore: apply schema: %w", err)
	}

	s := &SQLiteAuditStore{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveRoute records a profitable route the ring executor emitted.
func (s *SQLiteAuditStore) SaveRoute(ctx context.Context, route *domain.Route) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routes (ring_id, trading_mint, in_amount, out_amount, gain, slot, hop_count, emitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		route.RingID, route.TradingMint.String(), route.InAmount, route.OutAmount,
		route.Gain(), route.Slot, len(route.Steps), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRoute: insert: %w", err)
	}
	return nil
}

// SaveBundle records every relay submission for a ring's bundle, one row
// per relay result.
func (s *SQLiteAuditStore) SaveBundle(ctx context.Context, ringID string, txs [][]byte, results []ports.BundleResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveBundle: begin tx: %w", err)
	}
	defer tx.Rollback()

	var tx1B64, tx2B64 string
	if len(txs) > 0 {
		tx1B64 = base64.StdEncoding.EncodeToString(txs[0])
	}
	if len(txs) > 1 {
		tx2B64 = base64.StdEncoding.EncodeToString(txs[1])
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bundle_sends (ring_id, relay_url, bundle_id, tx1_b64, tx2_b64, error, latency_ms, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveBundle: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range results {
		var errMsg *string
		if r.Err != nil {
			msg := r.Err.Error()
			errMsg = &msg
		}
		if _, err := stmt.ExecContext(ctx, ringID, r.RelayURL, r.BundleID, tx1B64, tx2B64, errMsg, r.Latency.Milliseconds(), now); err != nil {
			return fmt.Errorf("storage.SaveBundle: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveBundle: commit: %w", err)
	}
	return nil
}

// RouteSummary is one previously audited route, as recorded by SaveRoute.
type RouteSummary struct {
	RingID      string
	TradingMint string
	InAmount    uint64
	OutAmount   uint64
	Gain        int64
	Slot        uint64
	HopCount    int
	EmittedAt   time.Time
}

// LatestRoute returns the most recently audited route for ringID, for use
// by the replay-cycle CLI command. It returns false if no route for that
// ring has ever been saved.
func (s *SQLiteAuditStore) LatestRoute(ctx context.Context, ringID string) (RouteSummary, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ring_id, trading_mint, in_amount, out_amount, gain, slot, hop_count, emitted_at
		 FROM routes WHERE ring_id = ? ORDER BY emitted_at DESC LIMIT 1`, ringID)

	var rs RouteSummary
	if err := row.Scan(&rs.RingID, &rs.TradingMint, &rs.InAmount, &rs.OutAmount, &rs.Gain, &rs.Slot, &rs.HopCount, &rs.EmittedAt); err != nil {
		if err == sql.ErrNoRows {
			return RouteSummary{}, false, nil
		}
		return RouteSummary{}, false, fmt.Errorf("storage.LatestRoute: query: %w", err)
	}
	return rs, true, nil
}

// Close closes the underlying database connection.
func (s *SQLiteAuditStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteAuditStore) pruneOld(ctx context.Context) {
	s.db.ExecContext(ctx, `DELETE FROM routes WHERE emitted_at < ?`, time.Now().UTC().Add(-retentionRoutes))
	s.db.ExecContext(ctx, `DELETE FROM bundle_sends WHERE sent_at < ?`, time.Now().UTC().Add(-retentionBundles))
}
