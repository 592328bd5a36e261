// Package sqldb is the SQL implementation of the offer and session stores,
// supporting multiple database dialects.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
	"github.com/quotepilot/quotepilot/internal/storage/dialect"
)

// Store persists offers and clarification sessions in one database.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var (
	_ ports.OfferStore   = (*Store)(nil)
	_ ports.SessionStore = (*Store)(nil)
)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS offers (
id TEXT NOT NULL,
thread_id TEXT NOT NULL,
message_id TEXT,
supplier_name TEXT NOT NULL,
supplier_email TEXT,
spec TEXT NOT NULL,
price REAL,
currency TEXT,
lead_time INTEGER,
lead_time_unit TEXT,
raw_body TEXT,
status TEXT NOT NULL,
counter_round INTEGER NOT NULL DEFAULT 0,
last_counter_at TIMESTAMP,
po_number TEXT,
created_at TIMESTAMP NOT NULL,
updated_at TIMESTAMP NOT NULL,
PRIMARY KEY (thread_id, counter_round)
)`,
		`CREATE TABLE IF NOT EXISTS clarify_sessions (
id TEXT PRIMARY KEY,
original_text TEXT NOT NULL,
spec TEXT NOT NULL,
turns TEXT NOT NULL,
status TEXT NOT NULL,
created_at TIMESTAMP NOT NULL,
last_active_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_spec ON offers(spec)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_status ON offers(status)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_supplier ON offers(supplier_name)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON clarify_sessions(status, last_active_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// SaveOffer inserts or updates the offer row for (thread_id, counter_round).
// Replayed reply deliveries land on the same row instead of duplicating
// history.
func (s *Store) SaveOffer(ctx context.Context, offer *domain.Offer) error {
	upsert := s.dialect.UpsertClause("thread_id, counter_round", []string{
		"message_id", "supplier_name", "supplier_email", "price", "currency",
		"lead_time", "lead_time_unit", "raw_body", "status", "last_counter_at",
		"po_number", "updated_at",
	})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO offers (
id, thread_id, message_id, supplier_name, supplier_email, spec, price, currency,
lead_time, lead_time_unit, raw_body, status, counter_round, last_counter_at,
po_number, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
%s`, upsert))

	_, err := s.db.ExecContext(ctx, query,
		offer.ID, offer.ThreadID, offer.MessageID, offer.SupplierName,
		offer.SupplierEmail, offer.Spec, offer.Price, offer.Currency,
		offer.LeadTime, offer.LeadTimeUnit, offer.RawBody, string(offer.Status),
		offer.CounterRound, offer.LastCounterAt, offer.PONumber,
		offer.CreatedAt, offer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save offer: %w", err)
	}
	return nil
}

// LoadThread returns the offer history for a thread, oldest round first.
func (s *Store) LoadThread(ctx context.Context, threadID string) ([]*domain.Offer, error) {
	query := s.dialect.Rebind(`SELECT * FROM offers WHERE thread_id = ?
		ORDER BY counter_round ASC`)

	var offers []*domain.Offer
	if err := s.db.SelectContext(ctx, &offers, query, threadID); err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	if len(offers) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrUnknownThread)
	}
	return offers, nil
}

// LatestOffer returns the highest-round offer for a thread.
func (s *Store) LatestOffer(ctx context.Context, threadID string) (*domain.Offer, error) {
	query := s.dialect.Rebind(`SELECT * FROM offers WHERE thread_id = ?
		ORDER BY counter_round DESC LIMIT 1`)

	var offer domain.Offer
	err := s.db.GetContext(ctx, &offer, query, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrUnknownThread)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest offer: %w", err)
	}
	return &offer, nil
}

// ListBySpec returns the newest offer of every matching thread, newest first.
func (s *Store) ListBySpec(ctx context.Context, spec string) ([]*domain.Offer, error) {
	query := s.dialect.Rebind(`SELECT o.* FROM offers o
		JOIN (
			SELECT thread_id, MAX(counter_round) AS max_round
			FROM offers
			WHERE spec LIKE ?
			GROUP BY thread_id
		) latest ON o.thread_id = latest.thread_id AND o.counter_round = latest.max_round
		ORDER BY o.updated_at DESC`)

	var offers []*domain.Offer
	if err := s.db.SelectContext(ctx, &offers, query, "%"+spec+"%"); err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	return offers, nil
}

// OfferStats aggregates across all priced offers.
func (s *Store) OfferStats(ctx context.Context) (*domain.OfferStats, error) {
	query := s.dialect.Rebind(`SELECT
		COUNT(*) AS total_offers,
		COUNT(DISTINCT supplier_name) AS unique_suppliers,
		COUNT(DISTINCT spec) AS unique_specs,
		AVG(price) AS avg_price,
		MIN(price) AS min_price,
		MAX(price) AS max_price,
		AVG(lead_time) AS avg_lead_time
	FROM offers WHERE price IS NOT NULL`)

	var stats domain.OfferStats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate offers: %w", err)
	}
	return &stats, nil
}

// SaveSession inserts or replaces a clarification session. The spec map and
// dialogue turns are stored as JSON columns.
func (s *Store) SaveSession(ctx context.Context, session *domain.ClarifySession) error {
	spec, err := json.Marshal(session.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}
	turns, err := json.Marshal(session.Turns)
	if err != nil {
		return fmt.Errorf("failed to marshal turns: %w", err)
	}

	upsert := s.dialect.UpsertClause("id", []string{
		"spec", "turns", "status", "last_active_at",
	})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO clarify_sessions (
id, original_text, spec, turns, status, created_at, last_active_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
%s`, upsert))

	_, err = s.db.ExecContext(ctx, query,
		session.ID, session.OriginalText, string(spec), string(turns),
		string(session.Status), session.CreatedAt, session.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession loads one clarification session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.ClarifySession, error) {
	query := s.dialect.Rebind(`SELECT id, original_text, spec, turns, status, created_at, last_active_at
		FROM clarify_sessions WHERE id = ?`)

	var (
		session          domain.ClarifySession
		specJSON, turnsJ string
		status           string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.OriginalText, &specJSON, &turnsJ, &status,
		&session.CreatedAt, &session.LastActiveAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrUnknownSession)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.Status = domain.SessionStatus(status)
	if err := json.Unmarshal([]byte(specJSON), &session.Spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spec: %w", err)
	}
	if err := json.Unmarshal([]byte(turnsJ), &session.Turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns: %w", err)
	}
	return &session, nil
}

// AbandonIdleSessions marks every in-progress session idle since cutoff as
// abandoned.
func (s *Store) AbandonIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	query := s.dialect.Rebind(`UPDATE clarify_sessions
		SET status = ?
		WHERE status = ? AND last_active_at < ?`)

	result, err := s.db.ExecContext(ctx, query,
		string(domain.SessionAbandoned), string(domain.SessionInProgress), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
