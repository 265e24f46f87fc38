package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.LedgerRepository and ports.PositionRepository using SQLite.
type Repository struct {
	db     *sqlx.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/ratchet_bot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Connect opens and pings.
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY under the ratchet fan-out.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		qty REAL NOT NULL DEFAULT 0,
		quote_amount REAL NOT NULL DEFAULT 0,
		stop_loss_price REAL NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		trend_label TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tracked_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL UNIQUE,
		trend INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		current_stop_price REAL NOT NULL,
		protection_mode TEXT NOT NULL,
		protective_order_id INTEGER NOT NULL DEFAULT 0,
		unprotected BOOLEAN NOT NULL DEFAULT 0,
		quote_asset TEXT NOT NULL DEFAULT '',
		opened_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_timestamp ON ledger_entries (timestamp);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_symbol ON ledger_entries (symbol, timestamp);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- LedgerRepository Implementation ---

// Append stores one ledger entry and returns its assigned ID.
func (r *Repository) Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	const query = `
	INSERT INTO ledger_entries (timestamp, symbol, action, price, qty, quote_amount, stop_loss_price, reason, trend_label)
	VALUES (:timestamp, :symbol, :action, :price, :qty, :quote_amount, :stop_loss_price, :reason, :trend_label)`

	row := *entry
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now()
	}
	row.Timestamp = row.Timestamp.UTC()

	result, err := r.db.NamedExecContext(ctx, query, &row)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ledger entry for symbol %s: %w: %w", entry.Symbol, ports.ErrUpdateFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for ledger entry %s: %w", entry.Symbol, err)
	}
	entry.ID = id
	entry.Timestamp = row.Timestamp
	r.logger.Debug(ctx, "Ledger entry appended", map[string]interface{}{"entryID": id, "symbol": entry.Symbol, "action": entry.Action})
	return id, nil
}

// ListSince returns entries with a timestamp at or after since, oldest first.
func (r *Repository) ListSince(ctx context.Context, since time.Time) ([]*domain.LedgerEntry, error) {
	const query = `
	SELECT id, timestamp, symbol, action, price, qty, quote_amount, stop_loss_price, reason, trend_label
	FROM ledger_entries
	WHERE timestamp >= ?
	ORDER BY timestamp, id`

	entries := make([]*domain.LedgerEntry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to query ledger since %s: %w: %w", since.Format(time.RFC3339), ports.ErrQueryFailed, err)
	}
	return entries, nil
}

// ListBySymbol returns every entry for a symbol, oldest first.
func (r *Repository) ListBySymbol(ctx context.Context, symbol string) ([]*domain.LedgerEntry, error) {
	const query = `
	SELECT id, timestamp, symbol, action, price, qty, quote_amount, stop_loss_price, reason, trend_label
	FROM ledger_entries
	WHERE symbol = ?
	ORDER BY timestamp, id`

	entries := make([]*domain.LedgerEntry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, symbol); err != nil {
		return nil, fmt.Errorf("failed to query ledger for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	return entries, nil
}

// --- PositionRepository Implementation ---

// Save inserts or replaces the tracked position for its symbol.
func (r *Repository) Save(ctx context.Context, pos *domain.TrackedPosition) error {
	const query = `
	INSERT INTO tracked_positions (symbol, trend, entry_price, quantity, current_stop_price, protection_mode,
	                               protective_order_id, unprotected, quote_asset, opened_at, updated_at)
	VALUES (:symbol, :trend, :entry_price, :quantity, :current_stop_price, :protection_mode,
	        :protective_order_id, :unprotected, :quote_asset, :opened_at, :updated_at)
	ON CONFLICT(symbol) DO UPDATE SET
		trend = excluded.trend,
		entry_price = excluded.entry_price,
		quantity = excluded.quantity,
		current_stop_price = excluded.current_stop_price,
		protection_mode = excluded.protection_mode,
		protective_order_id = excluded.protective_order_id,
		unprotected = excluded.unprotected,
		quote_asset = excluded.quote_asset,
		updated_at = excluded.updated_at`

	if strings.TrimSpace(pos.Symbol) == "" {
		return fmt.Errorf("cannot save tracked position without symbol: %w", ports.ErrInvalidRequest)
	}
	row := *pos
	now := time.Now().UTC()
	if row.OpenedAt.IsZero() {
		row.OpenedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}
	row.OpenedAt = row.OpenedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()

	if _, err := r.db.NamedExecContext(ctx, query, &row); err != nil {
		return fmt.Errorf("failed to save tracked position %s: %w: %w", pos.Symbol, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Tracked position saved", map[string]interface{}{"symbol": pos.Symbol, "stop": pos.CurrentStopPrice, "orderID": pos.ProtectiveOrderID})
	return nil
}

// Delete removes the tracked position for a symbol. Deleting a missing symbol is not an error.
func (r *Repository) Delete(ctx context.Context, symbol string) error {
	const query = `DELETE FROM tracked_positions WHERE symbol = ?`
	result, err := r.db.ExecContext(ctx, query, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete tracked position %s: %w: %w", symbol, ports.ErrUpdateFailed, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		r.logger.Debug(ctx, "No tracked position to delete", map[string]interface{}{"symbol": symbol})
	}
	return nil
}

// FindBySymbol returns nil, nil if the symbol is not tracked.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string) (*domain.TrackedPosition, error) {
	const query = `
	SELECT id, symbol, trend, entry_price, quantity, current_stop_price, protection_mode,
	       protective_order_id, unprotected, quote_asset, opened_at, updated_at
	FROM tracked_positions
	WHERE symbol = ?`

	var pos domain.TrackedPosition
	if err := r.db.GetContext(ctx, &pos, query, symbol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No tracked position found for symbol", map[string]interface{}{"symbol": symbol})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query tracked position %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	return &pos, nil
}

// FindAll returns every tracked position ordered by symbol.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.TrackedPosition, error) {
	const query = `
	SELECT id, symbol, trend, entry_price, quantity, current_stop_price, protection_mode,
	       protective_order_id, unprotected, quote_asset, opened_at, updated_at
	FROM tracked_positions
	ORDER BY symbol`

	positions := make([]*domain.TrackedPosition, 0)
	if err := r.db.SelectContext(ctx, &positions, query); err != nil {
		return nil, fmt.Errorf("failed to query tracked positions: %w: %w", ports.ErrQueryFailed, err)
	}
	return positions, nil
}
