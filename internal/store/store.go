package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mlegall/dcabot/internal/botconfig"
)

// ErrInvalidValue is returned when a write would store a value the scoring
// engine cannot use (e.g. a non-numeric weight). Invalid configuration is
// rejected at the point of write, not discovered later during scoring.
var ErrInvalidValue = errors.New("invalid configuration value")

// Repository is the database-backed override store. Each call acquires a
// connection from the pool for its own duration; no transaction spans
// multiple logical operations, so the admin surface and the scoring job
// may interleave at key granularity.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new override store repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the override store tables when missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			description TEXT,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS bot_formulas (
			name        TEXT PRIMARY KEY,
			expression  TEXT NOT NULL,
			weight      DOUBLE PRECISION NOT NULL DEFAULT 0,
			description TEXT,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS bot_tickers (
			symbol   TEXT PRIMARY KEY,
			enabled  BOOLEAN NOT NULL DEFAULT true,
			added_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Get retrieves one scalar override value
func (r *Repository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM bot_config WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores one scalar override. The value is kept as its serialized
// form; numeric keys (caps and weight paths) are validated here so a bad
// write is surfaced to the admin layer immediately.
func (r *Repository) Set(ctx context.Context, key, value, description string) error {
	if err := validateValue(key, value); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO bot_config (key, value, description, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, description = EXCLUDED.description, updated_at = now()
	`, key, value, description)
	return err
}

// Delete removes one scalar override
func (r *Repository) Delete(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM bot_config WHERE key = $1`, key)
	return err
}

// All returns every scalar override as key -> raw serialized value
func (r *Repository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM bot_config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// SetFormula stores or replaces a named formula
func (r *Repository) SetFormula(ctx context.Context, def botconfig.FormulaDefinition) error {
	if def.Name == "" || def.Expression == "" {
		return fmt.Errorf("%w: formula name and expression are required", ErrInvalidValue)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO bot_formulas (name, expression, weight, description, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE
		SET expression = EXCLUDED.expression, weight = EXCLUDED.weight,
		    description = EXCLUDED.description, updated_at = now()
	`, def.Name, def.Expression, def.Weight, def.Description)
	return err
}

// SetFormulaWeight updates the weight of an existing formula
func (r *Repository) SetFormulaWeight(ctx context.Context, name string, weight float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bot_formulas SET weight = $2, updated_at = now() WHERE name = $1
	`, name, weight)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("formula %s not found", name)
	}
	return nil
}

// DeleteFormula removes a named formula
func (r *Repository) DeleteFormula(ctx context.Context, name string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM bot_formulas WHERE name = $1`, name)
	return err
}

// ListFormulas returns the formula record set keyed by name
func (r *Repository) ListFormulas(ctx context.Context) (map[string]botconfig.FormulaDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, expression, weight, COALESCE(description, '') FROM bot_formulas
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]botconfig.FormulaDefinition)
	for rows.Next() {
		var def botconfig.FormulaDefinition
		if err := rows.Scan(&def.Name, &def.Expression, &def.Weight, &def.Description); err != nil {
			return nil, err
		}
		out[def.Name] = def
	}
	return out, rows.Err()
}

// AddTicker adds (or re-enables) a ticker symbol
func (r *Repository) AddTicker(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("%w: ticker symbol is required", ErrInvalidValue)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO bot_tickers (symbol, enabled, added_at)
		VALUES ($1, true, now())
		ON CONFLICT (symbol) DO UPDATE SET enabled = true
	`, symbol)
	return err
}

// RemoveTicker deletes a ticker symbol
func (r *Repository) RemoveTicker(ctx context.Context, symbol string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM bot_tickers WHERE symbol = $1`, strings.ToUpper(symbol))
	return err
}

// ToggleTicker enables or disables a ticker without removing it
func (r *Repository) ToggleTicker(ctx context.Context, symbol string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bot_tickers SET enabled = $2 WHERE symbol = $1
	`, strings.ToUpper(symbol), enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticker %s not found", symbol)
	}
	return nil
}

// ListTickers returns ticker symbols, optionally only enabled ones
func (r *Repository) ListTickers(ctx context.Context, enabledOnly bool) ([]string, error) {
	query := `SELECT symbol FROM bot_tickers ORDER BY symbol`
	if enabledOnly {
		query = `SELECT symbol FROM bot_tickers WHERE enabled ORDER BY symbol`
	}

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		out = append(out, symbol)
	}
	return out, rows.Err()
}

// validateValue rejects writes the scoring engine could not consume.
// Keys addressing weights or caps must deserialize to a number.
func validateValue(key, value string) error {
	if !numericKey(key) {
		return nil
	}

	var n float64
	if err := json.Unmarshal([]byte(value), &n); err != nil {
		return fmt.Errorf("%w: %s must be numeric, got %q", ErrInvalidValue, key, value)
	}
	if n < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidValue, key)
	}
	return nil
}

func numericKey(key string) bool {
	return key == "drawdown_cap" || key == "volatility_cap" || strings.HasPrefix(key, "weights.")
}
