package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// GetAccountBySecret resolves an account from its webhook secret.
func (d *Database) GetAccountBySecret(ctx context.Context, secret string) (*Account, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, webhook_secret, password_hash, notify_prefs, created_at
		FROM accounts WHERE webhook_secret = ?
	`, secret)
	return scanAccount(row)
}

// GetAccount fetches an account by id.
func (d *Database) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, webhook_secret, password_hash, notify_prefs, created_at
		FROM accounts WHERE id = ?
	`, id)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.WebhookSecret, &a.PasswordHash, &a.NotifyPrefs, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts an account row.
func (d *Database) CreateAccount(ctx context.Context, a Account) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO accounts (id, name, webhook_secret, password_hash, notify_prefs)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.WebhookSecret, a.PasswordHash, a.NotifyPrefs)
	return err
}

// GetCredential returns the active credential for (account, venue), or nil.
func (d *Database) GetCredential(ctx context.Context, accountID, venueType string) (*Credential, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, account_id, venue_type, api_key, secret_encrypted, sandbox, is_active, created_at
		FROM credentials
		WHERE account_id = ? AND venue_type = ? AND is_active = 1
	`, accountID, venueType)

	var c Credential
	var sandbox, active int
	err := row.Scan(&c.ID, &c.AccountID, &c.VenueType, &c.APIKey, &c.SecretEncrypted, &sandbox, &active, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Sandbox = sandbox == 1
	c.IsActive = active == 1
	return &c, nil
}

// ListActiveCredentials returns every active credential, for sweeps that
// must visit all account+venue pairs. Secrets stay encrypted in the result.
func (d *Database) ListActiveCredentials(ctx context.Context) ([]Credential, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, venue_type, api_key, secret_encrypted, sandbox, is_active, created_at
		FROM credentials WHERE is_active = 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		var sandbox, active int
		if err := rows.Scan(&c.ID, &c.AccountID, &c.VenueType, &c.APIKey, &c.SecretEncrypted, &sandbox, &active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Sandbox = sandbox == 1
		c.IsActive = active == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCredential inserts a credential row.
func (d *Database) CreateCredential(ctx context.Context, c Credential) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO credentials (id, account_id, venue_type, api_key, secret_encrypted, sandbox, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`, c.ID, c.AccountID, c.VenueType, c.APIKey, c.SecretEncrypted, boolToInt(c.Sandbox))
	return err
}

// AppendTrade writes a closed-trade ledger row. Ledger rows are never
// updated afterward.
func (d *Database) AppendTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, account_id, venue, symbol, side, qty, entry_price, exit_price, pnl, close_reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.AccountID, t.Venue, t.Symbol, t.Side, t.Qty, t.EntryPrice, t.ExitPrice, t.PnL, t.CloseReason, t.OpenedAt, t.ClosedAt)
	return err
}

// RealizedLossSince sums realized losses (as a positive number) for an
// account+venue from the given time.
func (d *Database) RealizedLossSince(ctx context.Context, accountID, venue string, since time.Time) (float64, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(-pnl), 0) FROM trades
		WHERE account_id = ? AND venue = ? AND closed_at >= ? AND pnl < 0
	`, accountID, venue, since)
	var loss float64
	if err := row.Scan(&loss); err != nil {
		return 0, fmt.Errorf("realized loss: %w", err)
	}
	return loss, nil
}

// TradeCountSince counts ledger rows for an account+venue from the given
// time.
func (d *Database) TradeCountSince(ctx context.Context, accountID, venue string, since time.Time) (int, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE account_id = ? AND venue = ? AND closed_at >= ?
	`, accountID, venue, since)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("trade count: %w", err)
	}
	return n, nil
}

// UpsertPosition writes the persisted mirror of an open position.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (account_id, venue, symbol, side, qty, entry_price, leverage, stop_order_id, tp_order_id, mark_price, unrealized_pnl, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id, venue, symbol) DO UPDATE SET
			side = excluded.side,
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			leverage = excluded.leverage,
			stop_order_id = excluded.stop_order_id,
			tp_order_id = excluded.tp_order_id,
			mark_price = excluded.mark_price,
			unrealized_pnl = excluded.unrealized_pnl,
			synced_at = CURRENT_TIMESTAMP
	`, p.AccountID, p.Venue, p.Symbol, p.Side, p.Qty, p.EntryPrice, p.Leverage, p.StopOrderID, p.TPOrderID, p.MarkPrice, p.UnrealizedPnL)
	return err
}

// DeletePosition removes the persisted row for a key.
func (d *Database) DeletePosition(ctx context.Context, accountID, venue, symbol string) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM positions WHERE account_id = ? AND venue = ? AND symbol = ?
	`, accountID, venue, symbol)
	return err
}

// ListPositions returns all persisted open positions.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT account_id, venue, symbol, side, qty, entry_price, leverage, stop_order_id, tp_order_id, mark_price, unrealized_pnl, synced_at
		FROM positions
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.AccountID, &p.Venue, &p.Symbol, &p.Side, &p.Qty, &p.EntryPrice, &p.Leverage, &p.StopOrderID, &p.TPOrderID, &p.MarkPrice, &p.UnrealizedPnL, &p.SyncedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateOptionTrade inserts a combo trade row in pending_entry state.
func (d *Database) CreateOptionTrade(ctx context.Context, t OptionTrade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO option_trades (id, account_id, venue, underlying, option_symbol, side, qty, multiplier, entry_order_id, tp_order_id, sl_order_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.AccountID, t.Venue, t.Underlying, t.OptionSymbol, t.Side, t.Qty, t.Multiplier, t.EntryOrderID, t.TPOrderID, t.SLOrderID, OptionStatusPendingEntry)
	return err
}

// ListOptionTradesByStatus returns combo trades in the given states.
func (d *Database) ListOptionTradesByStatus(ctx context.Context, statuses ...string) ([]OptionTrade, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, account_id, venue, underlying, option_symbol, side, qty, multiplier,
		       entry_order_id, tp_order_id, sl_order_id, close_order_id,
		       entry_price, exit_price, pnl, status, created_at, updated_at
		FROM option_trades WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OptionTrade
	for rows.Next() {
		var t OptionTrade
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Venue, &t.Underlying, &t.OptionSymbol, &t.Side, &t.Qty, &t.Multiplier,
			&t.EntryOrderID, &t.TPOrderID, &t.SLOrderID, &t.CloseOrderID,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkOptionTradeOpen records the entry fill and transitions to open.
func (d *Database) MarkOptionTradeOpen(ctx context.Context, id string, entryPrice float64) error {
	return d.transitionOptionTrade(ctx, id, OptionStatusOpen, `
		UPDATE option_trades SET status = ?, entry_price = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, OptionStatusOpen, entryPrice, id, OptionStatusPendingEntry)
}

// CloseOptionTrade records the exit fill and moves to a terminal status.
// The guard on the current status makes the closing transition happen at
// most once.
func (d *Database) CloseOptionTrade(ctx context.Context, id, status string, exitPrice, pnl float64) error {
	return d.transitionOptionTrade(ctx, id, status, `
		UPDATE option_trades SET status = ?, exit_price = ?, pnl = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, status, exitPrice, pnl, id, OptionStatusOpen)
}

// CancelOptionTrade moves a pending trade to cancelled.
func (d *Database) CancelOptionTrade(ctx context.Context, id string) error {
	return d.transitionOptionTrade(ctx, id, OptionStatusCancelled, `
		UPDATE option_trades SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, OptionStatusCancelled, id, OptionStatusPendingEntry)
}

// SetOptionTradeCloseOrder records the forced-exit order id.
func (d *Database) SetOptionTradeCloseOrder(ctx context.Context, id, orderID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE option_trades SET close_order_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, orderID, id)
	return err
}

func (d *Database) transitionOptionTrade(ctx context.Context, id, to, query string, args ...any) error {
	res, err := d.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("option trade %s: no transition to %s (already terminal or wrong state)", id, to)
	}
	return nil
}

// CreateOrder inserts a submission audit row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, venue, symbol, side, type, qty, price, status, venue_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.AccountID, o.Venue, o.Symbol, o.Side, o.Type, o.Qty, o.Price, o.Status, o.VenueOrderID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
