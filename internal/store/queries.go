package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AppendDecision inserts a Decision row and returns its monotonic id.
func (s *Store) AppendDecision(ctx context.Context, d Decision) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (
			timestamp, coin, signal, quantity_usd, leverage, confidence,
			profit_target, stop_loss, invalidation_condition, justification,
			raw_response, system_prompt, user_prompt, execution_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		timeOrNow(d.Timestamp), d.Coin, string(d.Signal), d.QuantityUSD, d.Leverage, d.Confidence,
		d.ProfitTarget, d.StopLoss, d.InvalidationCondition, d.Justification,
		d.RawResponse, d.SystemPrompt, d.UserPrompt, string(orPending(d.ExecutionStatus)),
	)
	if err != nil {
		return 0, wrapErr("append_decision", err)
	}
	return res.LastInsertId()
}

func orPending(s ExecutionStatus) ExecutionStatus {
	if s == "" {
		return ExecPending
	}
	return s
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// SetDecisionExecution records the single post-execution update for a
// Decision. Calling it twice with the same status is a no-op in effect
// (idempotent), since execution_status is only ever read, never compared.
func (s *Store) SetDecisionExecution(ctx context.Context, id int64, status ExecutionStatus, execErr *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET execution_status = ?, execution_error = ?, execution_timestamp = ?
		WHERE id = ?
	`, string(status), execErr, time.Now().UTC(), id)
	return wrapErr("set_decision_execution", err)
}

// AppendPositionEntry inserts a new open Position under the caller-supplied
// positionID.
func (s *Store) AppendPositionEntry(ctx context.Context, positionID, coin, side string, entryPrice, quantityUSD, leverage float64, decisionID *int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (
			position_id, coin, side, entry_time, entry_price, quantity_usd, leverage, decision_id, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'open')
	`, positionID, coin, side, time.Now().UTC(), entryPrice, quantityUSD, leverage, decisionID)
	return wrapErr("append_position_entry", err)
}

// ClosePosition sets the exit fields and status=closed. Fails if the
// position does not exist or is already closed.
func (s *Store) ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnL float64, exitReason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("close_position", err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM positions WHERE position_id = ?`, positionID).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return wrapErr("close_position", ErrNotFound)
		}
		return wrapErr("close_position", err)
	}
	if status == string(PositionClosed) {
		return wrapErr("close_position", ErrAlreadyClosed)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET status = 'closed', exit_time = ?, exit_price = ?, realized_pnl = ?, exit_reason = ?
		WHERE position_id = ?
	`, time.Now().UTC(), exitPrice, realizedPnL, exitReason, positionID); err != nil {
		return wrapErr("close_position", err)
	}

	return wrapErr("close_position", tx.Commit())
}

// AppendAccountSnapshot appends a new, immutable AccountSnapshot row.
func (s *Store) AppendAccountSnapshot(ctx context.Context, snap AccountSnapshot) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO account_snapshots (
			timestamp, balance_usd, equity_usd, unrealized_pnl, realized_pnl, total_pnl,
			sharpe_ratio, num_positions, return_pct
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, timeOrNow(snap.Timestamp), snap.BalanceUSD, snap.EquityUSD, snap.UnrealizedPnL,
		snap.RealizedPnL, snap.TotalPnL, snap.SharpeRatio, snap.NumPositions, snap.ReturnPct)
	if err != nil {
		return 0, wrapErr("append_account_snapshot", err)
	}
	return res.LastInsertId()
}

// AppendStatus appends a StatusEvent.
func (s *Store) AppendStatus(ctx context.Context, status, message, errMsg string) error {
	var msgArg, errArg any
	if message != "" {
		msgArg = message
	}
	if errMsg != "" {
		errArg = errMsg
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_events (timestamp, status, message, error) VALUES (?, ?, ?, ?)
	`, time.Now().UTC(), status, msgArg, errArg)
	return wrapErr("append_status", err)
}

// SaveOperatorInput archives every prior active row and inserts the new one
// as active, all inside a single transaction, guaranteeing at most one
// active=true row exists at any instant.
func (s *Store) SaveOperatorInput(ctx context.Context, message, messageType, imagePath string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("save_operator_input", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE operator_inputs SET is_active = 0 WHERE is_active = 1`); err != nil {
		return 0, wrapErr("save_operator_input", err)
	}

	var imgArg any
	if imagePath != "" {
		imgArg = imagePath
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO operator_inputs (timestamp, message, message_type, image_path, is_active)
		VALUES (?, ?, ?, ?, 1)
	`, time.Now().UTC(), message, messageType, imgArg)
	if err != nil {
		return 0, wrapErr("save_operator_input", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr("save_operator_input", err)
	}
	return id, wrapErr("save_operator_input", tx.Commit())
}

// GetActiveOperatorInput returns the current active row, or nil if none.
func (s *Store) GetActiveOperatorInput(ctx context.Context) (*OperatorInput, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, message, message_type, image_path, is_active
		FROM operator_inputs WHERE is_active = 1 ORDER BY id DESC LIMIT 1
	`)
	var o OperatorInput
	var active int
	if err := row.Scan(&o.ID, &o.Timestamp, &o.Message, &o.MessageType, &o.ImagePath, &active); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapErr("get_active_operator_input", err)
	}
	o.IsActive = active != 0
	return &o, nil
}

// ArchiveOperatorInput marks a single row inactive.
func (s *Store) ArchiveOperatorInput(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE operator_inputs SET is_active = 0 WHERE id = ?`, id)
	return wrapErr("archive_operator_input", err)
}

// GetSetting returns a setting's raw string value.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get_setting", err)
	}
	return v, true, nil
}

// SetSetting upserts a setting's value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return wrapErr("set_setting", err)
}

// AllSettings returns every stored setting as a map.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, wrapErr("all_settings", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, wrapErr("all_settings", err)
		}
		out[k] = v
	}
	return out, wrapErr("all_settings", rows.Err())
}

// RecentDecisions returns the most recent `limit` decisions, each left-joined
// with its linked Position: for entry signals, the Position with
// decision_id = decision.id; for hold/close, the most recent Position for
// the same coin with entry_time <= decision.timestamp.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]DecisionWithPosition, error) {
	return s.decisionsQuery(ctx, `SELECT id, timestamp, coin, signal, quantity_usd, leverage, confidence,
			profit_target, stop_loss, invalidation_condition, justification, raw_response,
			system_prompt, user_prompt, execution_status, execution_error, execution_timestamp
		FROM decisions ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// DecisionsByCoin returns the most recent `limit` decisions for a coin.
func (s *Store) DecisionsByCoin(ctx context.Context, coin string, limit int) ([]DecisionWithPosition, error) {
	return s.decisionsQuery(ctx, `SELECT id, timestamp, coin, signal, quantity_usd, leverage, confidence,
			profit_target, stop_loss, invalidation_condition, justification, raw_response,
			system_prompt, user_prompt, execution_status, execution_error, execution_timestamp
		FROM decisions WHERE coin = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, coin, limit)
}

func (s *Store) decisionsQuery(ctx context.Context, query string, args ...any) ([]DecisionWithPosition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("decisions_query", err)
	}
	defer rows.Close()

	var out []DecisionWithPosition
	for rows.Next() {
		var d Decision
		var sig string
		var execStatus string
		if err := rows.Scan(&d.ID, &d.Timestamp, &d.Coin, &sig, &d.QuantityUSD, &d.Leverage, &d.Confidence,
			&d.ProfitTarget, &d.StopLoss, &d.InvalidationCondition, &d.Justification, &d.RawResponse,
			&d.SystemPrompt, &d.UserPrompt, &execStatus, &d.ExecutionError, &d.ExecutionTimestamp); err != nil {
			return nil, wrapErr("decisions_query", err)
		}
		d.Signal = Signal(sig)
		d.ExecutionStatus = ExecutionStatus(execStatus)
		out = append(out, DecisionWithPosition{Decision: d})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("decisions_query", err)
	}

	for i := range out {
		pos, err := s.linkedPosition(ctx, &out[i].Decision)
		if err != nil {
			return nil, err
		}
		out[i].Position = pos
	}
	return out, nil
}

func (s *Store) linkedPosition(ctx context.Context, d *Decision) (*Position, error) {
	switch d.Signal {
	case SignalBuyToEnter, SignalSellToEnter:
		row := s.db.QueryRowContext(ctx, positionSelectCols+` FROM positions WHERE decision_id = ?`, d.ID)
		return scanOptionalPosition(row)
	default:
		row := s.db.QueryRowContext(ctx, positionSelectCols+`
			FROM positions WHERE coin = ? AND entry_time <= ? ORDER BY entry_time DESC LIMIT 1`,
			d.Coin, d.Timestamp)
		return scanOptionalPosition(row)
	}
}

const positionSelectCols = `SELECT position_id, coin, side, entry_time, entry_price, quantity_usd, leverage,
	decision_id, exit_time, exit_price, realized_pnl, status, exit_reason`

func scanOptionalPosition(row *sql.Row) (*Position, error) {
	var p Position
	var status string
	if err := row.Scan(&p.PositionID, &p.Coin, &p.Side, &p.EntryTime, &p.EntryPrice, &p.QuantityUSD, &p.Leverage,
		&p.DecisionID, &p.ExitTime, &p.ExitPrice, &p.RealizedPnL, &status, &p.ExitReason); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapErr("linked_position", err)
	}
	p.Status = PositionStatus(status)
	return &p, nil
}

// OpenPositions returns all positions with status=open.
func (s *Store) OpenPositions(ctx context.Context) ([]Position, error) {
	return s.positionsQuery(ctx, positionSelectCols+` FROM positions WHERE status = 'open' ORDER BY entry_time DESC`)
}

// ClosedPositions returns the most recent `limit` closed positions.
func (s *Store) ClosedPositions(ctx context.Context, limit int) ([]Position, error) {
	return s.positionsQuery(ctx, positionSelectCols+` FROM positions WHERE status = 'closed' ORDER BY exit_time DESC LIMIT ?`, limit)
}

// AllPositions returns the most recent `limit` positions regardless of status.
func (s *Store) AllPositions(ctx context.Context, limit int) ([]Position, error) {
	return s.positionsQuery(ctx, positionSelectCols+` FROM positions ORDER BY entry_time DESC LIMIT ?`, limit)
}

func (s *Store) positionsQuery(ctx context.Context, query string, args ...any) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("positions_query", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		var status string
		if err := rows.Scan(&p.PositionID, &p.Coin, &p.Side, &p.EntryTime, &p.EntryPrice, &p.QuantityUSD, &p.Leverage,
			&p.DecisionID, &p.ExitTime, &p.ExitPrice, &p.RealizedPnL, &status, &p.ExitReason); err != nil {
			return nil, wrapErr("positions_query", err)
		}
		p.Status = PositionStatus(status)
		out = append(out, p)
	}
	return out, wrapErr("positions_query", rows.Err())
}

// LatestAccountSnapshot returns the most recent snapshot, or nil if none.
func (s *Store) LatestAccountSnapshot(ctx context.Context) (*AccountSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, balance_usd, equity_usd, unrealized_pnl, realized_pnl, total_pnl,
			sharpe_ratio, num_positions, return_pct
		FROM account_snapshots ORDER BY timestamp DESC, id DESC LIMIT 1
	`)
	var a AccountSnapshot
	if err := row.Scan(&a.ID, &a.Timestamp, &a.BalanceUSD, &a.EquityUSD, &a.UnrealizedPnL, &a.RealizedPnL,
		&a.TotalPnL, &a.SharpeRatio, &a.NumPositions, &a.ReturnPct); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapErr("latest_account_snapshot", err)
	}
	return &a, nil
}

// AccountHistory returns the most recent `limit` account snapshots.
func (s *Store) AccountHistory(ctx context.Context, limit int) ([]AccountSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, balance_usd, equity_usd, unrealized_pnl, realized_pnl, total_pnl,
			sharpe_ratio, num_positions, return_pct
		FROM account_snapshots ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrapErr("account_history", err)
	}
	defer rows.Close()

	var out []AccountSnapshot
	for rows.Next() {
		var a AccountSnapshot
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.BalanceUSD, &a.EquityUSD, &a.UnrealizedPnL, &a.RealizedPnL,
			&a.TotalPnL, &a.SharpeRatio, &a.NumPositions, &a.ReturnPct); err != nil {
			return nil, wrapErr("account_history", err)
		}
		out = append(out, a)
	}
	return out, wrapErr("account_history", rows.Err())
}

// TotalRealizedPnL sums realized_pnl across all closed positions.
func (s *Store) TotalRealizedPnL(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(realized_pnl) FROM positions WHERE status = 'closed'`).Scan(&total)
	if err != nil {
		return 0, wrapErr("total_realized_pnl", err)
	}
	return total.Float64, nil
}

// DailyRealizedPnL sums realized_pnl for positions closed in the current UTC day.
func (s *Store) DailyRealizedPnL(ctx context.Context, day time.Time) (float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(realized_pnl) FROM positions
		WHERE status = 'closed' AND exit_time >= ? AND exit_time < ?
	`, start, end).Scan(&total)
	if err != nil {
		return 0, wrapErr("daily_realized_pnl", err)
	}
	return total.Float64, nil
}

// RecentStatus returns the most recent `limit` status events.
func (s *Store) RecentStatus(ctx context.Context, limit int) ([]StatusEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, status, message, error
		FROM status_events ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrapErr("recent_status", err)
	}
	defer rows.Close()

	var out []StatusEvent
	for rows.Next() {
		var e StatusEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Status, &e.Message, &e.Error); err != nil {
			return nil, wrapErr("recent_status", err)
		}
		out = append(out, e)
	}
	return out, wrapErr("recent_status", rows.Err())
}

// Status returns row counts and latest timestamps across the store.
func (s *Store) Status(ctx context.Context) (StoreStatus, error) {
	var st StoreStatus
	counts := []struct {
		table string
		dst   *int64
	}{
		{"decisions", &st.Decisions},
		{"positions", &st.Positions},
		{"account_snapshots", &st.AccountSnapshots},
		{"status_events", &st.StatusEvents},
		{"operator_inputs", &st.OperatorInputs},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return st, wrapErr("status", err)
		}
	}

	var latestDecision, latestSnapshot sql.NullTime
	_ = s.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM decisions`).Scan(&latestDecision)
	_ = s.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM account_snapshots`).Scan(&latestSnapshot)
	if latestDecision.Valid {
		st.LatestDecision = &latestDecision.Time
	}
	if latestSnapshot.Valid {
		st.LatestSnapshot = &latestSnapshot.Time
	}
	return st, nil
}

// debugTables whitelists the tables DebugQuery may read; it exists so a raw
// table name from an HTTP query parameter never reaches string-built SQL
// unchecked.
var debugTables = map[string]bool{
	"decisions": true, "positions": true, "account_snapshots": true,
	"status_events": true, "operator_inputs": true, "settings": true,
}

// ErrUnknownTable is returned by DebugQuery for a table outside debugTables.
var ErrUnknownTable = errors.New("store: unknown debug table")

// DebugQuery returns up to `limit` rows of `table` as generic column maps,
// for operator inspection. table must be one of debugTables.
func (s *Store) DebugQuery(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	if !debugTables[table] {
		return nil, ErrUnknownTable
	}
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM `+table+` ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr("debug_query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, wrapErr("debug_query", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, wrapErr("debug_query", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, wrapErr("debug_query", rows.Err())
}

// Reset clears all rows. When preserveSchema is true, tables are kept and
// the database is vacuumed to reclaim space; otherwise the schema itself is
// dropped and recreated.
func (s *Store) Reset(ctx context.Context, preserveSchema bool) error {
	tables := []string{"decisions", "positions", "account_snapshots", "status_events", "operator_inputs", "settings"}

	if !preserveSchema {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return wrapErr("reset", err)
		}
		defer tx.Rollback()
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+t); err != nil {
				return wrapErr("reset", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return wrapErr("reset", err)
		}
		return wrapErr("reset", s.applyMigrations())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("reset", err)
	}
	defer tx.Rollback()
	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+t); err != nil {
			return wrapErr("reset", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("reset", err)
	}

	_, err = s.db.ExecContext(ctx, `VACUUM`)
	return wrapErr("reset", err)
}
