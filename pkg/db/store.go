package db

import (
	"encoding/json"
	"fmt"
)

// SaveSettings overwrites the single settings row (id=1) atomically.
func (d *Database) SaveSettings(settings any) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = d.DB.Exec(`
		INSERT INTO bot_settings (id, data) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, string(data))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings reads the settings row into out. Returns sql.ErrNoRows if no
// settings have ever been saved.
func (d *Database) LoadSettings(out any) error {
	var data string
	err := d.DB.QueryRow(`SELECT data FROM bot_settings WHERE id = 1`).Scan(&data)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), out)
}

// SaveActiveTrade inserts or replaces the active-trade row for symbol.
func (d *Database) SaveActiveTrade(symbol string, trade any) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal active trade: %w", err)
	}
	_, err = d.DB.Exec(`
		INSERT INTO active_trades (symbol, data) VALUES (?, ?)
		ON CONFLICT(symbol) DO UPDATE SET data = excluded.data
	`, symbol, string(data))
	if err != nil {
		return fmt.Errorf("save active trade %s: %w", symbol, err)
	}
	return nil
}

// DeleteActiveTrade removes the active-trade row for symbol, if present.
func (d *Database) DeleteActiveTrade(symbol string) error {
	if _, err := d.DB.Exec(`DELETE FROM active_trades WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("delete active trade %s: %w", symbol, err)
	}
	return nil
}

// LoadActiveTrades returns every persisted active trade keyed by symbol, as
// raw JSON so callers can unmarshal into their own trade type.
func (d *Database) LoadActiveTrades() (map[string]json.RawMessage, error) {
	rows, err := d.DB.Query(`SELECT symbol, data FROM active_trades`)
	if err != nil {
		return nil, fmt.Errorf("load active trades: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var symbol, data string
		if err := rows.Scan(&symbol, &data); err != nil {
			return nil, err
		}
		out[symbol] = json.RawMessage(data)
	}
	return out, rows.Err()
}

// SaveLedgerItem appends an immutable completed-trade row; the ledger never
// updates or deletes existing rows.
func (d *Database) SaveLedgerItem(id string, timestamp int64, trade any) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal ledger item: %w", err)
	}
	_, err = d.DB.Exec(`
		INSERT INTO trade_ledger (id, timestamp, data) VALUES (?, ?, ?)
	`, id, timestamp, string(data))
	if err != nil {
		return fmt.Errorf("save ledger item %s: %w", id, err)
	}
	return nil
}

// LoadLedger returns up to limit ledger rows, newest first.
func (d *Database) LoadLedger(limit int) ([]json.RawMessage, error) {
	rows, err := d.DB.Query(`
		SELECT data FROM trade_ledger ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}
