package db

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

type testSettings struct {
	MaxCoinPrice float64 `json:"maxCoinPrice"`
}

type testTrade struct {
	PurchasePrice float64 `json:"purchasePrice"`
}

func newTestDB(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spotbot.db")
	database, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return database
}

func TestSettingsRoundTrip(t *testing.T) {
	database := newTestDB(t)

	in := testSettings{MaxCoinPrice: 12.5}
	if err := database.SaveSettings(in); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	var out testSettings
	if err := database.LoadSettings(&out); err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}

	// Saving again overwrites the single row rather than inserting a second.
	in.MaxCoinPrice = 20
	if err := database.SaveSettings(in); err != nil {
		t.Fatalf("SaveSettings overwrite: %v", err)
	}
	if err := database.LoadSettings(&out); err != nil {
		t.Fatalf("LoadSettings after overwrite: %v", err)
	}
	if out.MaxCoinPrice != 20 {
		t.Fatalf("expected overwritten value 20, got %v", out.MaxCoinPrice)
	}
}

func TestLoadSettingsNoRowsIsError(t *testing.T) {
	database := newTestDB(t)
	var out testSettings
	if err := database.LoadSettings(&out); err == nil {
		t.Fatal("expected an error when no settings have been saved")
	}
}

func TestActiveTradeSaveDeleteLoad(t *testing.T) {
	database := newTestDB(t)

	trade := testTrade{PurchasePrice: 1.23}
	if err := database.SaveActiveTrade("LTCUSDT", trade); err != nil {
		t.Fatalf("SaveActiveTrade: %v", err)
	}

	loaded, err := database.LoadActiveTrades()
	if err != nil {
		t.Fatalf("LoadActiveTrades: %v", err)
	}
	if _, ok := loaded["LTCUSDT"]; !ok {
		t.Fatal("expected LTCUSDT to be present after save")
	}

	if err := database.DeleteActiveTrade("LTCUSDT"); err != nil {
		t.Fatalf("DeleteActiveTrade: %v", err)
	}

	loaded, err = database.LoadActiveTrades()
	if err != nil {
		t.Fatalf("LoadActiveTrades after delete: %v", err)
	}
	if _, ok := loaded["LTCUSDT"]; ok {
		t.Fatal("expected LTCUSDT to be gone after delete")
	}
}

func TestLedgerIsAppendOnlyNewestFirst(t *testing.T) {
	database := newTestDB(t)

	entries := []struct {
		id string
		ts int64
	}{
		{"a", 100},
		{"b", 200},
		{"c", 300},
	}
	for _, e := range entries {
		if err := database.SaveLedgerItem(e.id, e.ts, map[string]string{"id": e.id}); err != nil {
			t.Fatalf("SaveLedgerItem(%s): %v", e.id, err)
		}
	}

	rows, err := database.LoadLedger(2)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows with limit=2, got %d", len(rows))
	}

	var first map[string]string
	if err := json.Unmarshal(rows[0], &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first["id"] != "c" {
		t.Fatalf("expected newest row first (\"c\"), got %q", first["id"])
	}

	// Re-saving an existing id must fail instead of overwriting the row.
	if err := database.SaveLedgerItem("a", 400, map[string]string{"id": "a2"}); err == nil {
		t.Fatal("expected saving a duplicate ledger id to fail")
	}
}
