package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"barrun/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("crypto", "1h", "btcusdt", 2024)
	wantBarPath := filepath.Join("/data", "crypto", "1h", "BTCUSDT", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}

	fp := ps.fundingPath("crypto", "btcusdt")
	wantFundingPath := filepath.Join("/data", "crypto", "funding", "BTCUSDT.parquet")
	if fp != wantFundingPath {
		t.Errorf("fundingPath mismatch:\n  got  %s\n  want %s", fp, wantFundingPath)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:      "BTCUSDT",
			Timestamp:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:        42000,
			High:        42500,
			Low:         41800,
			Close:       42300,
			Volume:      1250.5,
			FundingRate: -0.0001,
			HasFunding:  true,
		},
		{
			Symbol:    "BTCUSDT",
			Timestamp: time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
			Open:      42300,
			High:      42600,
			Low:       42100,
			Close:     42550,
			Volume:    980.25,
		},
	}

	if err := ps.WriteBars(ctx, "crypto", "1h", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.ReadBars(ctx, "crypto", "1h", "BTCUSDT", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(bars[0].Timestamp) {
		t.Errorf("first bar Timestamp = %v, want %v", got[0].Timestamp, bars[0].Timestamp)
	}
	if got[0].Timestamp.Location() != time.UTC {
		t.Errorf("first bar Location = %v, want UTC", got[0].Timestamp.Location())
	}
	if got[0].Volume != 1250.5 {
		t.Errorf("first bar Volume = %v, want 1250.5", got[0].Volume)
	}
	if !got[0].HasFunding || got[0].FundingRate != -0.0001 {
		t.Errorf("first bar funding = (%v, %v), want (-0.0001, true)", got[0].FundingRate, got[0].HasFunding)
	}
	if got[1].HasFunding {
		t.Error("second bar HasFunding = true, want false")
	}
	if got[1].Close != 42550 {
		t.Errorf("second bar Close = %v, want 42550", got[1].Close)
	}
}

func TestParquetStoreReadBarsRange(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	var bars []domain.Bar
	for _, ts := range []time.Time{
		time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	} {
		bars = append(bars, domain.Bar{Symbol: "ETHUSDT", Timestamp: ts, Open: 1, High: 2, Low: 1, Close: 2, Volume: 1})
	}
	if err := ps.WriteBars(ctx, "crypto", "1d", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.ReadBars(ctx, "crypto", "1d", "ETHUSDT",
		time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars across the year boundary, want 2", len(got))
	}
	if got[0].Timestamp.Year() != 2023 || got[1].Timestamp.Year() != 2024 {
		t.Errorf("ReadBars years = %d, %d, want 2023, 2024", got[0].Timestamp.Year(), got[1].Timestamp.Year())
	}

	none, err := ps.ReadBars(ctx, "crypto", "1d", "SOLUSDT", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars for missing symbol: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ReadBars for missing symbol returned %d bars, want 0", len(none))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	first := []domain.Bar{{
		Symbol:    "AAPL",
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Open:      170, High: 172, Low: 169, Close: 171, Volume: 3e7,
	}}
	if err := ps.WriteBars(ctx, "us", "1d", first); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Same timestamp with a corrected close plus a new bar.
	second := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Open: 170, High: 172, Low: 169, Close: 171.5, Volume: 3e7},
		{Symbol: "AAPL", Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Open: 171, High: 175, Low: 170, Close: 174, Volume: 3.5e7},
	}
	if err := ps.WriteBars(ctx, "us", "1d", second); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "us", "1d", "AAPL", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 171.5 {
		t.Errorf("merged bar Close = %v, want 171.5", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "ETHUSDT", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 2300, High: 2310, Low: 2290, Close: 2305, Volume: 10},
		{Symbol: "BTCUSDT", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 42000, High: 42100, Low: 41900, Close: 42050, Volume: 5},
	}
	if err := ps.WriteBars(ctx, "crypto", "1h", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "crypto", "1h")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Errorf("ListSymbols = %v, want [BTCUSDT ETHUSDT]", symbols)
	}

	empty, err := ps.ListSymbols(ctx, "crypto", "5m")
	if err != nil {
		t.Fatalf("ListSymbols on missing timeframe: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListSymbols on missing timeframe = %v, want empty", empty)
	}
}

func TestParquetStoreFunding(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rates := []domain.FundingRate{
		{Symbol: "BTCUSDT", Time: t0.Add(8 * time.Hour), Rate: -0.0002},
		{Symbol: "BTCUSDT", Time: t0, Rate: 0.0001},
	}
	if err := ps.WriteFunding(ctx, "crypto", rates); err != nil {
		t.Fatalf("WriteFunding: %v", err)
	}

	got, err := ps.ReadFunding(ctx, "crypto", "btcusdt", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadFunding: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadFunding returned %d rates, want 2", len(got))
	}
	if !got[0].Time.Equal(t0) || got[0].Rate != 0.0001 {
		t.Errorf("first rate = %+v, want 0.0001 at %v", got[0], t0)
	}
	if got[1].Rate != -0.0002 {
		t.Errorf("second rate = %v, want -0.0002", got[1].Rate)
	}

	missing, err := ps.ReadFunding(ctx, "crypto", "ETHUSDT", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadFunding for missing file: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("ReadFunding for missing file returned %d rates, want 0", len(missing))
	}
}

func sampleRun(id string, created time.Time) *Run {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Run{
		ID:        id,
		CreatedAt: created,
		Summary: domain.Summary{
			Strategy:      "zscore-reversion",
			Symbol:        "BTCUSDT",
			Start:         start,
			End:           start.Add(99 * time.Hour),
			Bars:          100,
			InitialEquity: 100000,
			FinalEquity:   101500,
			TotalReturn:   1.5,
			MaxDrawdown:   -0.8,
			TotalTrades:   1,
			WinRate:       100,
			SharpeRatio:   1.2,
			Params:        []domain.Param{{Name: "lookback", Value: 60}, {Name: "entry_z", Value: 2.0}},
		},
		Trades: []domain.Trade{{
			PositionID: "p1", SetupID: "s1", Symbol: "BTCUSDT", Side: domain.SideShort, Qty: 3,
			EntryPrice: 42000, ExitPrice: 41500, EntryIndex: 10, ExitIndex: 20,
			EntryTime: start.Add(10 * time.Hour), ExitTime: start.Add(20 * time.Hour),
			PnL: 1500, ExitReason: domain.ExitZReversion,
		}},
		Events: []domain.Event{
			{Index: 0, Time: start, Kind: domain.EventSkip, Reason: domain.ReasonIndicatorUndefined},
			{Index: 10, Time: start.Add(10 * time.Hour), Kind: domain.EventEntry, Reason: "z_high", PositionID: "p1", Side: domain.SideShort, Price: 42000, Qty: 3},
		},
	}
}

func TestSQLiteStoreSaveRun(t *testing.T) {
	dir := t.TempDir()
	st, err := NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	}()
	ctx := context.Background()

	older := sampleRun("run-1", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	newer := sampleRun("run-2", time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	for _, r := range []*Run{older, newer} {
		if err := st.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.ID, err)
		}
	}

	runs, err := st.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("ListRuns[0].ID = %q, want run-2 (newest first)", runs[0].ID)
	}
	got := runs[1].Summary
	if got.Strategy != "zscore-reversion" || got.FinalEquity != 101500 || got.MaxDrawdown != -0.8 {
		t.Errorf("summary round trip = %+v", got)
	}
	if !got.Start.Equal(older.Summary.Start) {
		t.Errorf("Start = %v, want %v", got.Start, older.Summary.Start)
	}
	if len(got.Params) != 2 || got.Params[0].Name != "lookback" {
		t.Errorf("Params = %+v, want lookback first", got.Params)
	}

	trades, err := st.RunTrades(ctx, "run-1")
	if err != nil {
		t.Fatalf("RunTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("RunTrades returned %d trades, want 1", len(trades))
	}
	if trades[0].Side != domain.SideShort || trades[0].ExitReason != domain.ExitZReversion || trades[0].PnL != 1500 {
		t.Errorf("trade round trip = %+v", trades[0])
	}

	events, err := st.RunEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("RunEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("RunEvents returned %d events, want 2", len(events))
	}
	if events[0].Kind != domain.EventSkip || events[1].Kind != domain.EventEntry {
		t.Errorf("event kinds = %s, %s, want skip, entry", events[0].Kind, events[1].Kind)
	}
}

func TestSQLiteStoreSaveRunRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO trades").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	st := NewSQLiteStoreFromDB(db)
	err = st.SaveRun(context.Background(), sampleRun("run-x", time.Now()))
	if err == nil {
		t.Fatal("SaveRun succeeded, want error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLiteStoreListRunsQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM runs ORDER BY created_at DESC").WillReturnError(errors.New("no such table: runs"))

	st := NewSQLiteStoreFromDB(db)
	if _, err := st.ListRuns(context.Background(), 5); err == nil {
		t.Fatal("ListRuns succeeded, want error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
