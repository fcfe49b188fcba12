package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"barrun/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ FundingStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and FundingStore using Parquet files on
// disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data. Funding is stored alongside
// the bar when the feed carried it.
type BarRecord struct {
	Symbol      string  `parquet:"symbol"`
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open        float64 `parquet:"open"`
	High        float64 `parquet:"high"`
	Low         float64 `parquet:"low"`
	Close       float64 `parquet:"close"`
	Volume      float64 `parquet:"volume"`
	FundingRate float64 `parquet:"funding_rate"`
	HasFunding  bool    `parquet:"has_funding"`
}

// FundingRecord is the Parquet schema for funding rate history.
type FundingRecord struct {
	Symbol string  `parquet:"symbol"`
	Time   int64   `parquet:"time,timestamp(millisecond)"` // Unix ms
	Rate   float64 `parquet:"rate"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/<timeframe>/<SYMBOL>/<YYYY>.parquet
//
// Existing rows with the same timestamp are replaced.
func (s *ParquetStore) WriteBars(_ context.Context, market, timeframe string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:      k.symbol,
			Timestamp:   b.Timestamp.UnixMilli(),
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
			FundingRate: b.FundingRate,
			HasFunding:  b.HasFunding,
		})
	}

	for k, records := range groups {
		path := s.barPath(market, timeframe, k.symbol, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range.
func (s *ParquetStore) ReadBars(_ context.Context, market, timeframe, symbol string, start, end time.Time) ([]domain.Bar, error) {
	years, err := s.barYears(market, timeframe, symbol)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if (!start.IsZero() && year < start.UTC().Year()) || (!end.IsZero() && year > end.UTC().Year()) {
			continue
		}
		path := s.barPath(market, timeframe, symbol, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if !inRange(ts, start, end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:      r.Symbol,
				Timestamp:   ts,
				Open:        r.Open,
				High:        r.High,
				Low:         r.Low,
				Close:       r.Close,
				Volume:      r.Volume,
				FundingRate: r.FundingRate,
				HasFunding:  r.HasFunding,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market and
// timeframe.
func (s *ParquetStore) ListSymbols(_ context.Context, market, timeframe string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, timeframe)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// barYears returns the years with a bar file for symbol, ascending.
func (s *ParquetStore) barYears(market, timeframe, symbol string) ([]int, error) {
	dir := filepath.Join(s.DataDir, market, timeframe, strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if e.IsDir() || !ok {
			continue
		}
		if y, err := strconv.Atoi(name); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// FundingStore implementation
// ---------------------------------------------------------------------------

// WriteFunding writes funding rates to one Parquet file per symbol at:
//
//	<DataDir>/<market>/funding/<SYMBOL>.parquet
func (s *ParquetStore) WriteFunding(_ context.Context, market string, rates []domain.FundingRate) error {
	if len(rates) == 0 {
		return nil
	}
	groups := make(map[string][]FundingRecord)
	for _, r := range rates {
		sym := strings.ToUpper(r.Symbol)
		groups[sym] = append(groups[sym], FundingRecord{
			Symbol: sym,
			Time:   r.Time.UnixMilli(),
			Rate:   r.Rate,
		})
	}
	for sym, records := range groups {
		path := s.fundingPath(market, sym)
		existing, _ := readParquetFile[FundingRecord](path)
		if err := writeParquetFile(path, mergeFundingRecords(existing, records)); err != nil {
			return fmt.Errorf("writing funding for %s: %w", sym, err)
		}
	}
	return nil
}

// ReadFunding reads funding rates for symbol within the time range. A
// missing file yields no rates and no error.
func (s *ParquetStore) ReadFunding(_ context.Context, market, symbol string, start, end time.Time) ([]domain.FundingRate, error) {
	path := s.fundingPath(market, symbol)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	records, err := readParquetFile[FundingRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var rates []domain.FundingRate
	for _, r := range records {
		ts := time.UnixMilli(r.Time).UTC()
		if inRange(ts, start, end) {
			rates = append(rates, domain.FundingRate{Symbol: r.Symbol, Time: ts, Rate: r.Rate})
		}
	}
	return rates, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/<timeframe>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(market, timeframe, symbol string, year int) string {
	return filepath.Join(s.DataDir, market, timeframe, strings.ToUpper(symbol), strconv.Itoa(year)+".parquet")
}

// fundingPath returns the filesystem path for a funding Parquet file.
// Layout: <dataDir>/<market>/funding/<SYMBOL>.parquet
func (s *ParquetStore) fundingPath(market, symbol string) string {
	return filepath.Join(s.DataDir, market, "funding", strings.ToUpper(symbol)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// mergeFundingRecords deduplicates funding records by time, preferring new
// records over existing ones.
func mergeFundingRecords(existing, incoming []FundingRecord) []FundingRecord {
	seen := make(map[int64]FundingRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Time] = r
	}
	for _, r := range incoming {
		seen[r.Time] = r
	}

	merged := make([]FundingRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Time < merged[j].Time
	})
	return merged
}
