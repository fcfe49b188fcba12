// Package feed reads OHLCV bar feeds from CSV and reshapes them.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"barrun/internal/domain"
)

var timeColumns = []string{"datetime", "timestamp", "date", "time"}

var fundingColumns = []string{"fundingrate", "funding_rate"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ReadCSVFile reads a bar feed from path. See ReadCSV.
func ReadCSVFile(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := ReadCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ReadCSV parses a bar feed. Header names are trimmed and lower-cased and
// "unnamed" index columns are ignored. A time column (datetime, timestamp,
// date or time) and open, high, low, close and volume are required; a
// fundingrate or funding_rate column is optional. Rows are returned in file
// order; ordering is checked by domain.ValidateBars.
func ReadCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", domain.ErrMalformedFeed)
		}
		return nil, err
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		b, err := parseRow(rec, cols, symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrMalformedFeed, line, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

type columns struct {
	time, open, high, low, close, volume int
	funding                              int
}

func mapColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if name == "" || strings.Contains(name, "unnamed") {
			continue
		}
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}

	c := columns{time: -1, funding: -1}
	for _, name := range timeColumns {
		if i, ok := idx[name]; ok {
			c.time = i
			break
		}
	}
	if c.time < 0 {
		return c, fmt.Errorf("%w: no time column in %v", domain.ErrMalformedFeed, header)
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"open", &c.open}, {"high", &c.high}, {"low", &c.low}, {"close", &c.close}, {"volume", &c.volume},
	} {
		i, ok := idx[f.name]
		if !ok {
			return c, fmt.Errorf("%w: missing %s column", domain.ErrMalformedFeed, f.name)
		}
		*f.dst = i
	}
	for _, name := range fundingColumns {
		if i, ok := idx[name]; ok {
			c.funding = i
			break
		}
	}
	return c, nil
}

func parseRow(rec []string, c columns, symbol string) (domain.Bar, error) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(name string, i int) (float64, error) {
		v, err := strconv.ParseFloat(field(i), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}

	ts, err := ParseTime(field(c.time))
	if err != nil {
		return domain.Bar{}, err
	}
	b := domain.Bar{Symbol: symbol, Timestamp: ts}
	if b.Open, err = num("open", c.open); err != nil {
		return b, err
	}
	if b.High, err = num("high", c.high); err != nil {
		return b, err
	}
	if b.Low, err = num("low", c.low); err != nil {
		return b, err
	}
	if b.Close, err = num("close", c.close); err != nil {
		return b, err
	}
	if b.Volume, err = num("volume", c.volume); err != nil {
		return b, err
	}
	if c.funding >= 0 && field(c.funding) != "" {
		if b.FundingRate, err = num("funding", c.funding); err != nil {
			return b, err
		}
		b.HasFunding = true
	}
	return b, nil
}

// ParseTime accepts RFC 3339, common date-time layouts and Unix epochs in
// seconds or milliseconds. Times without a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
