package feed

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"barrun/internal/domain"
)

func TestReadCSVNormalizesColumns(t *testing.T) {
	in := `Unnamed: 0, Datetime ,Open,High,Low,Close,Volume,FundingRate
0,2024-01-01 00:00:00,99,100,98,99.5,12,
1,2024-01-01 00:15:00,100,101,99,100.5,10,0.0001
`
	bars, err := ReadCSV(strings.NewReader(in), "BTC-USD")
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("ReadCSV returned %d bars, want 2", len(bars))
	}
	if bars[0].Close != 99.5 || bars[1].Close != 100.5 {
		t.Errorf("closes = %v, %v, want 99.5, 100.5", bars[0].Close, bars[1].Close)
	}
	if bars[0].Symbol != "BTC-USD" {
		t.Errorf("Symbol = %q, want BTC-USD", bars[0].Symbol)
	}
	if bars[0].HasFunding {
		t.Error("bar with empty funding cell has HasFunding = true")
	}
	if !bars[1].HasFunding || bars[1].FundingRate != 0.0001 {
		t.Errorf("funding = (%v, %v), want (0.0001, true)", bars[1].FundingRate, bars[1].HasFunding)
	}
	want := time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC)
	if !bars[1].Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", bars[1].Timestamp, want)
	}
}

func TestReadCSVKeepsFileOrder(t *testing.T) {
	in := `datetime,open,high,low,close,volume
2024-01-01 02:00:00,1,2,0.5,1.5,3
2024-01-01 00:00:00,1,2,0.5,1.6,3
2024-01-01 01:00:00,1,2,0.5,1.7,3
`
	bars, err := ReadCSV(strings.NewReader(in), "X")
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if bars[0].Timestamp.Hour() != 2 || bars[1].Timestamp.Hour() != 0 || bars[2].Timestamp.Hour() != 1 {
		t.Errorf("hours = %d, %d, %d, want 2, 0, 1",
			bars[0].Timestamp.Hour(), bars[1].Timestamp.Hour(), bars[2].Timestamp.Hour())
	}
	if err := domain.ValidateBars(bars); !errors.Is(err, domain.ErrMalformedFeed) {
		t.Errorf("ValidateBars error = %v, want ErrMalformedFeed", err)
	}
}

func TestReadCSVTimeAliases(t *testing.T) {
	for _, col := range []string{"timestamp", "date", "time"} {
		in := col + ",open,high,low,close,volume\n1704067200,1,2,0.5,1.5,3\n"
		bars, err := ReadCSV(strings.NewReader(in), "X")
		if err != nil {
			t.Fatalf("ReadCSV with %s column: %v", col, err)
		}
		if !bars[0].Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("%s column: Timestamp = %v", col, bars[0].Timestamp)
		}
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"no time column", "open,high,low,close,volume\n1,1,1,1,1\n"},
		{"missing volume", "datetime,open,high,low,close\n2024-01-01,1,1,1,1\n"},
		{"bad number", "datetime,open,high,low,close,volume\n2024-01-01,x,1,1,1,1\n"},
		{"bad time", "datetime,open,high,low,close,volume\nyesterday,1,1,1,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in), "X")
			if !errors.Is(err, domain.ErrMalformedFeed) {
				t.Errorf("ReadCSV error = %v, want ErrMalformedFeed", err)
			}
		})
	}
}

func TestReadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.csv")
	content := "datetime,open,high,low,close,volume\n2024-01-01T00:00:00Z,1,2,0.5,1.5,3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	bars, err := ReadCSVFile(path, "ETH-USD")
	if err != nil {
		t.Fatalf("ReadCSVFile: %v", err)
	}
	if len(bars) != 1 || bars[0].High != 2 {
		t.Errorf("ReadCSVFile = %+v", bars)
	}
	if _, err := ReadCSVFile(filepath.Join(t.TempDir(), "missing.csv"), "X"); err == nil {
		t.Error("ReadCSVFile of missing file succeeded, want error")
	}
}

func TestResample(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bar := func(min int, o, h, l, c, v float64) domain.Bar {
		return domain.Bar{Timestamp: t0.Add(time.Duration(min) * time.Minute), Open: o, High: h, Low: l, Close: c, Volume: v}
	}
	in := []domain.Bar{
		bar(0, 100, 102, 99, 101, 1),
		bar(15, 101, 105, 100, 104, 2),
		bar(30, 104, 104, 97, 98, 3),
		bar(45, 98, 99, 96, 97, 4),
		// 01:00 bucket is empty.
		bar(120, 97, 98, 95, 96, 5),
	}
	got := Resample(in, time.Hour)
	if len(got) != 2 {
		t.Fatalf("Resample returned %d bars, want 2", len(got))
	}
	h := got[0]
	if h.Open != 100 || h.High != 105 || h.Low != 96 || h.Close != 97 || h.Volume != 10 {
		t.Errorf("first hour = %+v, want O100 H105 L96 C97 V10", h)
	}
	if !got[1].Timestamp.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("second bucket = %v, want 02:00", got[1].Timestamp)
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for in, want := range tests {
		got, err := ParseTimeframe(in)
		if err != nil {
			t.Fatalf("ParseTimeframe(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseTimeframe(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseTimeframe("soon"); err == nil {
		t.Error("ParseTimeframe(soon) succeeded, want error")
	}
}
