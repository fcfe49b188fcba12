package funding

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"barrun/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExchange serves rows from history honouring startTime, endTime and
// limit, and counts requests.
func fakeExchange(t *testing.T, history []fundingRow, requests *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*requests++
		if r.URL.Path != historyPath {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" {
			t.Errorf("symbol = %q, want BTCUSDT", q.Get("symbol"))
		}
		from, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		to, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		var page []fundingRow
		for _, row := range history {
			if row.FundingTime >= from && row.FundingTime <= to && len(page) < limit {
				page = append(page, row)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
}

func TestNormalizeSymbol(t *testing.T) {
	tests := map[string]string{
		"BTCUSDT":       "BTCUSDT",
		"btc/usdt":      "BTCUSDT",
		"BTC-USDT":      "BTCUSDT",
		"BTC/USDT:USDT": "BTCUSDT",
		"eth_usdt":      "ETHUSDT",
	}
	for in, want := range tests {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchHistoryPaginates(t *testing.T) {
	history := []fundingRow{
		{Symbol: "BTCUSDT", FundingTime: t0.UnixMilli(), FundingRate: "0.00010000"},
		{Symbol: "BTCUSDT", FundingTime: t0.Add(8 * time.Hour).UnixMilli(), FundingRate: "-0.00005000"},
		{Symbol: "BTCUSDT", FundingTime: t0.Add(16 * time.Hour).UnixMilli(), FundingRate: "0.00002000"},
	}
	requests := 0
	srv := fakeExchange(t, history, &requests)
	defer srv.Close()

	c := NewClient(srv.URL, discardLogger(), WithPageLimit(2), WithRateLimit(0, 0))
	got, err := c.FetchHistory(context.Background(), "BTC/USDT", t0, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("FetchHistory returned %d rates, want 3", len(got))
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	if got[1].Rate != -0.00005 {
		t.Errorf("second rate = %v, want -0.00005", got[1].Rate)
	}
	if !got[2].Time.Equal(t0.Add(16 * time.Hour)) {
		t.Errorf("third time = %v, want %v", got[2].Time, t0.Add(16*time.Hour))
	}
}

func TestFetchFailsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, discardLogger())
	if _, err := c.FetchHistory(context.Background(), "BTCUSDT", t0, t0.Add(time.Hour)); err == nil {
		t.Fatal("FetchHistory succeeded on 400, want error")
	}
	if got := c.Fetch(context.Background(), "BTCUSDT", t0, t0.Add(time.Hour)); got != nil {
		t.Errorf("Fetch on 400 = %v, want nil", got)
	}
}

func TestFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"symbol":"BTCUSDT","fundingTime":1,"fundingRate":"abc"}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, discardLogger())
	if got := c.Fetch(context.Background(), "BTCUSDT", t0, t0.Add(time.Hour)); len(got) != 0 {
		t.Errorf("Fetch with unparsable rate = %v, want empty", got)
	}
}

func TestFetchInvalidWindow(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", discardLogger())
	if _, err := c.FetchHistory(context.Background(), "BTCUSDT", time.Time{}, t0); err == nil {
		t.Fatal("FetchHistory with zero start succeeded, want error")
	}
}

func hourlyBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{Symbol: "BTCUSDT", Timestamp: t0.Add(time.Duration(i) * time.Hour), Open: 1, High: 1, Low: 1, Close: 1}
	}
	return bars
}

func TestMergeForwardFills(t *testing.T) {
	bars := hourlyBars(12)
	rates := []domain.FundingRate{
		{Time: t0.Add(8 * time.Hour), Rate: -0.0002},
		{Time: t0.Add(2 * time.Hour), Rate: 0.0001},
	}
	got := Merge(bars, rates)

	for i, b := range got {
		want := 0.0
		switch {
		case i >= 8:
			want = -0.0002
		case i >= 2:
			want = 0.0001
		}
		if b.FundingRate != want {
			t.Errorf("bar %d FundingRate = %v, want %v", i, b.FundingRate, want)
		}
		if !b.HasFunding {
			t.Errorf("bar %d HasFunding = false, want true", i)
		}
	}
	if bars[5].HasFunding {
		t.Error("Merge modified its input")
	}
}

func TestMergeEmptyRates(t *testing.T) {
	bars := hourlyBars(3)
	got := Merge(bars, nil)
	for i, b := range got {
		if b.HasFunding {
			t.Errorf("bar %d HasFunding = true with no rates", i)
		}
	}
}
