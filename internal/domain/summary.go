package domain

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Param is one entry of a policy's parameter echo. Order is significant.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Summary is the fixed-shape result of a run. Field order is part of the
// output contract for both the text and JSON renderings.
type Summary struct {
	Strategy      string    `json:"strategy"`
	Symbol        string    `json:"symbol"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Bars          int       `json:"bars"`
	InitialEquity float64   `json:"initial_equity"`
	FinalEquity   float64   `json:"final_equity"`
	TotalReturn   float64   `json:"total_return_pct"`
	MaxDrawdown   float64   `json:"max_drawdown_pct"`
	TotalTrades   int       `json:"total_trades"`
	WinRate       float64   `json:"win_rate_pct"`
	ProfitFactor  float64   `json:"profit_factor"`
	SharpeRatio   float64   `json:"sharpe_ratio"`
	Params        []Param   `json:"params"`
}

// WriteText renders the summary as an aligned key/value block.
func (s Summary) WriteText(w io.Writer) error {
	var b strings.Builder
	row := func(k string, v any) {
		fmt.Fprintf(&b, "%-18s %v\n", k, v)
	}
	row("Strategy", s.Strategy)
	row("Symbol", s.Symbol)
	row("Start", s.Start.Format(time.RFC3339))
	row("End", s.End.Format(time.RFC3339))
	row("Bars", s.Bars)
	row("Initial Equity", fmt.Sprintf("%.2f", s.InitialEquity))
	row("Final Equity", fmt.Sprintf("%.2f", s.FinalEquity))
	row("Return [%]", fmt.Sprintf("%.4f", s.TotalReturn))
	row("Max Drawdown [%]", fmt.Sprintf("%.4f", s.MaxDrawdown))
	row("# Trades", s.TotalTrades)
	row("Win Rate [%]", fmt.Sprintf("%.2f", s.WinRate))
	row("Profit Factor", fmt.Sprintf("%.4f", s.ProfitFactor))
	row("Sharpe Ratio", fmt.Sprintf("%.4f", s.SharpeRatio))
	for _, p := range s.Params {
		row("  "+p.Name, p.Value)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
