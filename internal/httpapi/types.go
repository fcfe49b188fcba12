package httpapi

import (
	"time"

	"barrun/internal/domain"
)

// StrategyInfo describes a registered strategy and its default parameters.
type StrategyInfo struct {
	Name   string         `json:"name"`
	Params []domain.Param `json:"params"`
}

// RunInfo is one saved run without its trades and events.
type RunInfo struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Summary   domain.Summary `json:"summary"`
}

// TradesResponse is the JSON body of GET /api/runs/{id}/trades.
type TradesResponse struct {
	RunID  string         `json:"run_id"`
	Trades []domain.Trade `json:"trades"`
}

// EventsResponse is the JSON body of GET /api/runs/{id}/events.
type EventsResponse struct {
	RunID  string         `json:"run_id"`
	Events []domain.Event `json:"events"`
}
