// Package views projects narrow read models out of the cached aggregate.
//
// Every projection is a pure function over whatever the cache manager
// currently holds: no network access, no state, and deterministic zero
// values when no aggregate exists, so consumers never null-check nested
// paths. Sanitization already happened at fetch time; these only reshape.
package views

import "github.com/porticolabs/portico/internal/models"

// SummaryView is the dashboard KPI strip: totals plus counts.
type SummaryView struct {
	TotalValue       float64 `json:"total_value"`
	TotalCost        float64 `json:"total_cost"`
	TotalGainLoss    float64 `json:"total_gain_loss"`
	TotalGainLossPct float64 `json:"total_gain_loss_pct"`
	HoldingsCount    int     `json:"holdings_count"`
	GeneratedAt      string  `json:"generated_at"`
}

// Summary projects the portfolio totals.
func Summary(d *models.CompletePortfolioData) SummaryView {
	if d == nil {
		return SummaryView{}
	}
	return SummaryView{
		TotalValue:       d.PortfolioData.TotalValue,
		TotalCost:        d.PortfolioData.TotalCost,
		TotalGainLoss:    d.PortfolioData.TotalGainLoss,
		TotalGainLossPct: d.PortfolioData.TotalGainLossPct,
		HoldingsCount:    d.PortfolioData.HoldingsCount,
		GeneratedAt:      d.Metadata.GeneratedAt,
	}
}

// HoldingsView lists the positions in the current snapshot.
type HoldingsView struct {
	Holdings []models.PortfolioHolding `json:"holdings"`
	Count    int                       `json:"count"`
}

// Holdings projects the position list.
func Holdings(d *models.CompletePortfolioData) HoldingsView {
	if d == nil {
		return HoldingsView{Holdings: []models.PortfolioHolding{}}
	}
	holdings := d.PortfolioData.Holdings
	if holdings == nil {
		holdings = []models.PortfolioHolding{}
	}
	return HoldingsView{Holdings: holdings, Count: len(holdings)}
}

// AllocationView carries per-symbol weights and the diversification score.
type AllocationView struct {
	Allocations          []models.SymbolAllocation `json:"allocations"`
	DiversificationScore float64                   `json:"diversification_score"`
}

// Allocation projects the allocation breakdown.
func Allocation(d *models.CompletePortfolioData) AllocationView {
	if d == nil {
		return AllocationView{Allocations: []models.SymbolAllocation{}}
	}
	allocations := d.AllocationData.Allocations
	if allocations == nil {
		allocations = []models.SymbolAllocation{}
	}
	return AllocationView{
		Allocations:          allocations,
		DiversificationScore: d.AllocationData.DiversificationScore,
	}
}

// Performance projects the upstream-computed return and risk metrics.
func Performance(d *models.CompletePortfolioData) models.PerformanceData {
	if d == nil {
		return models.PerformanceData{}
	}
	return d.PerformanceData
}

// DividendsView carries recent dividend records and totals.
type DividendsView struct {
	Recent        []models.DividendRecord `json:"recent"`
	TotalReceived float64                 `json:"total_received"`
	YearToDate    float64                 `json:"year_to_date"`
}

// Dividends projects the dividend history slice.
func Dividends(d *models.CompletePortfolioData) DividendsView {
	if d == nil {
		return DividendsView{Recent: []models.DividendRecord{}}
	}
	recent := d.DividendData.Recent
	if recent == nil {
		recent = []models.DividendRecord{}
	}
	return DividendsView{
		Recent:        recent,
		TotalReceived: d.DividendData.TotalReceived,
		YearToDate:    d.DividendData.YearToDate,
	}
}

// Transactions projects the transaction counts and realized gains.
func Transactions(d *models.CompletePortfolioData) models.TransactionsSummary {
	if d == nil {
		return models.TransactionsSummary{}
	}
	return d.TransactionsSummary
}

// MoversView carries the ranked gainers and losers.
type MoversView struct {
	Gainers []models.MoverEntry `json:"gainers"`
	Losers  []models.MoverEntry `json:"losers"`
}

// Movers projects the top gainers and losers.
func Movers(d *models.CompletePortfolioData) MoversView {
	if d == nil {
		return MoversView{Gainers: []models.MoverEntry{}, Losers: []models.MoverEntry{}}
	}
	gainers := d.TopGainers
	if gainers == nil {
		gainers = []models.MoverEntry{}
	}
	losers := d.TopLosers
	if losers == nil {
		losers = []models.MoverEntry{}
	}
	return MoversView{Gainers: gainers, Losers: losers}
}
