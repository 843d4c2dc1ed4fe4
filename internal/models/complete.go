// Package models defines data structures for Portico
package models

// CompletePortfolioData is the canonical normalized portfolio aggregate.
// It is rebuilt wholesale from every successful upstream fetch; after
// sanitization every numeric field is a finite number and every list and
// map is non-nil.
type CompletePortfolioData struct {
	PortfolioData       PortfolioData       `json:"portfolio_data"`
	PerformanceData     PerformanceData     `json:"performance_data"`
	AllocationData      AllocationData      `json:"allocation_data"`
	DividendData        DividendData        `json:"dividend_data"`
	TransactionsSummary TransactionsSummary `json:"transactions_summary"`
	MarketAnalysis      string              `json:"market_analysis"`
	CurrencyConversions map[string]float64  `json:"currency_conversions"`
	TopGainers          []MoverEntry        `json:"top_gainers"`
	TopLosers           []MoverEntry        `json:"top_losers"`
	Metadata            SnapshotMetadata    `json:"metadata"`
}

// PortfolioData holds the holdings list and portfolio totals.
type PortfolioData struct {
	Holdings         []PortfolioHolding `json:"holdings"`
	TotalValue       float64            `json:"total_value"`
	TotalCost        float64            `json:"total_cost"`
	TotalGainLoss    float64            `json:"total_gain_loss"`
	TotalGainLossPct float64            `json:"total_gain_loss_pct"`
	HoldingsCount    int                `json:"holdings_count"`
}

// PortfolioHolding represents one position. Holdings are unique by symbol
// within one snapshot (upstream contract) and never mutated in place.
type PortfolioHolding struct {
	Symbol            string  `json:"symbol"`
	Quantity          float64 `json:"quantity"`
	AvgCost           float64 `json:"avg_cost"`
	TotalCost         float64 `json:"total_cost"`
	CurrentPrice      float64 `json:"current_price"`
	CurrentValue      float64 `json:"current_value"`
	GainLoss          float64 `json:"gain_loss"`
	GainLossPct       float64 `json:"gain_loss_pct"`
	AllocationPct     float64 `json:"allocation_pct"`
	DividendsReceived float64 `json:"dividends_received"`
	PriceDate         string  `json:"price_date"`
	Currency          string  `json:"currency"`
}

// PerformanceData holds return and risk metrics computed by the upstream
// backend. Portico never computes these locally.
type PerformanceData struct {
	TotalReturn         float64 `json:"total_return"`
	TotalReturnPct      float64 `json:"total_return_pct"`
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`
	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	Beta                float64 `json:"beta"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
}

// AllocationData holds per-symbol weights and a diversification score.
type AllocationData struct {
	Allocations          []SymbolAllocation `json:"allocations"`
	DiversificationScore float64            `json:"diversification_score"`
}

// SymbolAllocation is one symbol's share of the portfolio.
type SymbolAllocation struct {
	Symbol    string  `json:"symbol"`
	Value     float64 `json:"value"`
	WeightPct float64 `json:"weight_pct"`
}

// DividendData holds recent dividend records and totals.
type DividendData struct {
	Recent        []DividendRecord `json:"recent"`
	TotalReceived float64          `json:"total_received"`
	YearToDate    float64          `json:"year_to_date"`
}

// DividendRecord is one dividend payment.
type DividendRecord struct {
	Symbol   string  `json:"symbol"`
	ExDate   string  `json:"ex_date"`
	PayDate  string  `json:"pay_date"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// TransactionsSummary holds transaction counts and realized gains.
type TransactionsSummary struct {
	TotalCount          int     `json:"total_count"`
	BuyCount            int     `json:"buy_count"`
	SellCount           int     `json:"sell_count"`
	RealizedGains       float64 `json:"realized_gains"`
	LastTransactionDate string  `json:"last_transaction_date"`
}

// MoverEntry is one ranked gainer or loser.
type MoverEntry struct {
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"current_price"`
	GainLoss     float64 `json:"gain_loss"`
	GainLossPct  float64 `json:"gain_loss_pct"`
}

// SnapshotMetadata carries upstream provenance for one aggregate snapshot.
type SnapshotMetadata struct {
	CacheHit      bool    `json:"cache_hit"`
	GeneratedAt   string  `json:"generated_at"`
	RequestID     string  `json:"request_id"`
	ComputeTimeMS float64 `json:"compute_time_ms"`
	Source        string  `json:"source"`
}
