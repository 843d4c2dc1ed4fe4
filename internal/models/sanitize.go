package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DefaultCurrency is used when the upstream omits or mangles a currency code.
const DefaultCurrency = "USD"

// Required top-level fields of the aggregate response. Absence of any of
// these is a structural contract failure, not something to recover from.
var requiredFields = []string{
	"success",
	"portfolio_data",
	"performance_data",
	"allocation_data",
	"dividend_data",
	"transactions_summary",
	"metadata",
}

// ValidateComplete checks the structural contract of a raw aggregate
// response. It returns the missing field names (empty when the shape is
// acceptable) and an error describing the first hard failure, if any.
// Sanitization must not be attempted on a payload that fails here.
func ValidateComplete(raw map[string]any) ([]string, error) {
	if raw == nil {
		return requiredFields, fmt.Errorf("response is not a JSON object")
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := raw[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return missing, fmt.Errorf("response missing required fields: %v", missing)
	}

	if !coerceBool(raw["success"]) {
		msg := coerceString(raw["error"], "upstream reported failure")
		return nil, fmt.Errorf("upstream success=false: %s", msg)
	}

	pd := asMap(raw["portfolio_data"])
	if pd == nil {
		return nil, fmt.Errorf("portfolio_data is not an object")
	}
	if _, ok := pd["holdings"].([]any); !ok {
		return nil, fmt.Errorf("portfolio_data.holdings is not a list")
	}

	return nil, nil
}

// CompleteFromRaw rebuilds a CompletePortfolioData from a validated raw
// response, field by field. Unknown upstream fields are dropped, missing or
// malformed numerics become 0, missing strings become their defaults, and
// missing lists become empty. The transform is idempotent: feeding a
// sanitized aggregate back through produces an identical result.
func CompleteFromRaw(raw map[string]any) *CompletePortfolioData {
	return &CompletePortfolioData{
		PortfolioData:       portfolioDataFromRaw(asMap(raw["portfolio_data"])),
		PerformanceData:     performanceDataFromRaw(asMap(raw["performance_data"])),
		AllocationData:      allocationDataFromRaw(asMap(raw["allocation_data"])),
		DividendData:        dividendDataFromRaw(asMap(raw["dividend_data"])),
		TransactionsSummary: transactionsSummaryFromRaw(asMap(raw["transactions_summary"])),
		MarketAnalysis:      coerceString(raw["market_analysis"], ""),
		CurrencyConversions: conversionsFromRaw(asMap(raw["currency_conversions"])),
		TopGainers:          moversFromRaw(asList(raw["top_gainers"])),
		TopLosers:           moversFromRaw(asList(raw["top_losers"])),
		Metadata:            metadataFromRaw(asMap(raw["metadata"])),
	}
}

func portfolioDataFromRaw(raw map[string]any) PortfolioData {
	list := asList(raw["holdings"])
	holdings := make([]PortfolioHolding, 0, len(list))
	for _, item := range list {
		h := asMap(item)
		if h == nil {
			continue
		}
		holdings = append(holdings, holdingFromRaw(h))
	}

	count := int(coerceFloat(raw["holdings_count"]))
	if count == 0 {
		count = len(holdings)
	}

	return PortfolioData{
		Holdings:         holdings,
		TotalValue:       coerceFloat(raw["total_value"]),
		TotalCost:        coerceFloat(raw["total_cost"]),
		TotalGainLoss:    coerceFloat(raw["total_gain_loss"]),
		TotalGainLossPct: coerceFloat(raw["total_gain_loss_pct"]),
		HoldingsCount:    count,
	}
}

func holdingFromRaw(raw map[string]any) PortfolioHolding {
	return PortfolioHolding{
		Symbol:            coerceString(raw["symbol"], ""),
		Quantity:          coerceFloat(raw["quantity"]),
		AvgCost:           coerceFloat(raw["avg_cost"]),
		TotalCost:         coerceFloat(raw["total_cost"]),
		CurrentPrice:      coerceFloat(raw["current_price"]),
		CurrentValue:      coerceFloat(raw["current_value"]),
		GainLoss:          coerceFloat(raw["gain_loss"]),
		GainLossPct:       coerceFloat(raw["gain_loss_pct"]),
		AllocationPct:     coerceFloat(raw["allocation_pct"]),
		DividendsReceived: coerceFloat(raw["dividends_received"]),
		PriceDate:         coerceString(raw["price_date"], ""),
		Currency:          coerceString(raw["currency"], DefaultCurrency),
	}
}

func performanceDataFromRaw(raw map[string]any) PerformanceData {
	return PerformanceData{
		TotalReturn:         coerceFloat(raw["total_return"]),
		TotalReturnPct:      coerceFloat(raw["total_return_pct"]),
		AnnualizedReturnPct: coerceFloat(raw["annualized_return_pct"]),
		Volatility:          coerceFloat(raw["volatility"]),
		SharpeRatio:         coerceFloat(raw["sharpe_ratio"]),
		Beta:                coerceFloat(raw["beta"]),
		MaxDrawdownPct:      coerceFloat(raw["max_drawdown_pct"]),
	}
}

func allocationDataFromRaw(raw map[string]any) AllocationData {
	list := asList(raw["allocations"])
	allocations := make([]SymbolAllocation, 0, len(list))
	for _, item := range list {
		a := asMap(item)
		if a == nil {
			continue
		}
		allocations = append(allocations, SymbolAllocation{
			Symbol:    coerceString(a["symbol"], ""),
			Value:     coerceFloat(a["value"]),
			WeightPct: coerceFloat(a["weight_pct"]),
		})
	}

	return AllocationData{
		Allocations:          allocations,
		DiversificationScore: coerceFloat(raw["diversification_score"]),
	}
}

func dividendDataFromRaw(raw map[string]any) DividendData {
	list := asList(raw["recent"])
	recent := make([]DividendRecord, 0, len(list))
	for _, item := range list {
		d := asMap(item)
		if d == nil {
			continue
		}
		recent = append(recent, DividendRecord{
			Symbol:   coerceString(d["symbol"], ""),
			ExDate:   coerceString(d["ex_date"], ""),
			PayDate:  coerceString(d["pay_date"], ""),
			Amount:   coerceFloat(d["amount"]),
			Currency: coerceString(d["currency"], DefaultCurrency),
		})
	}

	return DividendData{
		Recent:        recent,
		TotalReceived: coerceFloat(raw["total_received"]),
		YearToDate:    coerceFloat(raw["year_to_date"]),
	}
}

func transactionsSummaryFromRaw(raw map[string]any) TransactionsSummary {
	return TransactionsSummary{
		TotalCount:          int(coerceFloat(raw["total_count"])),
		BuyCount:            int(coerceFloat(raw["buy_count"])),
		SellCount:           int(coerceFloat(raw["sell_count"])),
		RealizedGains:       coerceFloat(raw["realized_gains"]),
		LastTransactionDate: coerceString(raw["last_transaction_date"], ""),
	}
}

func conversionsFromRaw(raw map[string]any) map[string]float64 {
	conversions := make(map[string]float64, len(raw))
	for pair, rate := range raw {
		conversions[pair] = coerceFloat(rate)
	}
	return conversions
}

func moversFromRaw(list []any) []MoverEntry {
	movers := make([]MoverEntry, 0, len(list))
	for _, item := range list {
		m := asMap(item)
		if m == nil {
			continue
		}
		movers = append(movers, MoverEntry{
			Symbol:       coerceString(m["symbol"], ""),
			CurrentPrice: coerceFloat(m["current_price"]),
			GainLoss:     coerceFloat(m["gain_loss"]),
			GainLossPct:  coerceFloat(m["gain_loss_pct"]),
		})
	}
	return movers
}

func metadataFromRaw(raw map[string]any) SnapshotMetadata {
	return SnapshotMetadata{
		CacheHit:      coerceBool(raw["cache_hit"]),
		GeneratedAt:   coerceString(raw["generated_at"], ""),
		RequestID:     coerceString(raw["request_id"], ""),
		ComputeTimeMS: coerceFloat(raw["compute_time_ms"]),
		Source:        coerceString(raw["source"], ""),
	}
}

// coerceFloat converts an untyped JSON value to a finite float64.
// Numeric strings are parsed; NaN, infinities, nulls, and anything
// unparseable become 0.
func coerceFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// coerceString converts an untyped JSON value to a string, falling back to
// def for missing or non-string values.
func coerceString(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// coerceBool converts an untyped JSON value to a bool. Only a JSON true
// (or the string "true") counts.
func coerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}
