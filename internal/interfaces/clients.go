// Package interfaces defines service contracts for Portico
package interfaces

import (
	"context"

	"github.com/porticolabs/portico/internal/models"
)

// FetchOptions holds the per-request flags forwarded to the aggregate
// endpoint. ForceRefresh asks the upstream to bypass its own cache;
// IncludeHistorical asks for historical series alongside current values.
type FetchOptions struct {
	ForceRefresh      bool
	IncludeHistorical bool
}

// AggregateClient fetches the complete portfolio aggregate from the
// upstream backend on behalf of an authenticated user. Implementations
// perform exactly one network call per invocation and return either a
// fully sanitized aggregate or a classified error from the aggregate
// package (transport, validation, or authentication).
type AggregateClient interface {
	FetchComplete(ctx context.Context, token string, opts FetchOptions) (*models.CompletePortfolioData, error)
}
