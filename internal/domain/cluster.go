package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// ClusterSide says which side of the reference price a cluster sits on.
type ClusterSide string

const (
	ClusterAbove ClusterSide = "above"
	ClusterBelow ClusterSide = "below"
)

// LiquidationCluster is a price level with an above-average concentration of
// opposing leveraged positions, supplied by an external discovery service.
type LiquidationCluster struct {
	Price    decimal.Decimal
	Side     ClusterSide
	Strength decimal.Decimal
	Volume   decimal.Decimal

	// Distance is |price - reference| / reference at fetch time.
	Distance decimal.Decimal
}

// ClusterSet holds the clusters nearest to a reference price, up to two per
// side, sorted nearest first. Either side may hold fewer than two entries;
// the engine then disables the cluster-doubling trigger for that side.
type ClusterSet struct {
	Symbol string
	Above  []LiquidationCluster
	Below  []LiquidationCluster
}

// ClusterProvider supplies liquidation clusters around a reference price.
// Implementations must be safe for concurrent use.
type ClusterProvider interface {
	GetLiquidationClusters(ctx context.Context, symbol string, referencePrice decimal.Decimal) (ClusterSet, error)
}

// ClusterCache stores the last successfully fetched cluster set per symbol,
// used as the stale-data fallback when the provider is unavailable.
type ClusterCache interface {
	Set(ctx context.Context, set ClusterSet) error
	Get(ctx context.Context, symbol string) (ClusterSet, error)
}
