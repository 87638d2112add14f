// Package cluster talks to the external liquidation-cluster discovery
// service and decorates it with a cache-backed stale-data fallback.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

// Client queries the liquidation-cluster discovery service over HTTP.
//
// The service exposes GET {base}/clusters?symbol=BTCUSDT&price=50000 and
// responds with up to two levels per side:
//
//	{"above":[{"price":"50400","strength":0.8,"volume":"1250000"}, ...],
//	 "below":[{"price":"49100","strength":0.6,"volume":"900000"}, ...]}
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a cluster service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type clusterLevel struct {
	Price    decimal.Decimal `json:"price"`
	Strength decimal.Decimal `json:"strength"`
	Volume   decimal.Decimal `json:"volume"`
}

type clustersResponse struct {
	Above []clusterLevel `json:"above"`
	Below []clusterLevel `json:"below"`
}

// GetLiquidationClusters fetches the cluster levels around referencePrice.
// Results are sorted nearest-first per side with distances computed against
// the reference price.
func (c *Client) GetLiquidationClusters(ctx context.Context, symbol string, referencePrice decimal.Decimal) (domain.ClusterSet, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("price", referencePrice.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/clusters?"+q.Encode(), nil)
	if err != nil {
		return domain.ClusterSet{}, fmt.Errorf("cluster: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ClusterSet{}, fmt.Errorf("cluster: fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.ClusterSet{}, fmt.Errorf("cluster: fetch %s: unexpected status %d: %s", symbol, resp.StatusCode, string(body))
	}

	var payload clustersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.ClusterSet{}, fmt.Errorf("cluster: decode %s: %w", symbol, err)
	}

	set := domain.ClusterSet{
		Symbol: symbol,
		Above:  toClusters(payload.Above, domain.ClusterAbove, referencePrice),
		Below:  toClusters(payload.Below, domain.ClusterBelow, referencePrice),
	}
	return set, nil
}

func toClusters(levels []clusterLevel, side domain.ClusterSide, ref decimal.Decimal) []domain.LiquidationCluster {
	out := make([]domain.LiquidationCluster, 0, len(levels))
	for _, l := range levels {
		dist := decimal.Zero
		if !ref.IsZero() {
			dist = l.Price.Sub(ref).Abs().Div(ref)
		}
		out = append(out, domain.LiquidationCluster{
			Price:    l.Price,
			Side:     side,
			Strength: l.Strength,
			Volume:   l.Volume,
			Distance: dist,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance.LessThan(out[j].Distance)
	})
	if len(out) > 2 {
		out = out[:2]
	}
	return out
}

// Compile-time interface check.
var _ domain.ClusterProvider = (*Client)(nil)
