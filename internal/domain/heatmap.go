package domain

// HeatmapGrid is the time x price-bucket aggregation of a snapshot window.
// Rows of BidVolumes/AskVolumes are indexed by time, columns by bucket.
type HeatmapGrid struct {
	Symbol     string      `json:"symbol"`
	Times      []string    `json:"times"`
	Prices     []float64   `json:"prices"`
	BidVolumes [][]float64 `json:"bidVolumes"`
	AskVolumes [][]float64 `json:"askVolumes"`
	CVD        []float64   `json:"cvd"`
	MinPrice   float64     `json:"minPrice"`
	MaxPrice   float64     `json:"maxPrice"`
	BucketSize float64     `json:"bucketSize"`
}

// Empty reports whether the grid carries no rows.
func (g HeatmapGrid) Empty() bool { return len(g.Times) == 0 }

// LiquidityBand sums resting volume near the mid price.
type LiquidityBand struct {
	Symbol         string  `json:"symbol"`
	CurrentPrice   float64 `json:"currentPrice"`
	Depth          float64 `json:"depth"`
	LowerBound     float64 `json:"lowerBound"`
	UpperBound     float64 `json:"upperBound"`
	BidLiquidity   float64 `json:"bidLiquidity"`
	AskLiquidity   float64 `json:"askLiquidity"`
	LiquidityRatio float64 `json:"liquidityRatio"`
	Imbalance      float64 `json:"imbalance"`
}

// PruneResult counts the rows removed by one retention run.
type PruneResult struct {
	Changes   int64 `json:"changes"`
	Snapshots int64 `json:"snapshots"`
}
