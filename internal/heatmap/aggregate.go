// Package heatmap re-aggregates stored snapshots into time x price grids.
package heatmap

import (
	"math"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

const (
	DefaultBucketSize = 0.001
	DefaultMaxBuckets = 200

	// paddingFraction widens the observed price range on both ends.
	paddingFraction = 0.1
)

// GroupLast keeps the last snapshot observed in every interval-aligned
// window. Input must be ordered by time; the result keeps that order. A
// non-positive interval returns snaps unchanged.
func GroupLast(snaps []domain.Snapshot, interval time.Duration) []domain.Snapshot {
	if interval <= 0 || len(snaps) == 0 {
		return snaps
	}

	out := make([]domain.Snapshot, 0, len(snaps))
	var current int64
	for i, s := range snaps {
		key := s.Timestamp.UnixNano() / int64(interval)
		if i > 0 && key == current {
			out[len(out)-1] = s
			continue
		}
		current = key
		out = append(out, s)
	}
	return out
}

// PriceAxis describes the bucketed price range of a grid.
type PriceAxis struct {
	Min        float64
	Max        float64
	BucketSize float64
	Buckets    int
}

// Index returns the bucket holding price and whether it lies on the axis.
func (a PriceAxis) Index(price float64) (int, bool) {
	pos := math.Floor((price - a.Min) / a.BucketSize)
	if math.IsNaN(pos) || pos < 0 || pos >= float64(a.Buckets) {
		return 0, false
	}
	return int(pos), true
}

// Axis derives the padded price axis from the deepest bid and ask of every
// snapshot. ok is false when the range is degenerate.
func Axis(snaps []domain.Snapshot, bucketSize float64, maxBuckets int) (PriceAxis, bool) {
	if len(snaps) == 0 || bucketSize <= 0 || maxBuckets <= 0 {
		return PriceAxis{}, false
	}

	minPrice, maxPrice := math.Inf(1), math.Inf(-1)
	for _, s := range snaps {
		if n := len(s.Bids); n > 0 {
			minPrice = math.Min(minPrice, s.Bids[n-1].Price)
		}
		if n := len(s.Asks); n > 0 {
			maxPrice = math.Max(maxPrice, s.Asks[n-1].Price)
		}
	}
	if math.IsInf(minPrice, 0) || math.IsInf(maxPrice, 0) || math.IsNaN(minPrice) || math.IsNaN(maxPrice) {
		return PriceAxis{}, false
	}

	pad := (maxPrice - minPrice) * paddingFraction
	minPrice = math.Max(0, minPrice-pad)
	maxPrice += pad

	// Clamp before converting: a tiny bucket size overflows int.
	n := math.Ceil((maxPrice - minPrice) / bucketSize)
	if n > float64(maxBuckets) {
		n = float64(maxBuckets)
	}
	if math.IsNaN(n) || n <= 0 {
		return PriceAxis{}, false
	}
	return PriceAxis{Min: minPrice, Max: maxPrice, BucketSize: bucketSize, Buckets: int(n)}, true
}

// Aggregate buckets every level of snaps into bid and ask volume grids and
// computes the cumulative volume delta. Levels outside the axis are
// dropped. A degenerate window yields a grid with empty arrays.
func Aggregate(symbol string, snaps []domain.Snapshot, bucketSize float64, maxBuckets int) domain.HeatmapGrid {
	grid := emptyGrid(symbol, bucketSize)

	axis, ok := Axis(snaps, bucketSize, maxBuckets)
	if !ok {
		return grid
	}
	grid.MinPrice = axis.Min
	grid.MaxPrice = axis.Max

	grid.Prices = make([]float64, axis.Buckets)
	for i := range grid.Prices {
		grid.Prices[i] = axis.Min + float64(i)*bucketSize
	}

	var cvd float64
	for _, s := range snaps {
		bids := make([]float64, axis.Buckets)
		asks := make([]float64, axis.Buckets)
		for _, l := range s.Bids {
			if idx, in := axis.Index(l.Price); in {
				bids[idx] += l.Volume
			}
		}
		for _, l := range s.Asks {
			if idx, in := axis.Index(l.Price); in {
				asks[idx] += l.Volume
			}
		}
		cvd += s.BidVolume - s.AskVolume

		grid.Times = append(grid.Times, domain.FormatTimestamp(s.Timestamp))
		grid.BidVolumes = append(grid.BidVolumes, bids)
		grid.AskVolumes = append(grid.AskVolumes, asks)
		grid.CVD = append(grid.CVD, cvd)
	}
	return grid
}

func emptyGrid(symbol string, bucketSize float64) domain.HeatmapGrid {
	return domain.HeatmapGrid{
		Symbol:     symbol,
		Times:      []string{},
		Prices:     []float64{},
		BidVolumes: [][]float64{},
		AskVolumes: [][]float64{},
		CVD:        []float64{},
		BucketSize: bucketSize,
	}
}
