package book

import (
	"math"

	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/shopspring/decimal"
)

// LiquidityRatioSentinel is reported as the bid/ask liquidity ratio when
// there is no ask liquidity inside the band.
const LiquidityRatioSentinel = 999

// Calculate derives the book metrics. The second result is false while
// either side is empty; the returned Metrics is then meaningless.
func Calculate(s *State) (domain.Metrics, bool) {
	if !s.Ready() {
		return domain.Metrics{}, false
	}

	var bestBid, bestAsk decimal.Decimal
	first := true
	for _, l := range s.bids {
		if first || l.price.GreaterThan(bestBid) {
			bestBid = l.price
			first = false
		}
	}
	first = true
	for _, l := range s.asks {
		if first || l.price.LessThan(bestAsk) {
			bestAsk = l.price
			first = false
		}
	}

	bidVol := s.volume(domain.SideBid).InexactFloat64()
	askVol := s.volume(domain.SideAsk).InexactFloat64()

	bb := bestBid.InexactFloat64()
	ba := bestAsk.InexactFloat64()
	return domain.Metrics{
		BestBid:   bb,
		BestAsk:   ba,
		MidPrice:  (bb + ba) / 2,
		Spread:    bestAsk.Sub(bestBid).InexactFloat64(),
		BidVolume: bidVol,
		AskVolume: askVol,
		Imbalance: Imbalance(bidVol, askVol),
	}, true
}

// Imbalance returns (bid-ask)/(bid+ask) clamped to [-1, 1], or 0 when both
// volumes are zero.
func Imbalance(bidVolume, askVolume float64) float64 {
	total := bidVolume + askVolume
	if total == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, (bidVolume-askVolume)/total))
}

// Liquidity sums bid volume priced at or above mid*(1-depth) and ask volume
// priced at or below mid*(1+depth). The second result is false when the book
// is not ready.
func Liquidity(s *State, depth float64) (domain.LiquidityBand, bool) {
	m, ok := Calculate(s)
	if !ok {
		return domain.LiquidityBand{}, false
	}

	band := domain.LiquidityBand{
		Symbol:       s.Symbol,
		CurrentPrice: m.MidPrice,
		Depth:        depth,
		LowerBound:   m.MidPrice * (1 - depth),
		UpperBound:   m.MidPrice * (1 + depth),
		Imbalance:    m.Imbalance,
	}

	bidSum, askSum := decimal.Zero, decimal.Zero
	for _, l := range s.bids {
		if l.price.InexactFloat64() >= band.LowerBound {
			bidSum = bidSum.Add(l.qty)
		}
	}
	for _, l := range s.asks {
		if l.price.InexactFloat64() <= band.UpperBound {
			askSum = askSum.Add(l.qty)
		}
	}
	band.BidLiquidity = bidSum.InexactFloat64()
	band.AskLiquidity = askSum.InexactFloat64()

	if band.AskLiquidity > 0 {
		band.LiquidityRatio = band.BidLiquidity / band.AskLiquidity
	} else {
		band.LiquidityRatio = LiquidityRatioSentinel
	}
	return band, true
}
