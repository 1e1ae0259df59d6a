package regime

import (
	"math"
	"sort"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/utils"
)

const (
	swingLookback = 3
	// A swing only counts when it stands out of the surrounding window by
	// this many short ATRs.
	swingSignificanceATR = 0.3
	// Swings further than max(2·range, 10·ATR) from price are stale levels.
	swingRetentionATR = 10.0
	// Swings within half an ATR of a cluster mean belong to that cluster.
	clusterToleranceATR = 0.5
	proximityATR        = 0.5
	boundsScanWindow    = 100
)

type swingPoint struct {
	price float64
	index int
}

type levelCluster struct {
	avg     float64
	touches int
	first   int
	last    int
}

// computeRangeBounds selects the primary support and resistance for a range
// regime from clustered swing points, falling back to the window extremes
// when the structure is too thin to cluster.
func computeRangeBounds(bars domain.BarSeries, atrShort float64) *RangeBounds {
	if len(bars) == 0 || atrShort <= 0 {
		return nil
	}
	scan := bars
	if len(scan) > boundsScanWindow {
		scan = scan[len(scan)-boundsScanWindow:]
	}

	price := scan[len(scan)-1].Close
	recentMin, recentMax := scanExtremes(scan)

	swings := detectSwings(scan, atrShort)
	retained := retainNear(swings, price, recentMax-recentMin, atrShort)
	if len(retained) < 2 {
		return minmaxBounds(price, recentMin, recentMax, atrShort)
	}

	clusters := clusterSwings(retained, atrShort)
	resistance, okR := pickResistance(clusters, price)
	support, okS := pickSupport(clusters, price)
	if !okR || !okS || resistance.avg <= support.avg {
		// Selection degenerated (all clusters on one side of price).
		return minmaxBounds(price, recentMin, recentMax, atrShort)
	}

	bounds := boundsFrom(price, support.avg, resistance.avg, atrShort, "swing_clusters")
	bounds.Touches = support.touches + resistance.touches
	bounds.Strength = strengthLabel(bounds.Touches)
	bounds.ExtraResistance = extraLevels(clusters, price, resistance.avg, true)
	bounds.ExtraSupport = extraLevels(clusters, price, support.avg, false)
	return bounds
}

func scanExtremes(bars domain.BarSeries) (min, max float64) {
	min, max = bars[0].Low, bars[0].High
	for _, b := range bars[1:] {
		if b.Low < min {
			min = b.Low
		}
		if b.High > max {
			max = b.High
		}
	}
	return min, max
}

// detectSwings finds local extremes over a symmetric lookback that also
// stand out of their surrounding window by the significance margin.
func detectSwings(bars domain.BarSeries, atrShort float64) []swingPoint {
	n := len(bars)
	significance := swingSignificanceATR * atrShort
	var swings []swingPoint

	for i := swingLookback; i < n-swingLookback; i++ {
		isHigh, isLow := true, true
		for j := 1; j <= swingLookback; j++ {
			if bars[i].High < bars[i-j].High || bars[i].High < bars[i+j].High {
				isHigh = false
			}
			if bars[i].Low > bars[i-j].Low || bars[i].Low > bars[i+j].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		lo := i - 2*swingLookback
		hi := i + 2*swingLookback
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}

		if isHigh {
			windowLow := bars[lo].Low
			for k := lo + 1; k <= hi; k++ {
				if bars[k].Low < windowLow {
					windowLow = bars[k].Low
				}
			}
			if bars[i].High-windowLow >= significance {
				swings = append(swings, swingPoint{price: bars[i].High, index: i})
			}
		}
		if isLow {
			windowHigh := bars[lo].High
			for k := lo + 1; k <= hi; k++ {
				if bars[k].High > windowHigh {
					windowHigh = bars[k].High
				}
			}
			if windowHigh-bars[i].Low >= significance {
				swings = append(swings, swingPoint{price: bars[i].Low, index: i})
			}
		}
	}
	return swings
}

func retainNear(swings []swingPoint, price, priceRange, atrShort float64) []swingPoint {
	maxDistance := math.Max(2*priceRange, swingRetentionATR*atrShort)
	retained := swings[:0:0]
	for _, s := range swings {
		if math.Abs(s.price-price) <= maxDistance {
			retained = append(retained, s)
		}
	}
	return retained
}

// clusterSwings groups price-sorted swings whose price stays within the
// tolerance of the running cluster mean.
func clusterSwings(swings []swingPoint, atrShort float64) []levelCluster {
	sorted := make([]swingPoint, len(swings))
	copy(sorted, swings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].price < sorted[j].price })

	tolerance := clusterToleranceATR * atrShort
	var clusters []levelCluster
	for _, s := range sorted {
		if len(clusters) > 0 {
			c := &clusters[len(clusters)-1]
			if math.Abs(s.price-c.avg) <= tolerance {
				c.avg = (c.avg*float64(c.touches) + s.price) / float64(c.touches+1)
				c.touches++
				if s.index < c.first {
					c.first = s.index
				}
				if s.index > c.last {
					c.last = s.index
				}
				continue
			}
		}
		clusters = append(clusters, levelCluster{avg: s.price, touches: 1, first: s.index, last: s.index})
	}
	return clusters
}

// pickResistance walks the preference chain: nearest cluster above price
// with at least two touches, else nearest above, else the highest cluster.
func pickResistance(clusters []levelCluster, price float64) (levelCluster, bool) {
	var nearest, nearestTouched, highest *levelCluster
	for i := range clusters {
		c := &clusters[i]
		if highest == nil || c.avg > highest.avg {
			highest = c
		}
		if c.avg <= price {
			continue
		}
		if nearest == nil || c.avg < nearest.avg {
			nearest = c
		}
		if c.touches >= 2 && (nearestTouched == nil || c.avg < nearestTouched.avg) {
			nearestTouched = c
		}
	}
	switch {
	case nearestTouched != nil:
		return *nearestTouched, true
	case nearest != nil:
		return *nearest, true
	case highest != nil:
		return *highest, true
	}
	return levelCluster{}, false
}

// pickSupport mirrors pickResistance below price.
func pickSupport(clusters []levelCluster, price float64) (levelCluster, bool) {
	var nearest, nearestTouched, lowest *levelCluster
	for i := range clusters {
		c := &clusters[i]
		if lowest == nil || c.avg < lowest.avg {
			lowest = c
		}
		if c.avg >= price {
			continue
		}
		if nearest == nil || c.avg > nearest.avg {
			nearest = c
		}
		if c.touches >= 2 && (nearestTouched == nil || c.avg > nearestTouched.avg) {
			nearestTouched = c
		}
	}
	switch {
	case nearestTouched != nil:
		return *nearestTouched, true
	case nearest != nil:
		return *nearest, true
	case lowest != nil:
		return *lowest, true
	}
	return levelCluster{}, false
}

// extraLevels returns up to three further clusters on one side of price,
// nearest first, excluding the already chosen primary.
func extraLevels(clusters []levelCluster, price, primary float64, above bool) []Level {
	var side []levelCluster
	for _, c := range clusters {
		if c.avg == primary {
			continue
		}
		if above && c.avg > price {
			side = append(side, c)
		}
		if !above && c.avg < price {
			side = append(side, c)
		}
	}
	sort.Slice(side, func(i, j int) bool {
		return math.Abs(side[i].avg-price) < math.Abs(side[j].avg-price)
	})
	if len(side) > 3 {
		side = side[:3]
	}
	levels := make([]Level, 0, len(side))
	for _, c := range side {
		levels = append(levels, Level{Price: utils.Round8(c.avg), Touches: c.touches})
	}
	return levels
}

func minmaxBounds(price, recentMin, recentMax, atrShort float64) *RangeBounds {
	if recentMax <= recentMin {
		return &RangeBounds{
			Support:    utils.Round8(recentMin),
			Resistance: utils.Round8(recentMax),
			Position:   0.5,
			Proximity:  "middle",
			Strength:   "weak",
			Method:     "minmax_fallback",
		}
	}
	bounds := boundsFrom(price, recentMin, recentMax, atrShort, "minmax_fallback")
	bounds.Strength = "weak"
	return bounds
}

func boundsFrom(price, support, resistance, atrShort float64, method string) *RangeBounds {
	width := resistance - support
	position := utils.Clamp((price-support)/width, 0, 1)

	proximity := "middle"
	switch {
	case resistance-price <= proximityATR*atrShort:
		proximity = "near_resistance"
	case price-support <= proximityATR*atrShort:
		proximity = "near_support"
	case position > 0.6:
		proximity = "upper_half"
	case position < 0.4:
		proximity = "lower_half"
	}

	return &RangeBounds{
		Support:    utils.Round8(support),
		Resistance: utils.Round8(resistance),
		Width:      utils.Round8(width),
		WidthATR:   utils.Round4(width / atrShort),
		Position:   utils.Round4(position),
		Proximity:  proximity,
		Method:     method,
	}
}

func strengthLabel(touches int) string {
	switch {
	case touches >= 6:
		return "strong"
	case touches >= 4:
		return "moderate"
	default:
		return "weak"
	}
}
