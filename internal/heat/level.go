package heat

// Level buckets a score for display.
type Level string

const (
	LevelHot     Level = "hot"
	LevelWarming Level = "warming"
	LevelNeutral Level = "neutral"
	LevelCooling Level = "cooling"
	LevelCold    Level = "cold"
)

// LevelFor classifies a score in [0,100].
func LevelFor(score float64) Level {
	switch {
	case score >= 75:
		return LevelHot
	case score >= 55:
		return LevelWarming
	case score >= 35:
		return LevelNeutral
	case score >= 15:
		return LevelCooling
	default:
		return LevelCold
	}
}

// Trend says whether recent sales are accelerating.
type Trend string

const (
	TrendUp        Trend = "up"
	TrendUpRight   Trend = "up-right"
	TrendRight     Trend = "right"
	TrendDownRight Trend = "down-right"
	TrendDown      Trend = "down"
)

// VendorTrend compares the last 30 days of sales with the last 90.
func VendorTrend(salesLast30d, salesLast90d int) Trend {
	if salesLast30d < 0 || salesLast90d <= 0 {
		return TrendRight
	}
	ratio := float64(salesLast30d) / float64(salesLast90d)
	switch {
	case ratio >= 0.5:
		return TrendUp
	case ratio >= 0.4:
		return TrendUpRight
	case ratio >= 0.25:
		return TrendRight
	case ratio >= 0.1:
		return TrendDownRight
	default:
		return TrendDown
	}
}

// PackTrend reads momentum off recent sales, then off recency.
func PackTrend(salesLast30d int, daysSinceLastSale float64) Trend {
	switch {
	case salesLast30d >= 2:
		return TrendUp
	case salesLast30d == 1:
		return TrendUpRight
	case daysSinceLastSale >= 0 && daysSinceLastSale <= 30:
		return TrendRight
	case daysSinceLastSale >= 0 && daysSinceLastSale <= 60:
		return TrendDownRight
	default:
		return TrendDown
	}
}
