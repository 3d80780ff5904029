package normalize

import "github.com/seaquant/marketd/pkg/models"

// classifySignal summarizes the latest reading of an indicator series.
// RSI uses the standard 70/30 bands with a 50 midline; MACD compares
// the line to its signal; band width alone says nothing about price
// position, so BBANDS stays neutral.
func classifySignal(ind *models.Indicator) models.IndicatorSignal {
	if len(ind.Points) == 0 {
		return models.SignalNeutral
	}
	latest := ind.Points[0]
	switch ind.Name {
	case "RSI":
		switch {
		case latest.Value >= 70:
			return models.SignalOverbought
		case latest.Value <= 30:
			return models.SignalOversold
		case latest.Value > 50:
			return models.SignalBullish
		default:
			return models.SignalBearish
		}
	case "MACD":
		if latest.Value > latest.Signal {
			return models.SignalBullish
		}
		if latest.Value < latest.Signal {
			return models.SignalBearish
		}
	}
	return models.SignalNeutral
}

// classifyTrend looks at the three most recent points (newest first):
// strictly increasing toward the present is rising, strictly
// decreasing is falling, anything mixed is sideways.
func classifyTrend(points []models.IndicatorPoint) models.IndicatorTrend {
	if len(points) < 3 {
		return models.TrendInsufficient
	}
	rising := points[0].Value > points[1].Value && points[1].Value > points[2].Value
	falling := points[0].Value < points[1].Value && points[1].Value < points[2].Value
	switch {
	case rising:
		return models.TrendRising
	case falling:
		return models.TrendFalling
	default:
		return models.TrendSideways
	}
}
