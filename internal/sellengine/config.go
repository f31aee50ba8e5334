package sellengine

// Config tunes the signal table's thresholds (spec.md §4.10 table and
// action-selection policy). Constructed explicitly, no package-level
// singleton, matching the redesign flag already applied to
// internal/selection.QuantConfig.
type Config struct {
	TakeProfitLevels  []float64 // ascending; e.g. [0.05, 0.10, 0.15]
	PartialSellRatios []float64 // same length as TakeProfitLevels

	MaxHoldDays int

	OrderbookImbalanceThreshold float64

	// MinActionStrength/MinActionConfidence gate the "other signals"
	// branch of the action-selection policy (spec.md §4.10: "execute only
	// if strength >= 0.3 and confidence >= 0.6").
	MinActionStrength   float64
	MinActionConfidence float64
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		TakeProfitLevels:            []float64{0.05, 0.10, 0.15},
		PartialSellRatios:           []float64{0.3, 0.3, 0.4},
		MaxHoldDays:                 10,
		OrderbookImbalanceThreshold: 0.2,
		MinActionStrength:           0.3,
		MinActionConfidence:         0.6,
	}
}
