package tracker

const (
	// METRunning is an average running intensity, not a per-speed value.
	METRunning          = 9.8
	DefaultBodyWeightKg = 70.0
)

// Calories estimates kcal burned over distanceKm. Non-positive weights use
// DefaultBodyWeightKg.
func Calories(distanceKm, weightKg float64) float64 {
	if weightKg <= 0 {
		weightKg = DefaultBodyWeightKg
	}
	caloriesPerKm := (METRunning * weightKg * 3.5) / 200
	return caloriesPerKm * distanceKm
}
