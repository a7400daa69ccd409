package progress

// completionPercentage derives a 0-100 completion ratio from live counts.
// Percentages are never adjusted incrementally: re-deriving from the
// completed-set size keeps them drift-free when totals change mid-course.
// An empty collection completes to 0.
func completionPercentage(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}
