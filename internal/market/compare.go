package market

// Epsilon is the fixed comparison tolerance used by every ratio
// predicate in the engine. Exact threshold ties fail the predicate, so
// a window sitting precisely on a boundary classifies the same way on
// every evaluation regardless of float rounding.
const Epsilon = 1e-9

// Above reports v > threshold with exact ties failing.
func Above(v, threshold float64) bool {
	return v-threshold > Epsilon
}

// Beneath reports v < threshold with exact ties failing.
func Beneath(v, threshold float64) bool {
	return threshold-v > Epsilon
}
