package indicators

import "math"

// LogReturns returns ln(p[i]/p[i-1]) for i = 1..n-1.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out[i-1] = math.Log(prices[i] / prices[i-1])
	}
	return out
}

// Mean is the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Demean returns xs minus their mean together with the mean of the squared
// residuals (the population variance).
func Demean(xs []float64) (residuals []float64, mean, variance float64) {
	mean = Mean(xs)
	residuals = make([]float64, len(xs))
	sq := 0.0
	for i, x := range xs {
		residuals[i] = x - mean
		sq += residuals[i] * residuals[i]
	}
	if len(xs) > 0 {
		variance = sq / float64(len(xs))
	}
	return residuals, mean, variance
}
