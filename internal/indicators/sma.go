// Package indicators holds the moving-average and return-series primitives
// shared by the crossover detector and the GARCH engine.
package indicators

// Point is one entry of an indicator series. Valid is false while the
// indicator is still warming up.
type Point struct {
	Value float64
	Valid bool
}

// Series is an indicator aligned index-for-index with its input prices.
type Series []Point

// SMA computes the simple moving average of values over period. Entries
// before index period-1 are undefined. A non-positive period yields an
// all-undefined series.
func SMA(values []float64, period int) Series {
	out := make(Series, len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for _, v := range values[i-period+1 : i+1] {
			sum += v
		}
		out[i] = Point{Value: sum / float64(period), Valid: true}
	}
	return out
}

// Current returns the most recent defined value.
func (s Series) Current() (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Valid {
			return s[i].Value, true
		}
	}
	return 0, false
}

// Previous returns the second most recent defined value.
func (s Series) Previous() (float64, bool) {
	found := false
	for i := len(s) - 1; i >= 0; i-- {
		if !s[i].Valid {
			continue
		}
		if found {
			return s[i].Value, true
		}
		found = true
	}
	return 0, false
}

// Values returns the series with undefined entries as nil, the shape chart
// overlays serialize to JSON null.
func (s Series) Values() []*float64 {
	out := make([]*float64, len(s))
	for i := range s {
		if s[i].Valid {
			v := s[i].Value
			out[i] = &v
		}
	}
	return out
}
