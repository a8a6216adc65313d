package models

import "time"

// ModelTypeGARCH11 labels the fitted model family
const ModelTypeGARCH11 = "GARCH(1,1)"

// VolatilityPoint is an annualized conditional volatility (in percent) at a point in time
type VolatilityPoint struct {
	Timestamp            time.Time `json:"timestamp"`
	AnnualizedVolatility float64   `json:"annualized_volatility"`
}

// VolatilityForecast is an annualized volatility forecast (in percent) for a horizon in days
type VolatilityForecast struct {
	HorizonDays          int     `json:"horizon"`
	Periods              int     `json:"periods"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
}

// GarchModel is the result of a GARCH(1,1) fit
type GarchModel struct {
	Symbol                string               `json:"symbol"`
	ModelType             string               `json:"model_type"`
	Omega                 float64              `json:"omega"`
	Alpha                 float64              `json:"alpha"`
	Beta                  float64              `json:"beta"`
	Persistence           float64              `json:"persistence"`
	LongRunVolatility     float64              `json:"long_run_volatility"`
	CurrentVolatility     float64              `json:"current_volatility"`
	ConditionalVolatility []VolatilityPoint    `json:"conditional_volatility"`
	Forecast              []VolatilityForecast `json:"forecast"`
	LogLikelihood         float64              `json:"log_likelihood"`
	Observations          int                  `json:"observations"`
	Iterations            int                  `json:"iterations"`
	Converged             bool                 `json:"converged"`
}

// Stationary reports whether the fitted process mean-reverts
func (m *GarchModel) Stationary() bool {
	return m.Persistence < 1
}
