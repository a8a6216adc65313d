// Package garch fits GARCH(1,1) conditional-variance models to price series
// by maximum likelihood and produces annualized volatility forecasts.
package garch

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sshikora/crypto-analytics/internal/indicators"
	"github.com/sshikora/crypto-analytics/internal/models"
	"github.com/sshikora/crypto-analytics/internal/optimize"
)

var (
	// ErrInsufficientData is returned when the series is too short for a stable fit.
	ErrInsufficientData = errors.New("insufficient data for GARCH model")
	// ErrInvalidInput is returned for misaligned, unordered or non-positive input.
	ErrInvalidInput = errors.New("invalid GARCH input")
)

const (
	// DefaultMinObservations is the smallest price series accepted by Fit.
	DefaultMinObservations = 15

	penalty             = 1e10
	maxPersistence      = 0.9999
	rescaledPersistence = 0.999

	// Starting point: a small intercept and the persistence-heavy
	// alpha/beta split typical of daily financial returns. The likelihood
	// surface is often flat, so a start near the usual optimum matters.
	initialOmegaFraction = 0.05
	initialAlpha         = 0.08
	initialBeta          = 0.87

	msPerYear   = 365.25 * 24 * 60 * 60 * 1000
	daysPerYear = 365.25
)

// DefaultForecastHorizons are the forecast horizons in calendar days.
var DefaultForecastHorizons = []int{1, 7, 14, 30}

// Config tunes the engine.
type Config struct {
	ForecastHorizons []int
	MinObservations  int
	Optimizer        optimize.Options
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		ForecastHorizons: append([]int(nil), DefaultForecastHorizons...),
		MinObservations:  DefaultMinObservations,
		Optimizer: optimize.Options{
			MaxIter: optimize.DefaultMaxIter,
			Tol:     optimize.DefaultTol,
		},
	}
}

// Engine fits GARCH(1,1) models. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine, filling unset fields from DefaultConfig.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if len(cfg.ForecastHorizons) == 0 {
		cfg.ForecastHorizons = def.ForecastHorizons
	}
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = def.MinObservations
	}
	return &Engine{cfg: cfg}
}

// Fit fits a model with the default configuration.
func Fit(prices []float64, timestamps []int64, symbol string) (*models.GarchModel, error) {
	return NewEngine(DefaultConfig()).Fit(prices, timestamps, symbol)
}

// Fit estimates omega, alpha and beta for the price series and derives the
// conditional volatility path and forecasts. timestamps are unix
// milliseconds aligned with prices.
func (e *Engine) Fit(prices []float64, timestamps []int64, symbol string) (*models.GarchModel, error) {
	if err := e.Validate(prices, timestamps); err != nil {
		return nil, err
	}

	returns := indicators.LogReturns(prices)
	residuals, _, sampleVar := indicators.Demean(returns)

	objective := func(logParams []float64) float64 {
		return negLogLikelihood(logParams, residuals, sampleVar)
	}
	x0 := []float64{
		math.Log(sampleVar * initialOmegaFraction),
		math.Log(initialAlpha),
		math.Log(initialBeta),
	}
	res := optimize.NelderMead(objective, x0, e.cfg.Optimizer)

	omega := math.Exp(res.X[0])
	alpha := math.Exp(res.X[1])
	beta := math.Exp(res.X[2])
	if alpha+beta >= 1 {
		scale := rescaledPersistence / (alpha + beta)
		alpha *= scale
		beta *= scale
	}
	persistence := alpha + beta

	avgPeriodMs := float64(timestamps[len(timestamps)-1]-timestamps[0]) / float64(len(timestamps)-1)
	periodsPerYear := msPerYear / avgPeriodMs
	annualize := func(variance float64) float64 {
		return math.Sqrt(math.Max(variance, 0)) * math.Sqrt(periodsPerYear) * 100
	}

	path := Variances(residuals, sampleVar, omega, alpha, beta)
	conditional := make([]models.VolatilityPoint, len(path))
	for i, h := range path {
		// path[i] is the variance of returns[i+1], the move ending at timestamps[i+2]
		conditional[i] = models.VolatilityPoint{
			Timestamp:            time.UnixMilli(timestamps[i+2]).UTC(),
			AnnualizedVolatility: annualize(h),
		}
	}

	currentVar := sampleVar
	if len(path) > 0 {
		currentVar = path[len(path)-1]
	}
	longRunVar := currentVar
	if persistence < 1 {
		longRunVar = omega / (1 - persistence)
	}

	forecast := make([]models.VolatilityForecast, len(e.cfg.ForecastHorizons))
	for i, days := range e.cfg.ForecastHorizons {
		k := HorizonPeriods(days, periodsPerYear)
		forecast[i] = models.VolatilityForecast{
			HorizonDays:          days,
			Periods:              k,
			AnnualizedVolatility: annualize(ForecastVariance(currentVar, longRunVar, persistence, k)),
		}
	}

	return &models.GarchModel{
		Symbol:                symbol,
		ModelType:             models.ModelTypeGARCH11,
		Omega:                 omega,
		Alpha:                 alpha,
		Beta:                  beta,
		Persistence:           persistence,
		LongRunVolatility:     annualize(longRunVar),
		CurrentVolatility:     annualize(currentVar),
		ConditionalVolatility: conditional,
		Forecast:              forecast,
		LogLikelihood:         -res.F,
		Observations:          len(prices),
		Iterations:            res.Iterations,
		Converged:             res.Converged,
	}, nil
}

// Validate checks the preconditions of Fit: enough observations, one
// timestamp per price, positive finite prices and strictly increasing
// timestamps.
func (e *Engine) Validate(prices []float64, timestamps []int64) error {
	if len(prices) < e.cfg.MinObservations {
		return fmt.Errorf("%w: got %d observations, minimum %d required",
			ErrInsufficientData, len(prices), e.cfg.MinObservations)
	}
	if len(timestamps) != len(prices) {
		return fmt.Errorf("%w: %d timestamps for %d prices", ErrInvalidInput, len(timestamps), len(prices))
	}
	for i, p := range prices {
		if !(p > 0) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: price at index %d is %v", ErrInvalidInput, i, p)
		}
		if i > 0 && timestamps[i] <= timestamps[i-1] {
			return fmt.Errorf("%w: timestamps not strictly increasing at index %d", ErrInvalidInput, i)
		}
	}
	return nil
}

// negLogLikelihood is the Gaussian GARCH(1,1) negative log-likelihood, up to
// a constant, over logParams = [ln omega, ln alpha, ln beta]. Infeasible
// parameters return the penalty value.
func negLogLikelihood(logParams, residuals []float64, initVariance float64) float64 {
	omega := math.Exp(logParams[0])
	alpha := math.Exp(logParams[1])
	beta := math.Exp(logParams[2])

	if alpha+beta >= maxPersistence {
		return penalty
	}

	h := initVariance
	sum := 0.0
	for t := 1; t < len(residuals); t++ {
		h = omega + alpha*residuals[t-1]*residuals[t-1] + beta*h
		if h <= 0 || math.IsNaN(h) || math.IsInf(h, 0) {
			return penalty
		}
		sum += math.Log(h) + residuals[t]*residuals[t]/h
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return penalty
	}
	return 0.5 * sum
}

// Variances runs the GARCH(1,1) recursion seeded with initVariance and
// returns h[t] for t = 1..len(residuals)-1.
func Variances(residuals []float64, initVariance, omega, alpha, beta float64) []float64 {
	if len(residuals) < 2 {
		return nil
	}
	out := make([]float64, 0, len(residuals)-1)
	h := initVariance
	for t := 1; t < len(residuals); t++ {
		h = omega + alpha*residuals[t-1]*residuals[t-1] + beta*h
		out = append(out, h)
	}
	return out
}

// ForecastVariance is the k-step-ahead GARCH(1,1) variance
// h(T+k) = LR + persistence^(k-1) * (h(T+1) - LR).
func ForecastVariance(nextVar, longRunVar, persistence float64, k int) float64 {
	return longRunVar + math.Pow(persistence, float64(k-1))*(nextVar-longRunVar)
}

// HorizonPeriods converts a horizon in calendar days to a whole number of
// sampling periods, at least 1.
func HorizonPeriods(days int, periodsPerYear float64) int {
	k := int(math.Round(float64(days) / daysPerYear * periodsPerYear))
	if k < 1 {
		return 1
	}
	return k
}
