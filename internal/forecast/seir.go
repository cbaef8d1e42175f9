package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
)

// Illustrative SEIR rates. They are not calibrated against any disease.
const (
	DefaultBeta  = 0.3
	DefaultSigma = 0.2
	DefaultGamma = 0.1

	// DefaultPopulation is the nominal regional population when none is configured.
	DefaultPopulation = 100_000

	seirBandLower = 0.8
	seirBandUpper = 1.2
)

// SEIRParameters are the initial compartment sizes and daily rates of one run.
type SEIRParameters struct {
	Population       float64
	InitialInfected  float64
	InitialExposed   float64
	InitialRecovered float64
	Beta             float64 // transmission
	Sigma            float64 // incubation (E -> I)
	Gamma            float64 // recovery (I -> R)
	Days             int
}

// Compartments is the population split on one simulated day.
type Compartments struct {
	Susceptible float64
	Exposed     float64
	Infected    float64
	Recovered   float64
}

// ParameterEstimator derives simulation parameters from a historical series.
type ParameterEstimator interface {
	Estimate(history []domain.HistoricalPoint, horizonDays int, disease string) (SEIRParameters, error)
}

// DefaultEstimator seeds the simulation from the last observed case count with
// fixed rates.
type DefaultEstimator struct {
	Population float64
}

func (e DefaultEstimator) Estimate(history []domain.HistoricalPoint, horizonDays int, _ string) (SEIRParameters, error) {
	population := e.Population
	if population == 0 {
		population = DefaultPopulation
	}

	infected := 0.0
	if len(history) > 0 {
		last := history[len(history)-1].TotalCases
		if last < 0 {
			return SEIRParameters{}, fmt.Errorf("%w: negative case count %d", domain.ErrSimulationFailed, last)
		}
		infected = float64(last)
	}
	infected = math.Max(1, infected)

	return SEIRParameters{
		Population:       population,
		InitialInfected:  infected,
		InitialExposed:   math.Max(1, math.Round(0.5*infected)),
		InitialRecovered: 0,
		Beta:             DefaultBeta,
		Sigma:            DefaultSigma,
		Gamma:            DefaultGamma,
		Days:             horizonDays,
	}, nil
}

// Simulate runs the discrete daily SEIR update for p.Days steps and returns the
// compartments after each step. Values that would go negative are clamped to 0.
// Invalid parameters or a non-finite state fail with domain.ErrSimulationFailed.
func Simulate(p SEIRParameters) ([]Compartments, error) {
	if err := validateParameters(p); err != nil {
		return nil, err
	}

	n := p.Population
	c := Compartments{
		Susceptible: n - p.InitialInfected - p.InitialExposed - p.InitialRecovered,
		Exposed:     p.InitialExposed,
		Infected:    p.InitialInfected,
		Recovered:   p.InitialRecovered,
	}

	days := make([]Compartments, 0, p.Days)
	for day := 1; day <= p.Days; day++ {
		newExposed := p.Beta * c.Susceptible * c.Infected / n
		newInfected := p.Sigma * c.Exposed
		newRecovered := p.Gamma * c.Infected

		c = Compartments{
			Susceptible: clamp(c.Susceptible - newExposed),
			Exposed:     clamp(c.Exposed + newExposed - newInfected),
			Infected:    clamp(c.Infected + newInfected - newRecovered),
			Recovered:   clamp(c.Recovered + newRecovered),
		}
		if !c.finite() {
			return nil, fmt.Errorf("%w: non-finite state on day %d", domain.ErrSimulationFailed, day)
		}
		days = append(days, c)
	}
	return days, nil
}

func validateParameters(p SEIRParameters) error {
	values := []float64{p.Population, p.InitialInfected, p.InitialExposed, p.InitialRecovered, p.Beta, p.Sigma, p.Gamma}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite parameter", domain.ErrSimulationFailed)
		}
	}
	switch {
	case p.Population <= 0:
		return fmt.Errorf("%w: population must be positive", domain.ErrSimulationFailed)
	case p.InitialInfected < 0 || p.InitialExposed < 0 || p.InitialRecovered < 0:
		return fmt.Errorf("%w: initial compartments must be non-negative", domain.ErrSimulationFailed)
	case p.InitialInfected+p.InitialExposed+p.InitialRecovered > p.Population:
		return fmt.Errorf("%w: initial compartments exceed population %.0f", domain.ErrSimulationFailed, p.Population)
	case p.Beta <= 0 || p.Sigma <= 0 || p.Gamma <= 0:
		return fmt.Errorf("%w: rates must be positive", domain.ErrSimulationFailed)
	case p.Days < 0:
		return fmt.Errorf("%w: negative horizon", domain.ErrSimulationFailed)
	}
	return nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func (c Compartments) finite() bool {
	for _, v := range []float64{c.Susceptible, c.Exposed, c.Infected, c.Recovered} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Simulator produces mechanistic forecasts.
type Simulator struct {
	estimator ParameterEstimator
}

// NewSimulator creates a Simulator. A nil estimator uses DefaultEstimator with
// the default population.
func NewSimulator(estimator ParameterEstimator) *Simulator {
	if estimator == nil {
		estimator = DefaultEstimator{Population: DefaultPopulation}
	}
	return &Simulator{estimator: estimator}
}

// Forecast estimates parameters, simulates horizonDays days and converts the
// infected compartment into forecast points with a fixed ±20% band. It returns
// either a full forecast or an error wrapping domain.ErrSimulationFailed.
func (s *Simulator) Forecast(history []domain.HistoricalPoint, horizonDays int, disease string, today time.Time) ([]domain.ForecastPoint, error) {
	params, err := s.estimator.Estimate(history, horizonDays, disease)
	if err != nil {
		return nil, wrapSimulationErr(err)
	}

	days, err := Simulate(params)
	if err != nil {
		return nil, err
	}
	if len(days) != horizonDays {
		return nil, fmt.Errorf("%w: simulated %d days, want %d", domain.ErrSimulationFailed, len(days), horizonDays)
	}

	start := domain.StartOfDay(today)
	if len(history) > 0 {
		start = domain.StartOfDay(history[len(history)-1].Date)
	}

	points := make([]domain.ForecastPoint, len(days))
	for i, c := range days {
		predicted := int(math.Round(c.Infected))
		points[i] = domain.ForecastPoint{
			Date:           start.AddDate(0, 0, i+1),
			PredictedCases: predicted,
			ConfidenceInterval: domain.ConfidenceInterval{
				Lower: int(math.Round(float64(predicted) * seirBandLower)),
				Upper: int(math.Round(float64(predicted) * seirBandUpper)),
			},
			RiskLevel: domain.ClassifyRisk(predicted, domain.DefaultSeverity),
		}
	}
	return points, nil
}

func wrapSimulationErr(err error) error {
	if errors.Is(err, domain.ErrSimulationFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrSimulationFailed, err)
}
