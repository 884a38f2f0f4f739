package progress

import (
	"math"
	"time"
)

// Estimator produces a smooth percentage for a running stage with no real
// completion signal. The curve 100*(1-exp(-t/tau)) rises quickly at first
// and approaches but never reaches 100.
type Estimator struct {
	start time.Time
	tau   time.Duration
}

// NewEstimator starts an estimator whose curve reaches ~63% after tau.
func NewEstimator(tau time.Duration) *Estimator {
	if tau <= 0 {
		tau = 30 * time.Second
	}
	return &Estimator{start: time.Now(), tau: tau}
}

// Percent returns the current estimated percentage, capped at 99.
func (e *Estimator) Percent() float64 {
	t := time.Since(e.start).Seconds()
	p := 100 * (1 - math.Exp(-t/e.tau.Seconds()))
	if p > 99 {
		p = 99
	}
	return p
}
