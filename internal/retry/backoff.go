package retry

import "time"

// Backoff computes the wait before the next attempt after the given number
// of consecutive failures (1 for the first failure).
type Backoff interface {
	Delay(failures int) time.Duration
}

// Exponential doubles (or multiplies by Factor) the delay after every
// failure, starting at Base and never exceeding Cap.
type Exponential struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// DefaultBackoff waits 10m, 20m, 40m and so on, capped at four hours.
func DefaultBackoff() Exponential {
	return Exponential{Base: 10 * time.Minute, Factor: 2, Cap: 4 * time.Hour}
}

// Delay implements Backoff.
func (e Exponential) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	factor := e.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(e.Base)
	for i := 1; i < failures; i++ {
		d *= factor
		if e.Cap > 0 && d >= float64(e.Cap) {
			return e.Cap
		}
	}
	if e.Cap > 0 && d > float64(e.Cap) {
		return e.Cap
	}
	return time.Duration(d)
}

// Linear grows the delay by Step after every failure, capped at Cap.
type Linear struct {
	Step time.Duration
	Cap  time.Duration
}

// Delay implements Backoff.
func (l Linear) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := time.Duration(failures) * l.Step
	if l.Cap > 0 && d > l.Cap {
		return l.Cap
	}
	return d
}
