package align

import (
	"sync"
	"time"
)

// PIDGains holds the proportional, integral and derivative gains for one
// axis controller.
type PIDGains struct {
	Kp float64
	Ki float64
	Kd float64
}

// DefaultPIDGains returns conservative bench-tuned gains.
func DefaultPIDGains() PIDGains {
	return PIDGains{Kp: 0.5, Ki: 0.05, Kd: 0.02}
}

// AxisController is a closed-loop PID controller for a single spatial
// axis. Each axis gets its own instance; the two never share state.
//
// The accumulated integral has no built-in decay or clamp: sustained
// non-zero error grows it without bound (integral windup). The owning
// state machine mitigates this by calling Reset on every exit from
// Tracking. Changing this silently would alter control behaviour, so any
// anti-windup scheme must be an explicit, tested change.
type AxisController struct {
	mu sync.Mutex

	axis  Axis
	gains PIDGains

	integral  float64
	prevError float64
	hasPrev   bool
}

// NewAxisController creates a controller for the given axis.
func NewAxisController(axis Axis, gains PIDGains) *AxisController {
	return &AxisController{axis: axis, gains: gains}
}

// Axis returns the axis this controller drives.
func (c *AxisController) Axis() Axis {
	return c.axis
}

// Update advances the control law by one sample and returns the bounded
// correction for this axis.
//
// dt is the elapsed time since the previous update. On the first call
// after a reset, or when dt <= 0, the derivative term is skipped (there
// is no previous sample to difference against) and the integral is not
// advanced; the proportional term alone is returned.
func (c *AxisController) Update(errorUm float64, dt time.Duration) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	dtSec := dt.Seconds()
	if !c.hasPrev || dtSec <= 0 {
		c.hasPrev = true
		c.prevError = errorUm
		return c.gains.Kp * errorUm
	}

	// Accumulate before computing the integral term.
	c.integral += errorUm * dtSec

	correction := c.gains.Kp*errorUm +
		c.gains.Ki*c.integral +
		c.gains.Kd*(errorUm-c.prevError)/dtSec

	c.prevError = errorUm
	return correction
}

// Gains returns the controller's current gains.
func (c *AxisController) Gains() PIDGains {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains
}

// SetGains replaces the gains for subsequent updates. Accumulated state
// is kept; callers that want a clean restart call Reset as well.
func (c *AxisController) SetGains(g PIDGains) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains = g
}

// Reset zeroes the integral and previous-error state. Called whenever the
// state machine leaves Tracking, and on explicit operator reset.
func (c *AxisController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integral = 0
	c.prevError = 0
	c.hasPrev = false
}

// Integral returns the current accumulated integral term. Exposed for the
// monitor surface and the windup tests.
func (c *AxisController) Integral() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.integral
}
