package grid

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State tracks a claim through its lifecycle. Retracted is terminal.
type State int

const (
	StatePending State = iota
	StateAdmitted
	StateSuspended
	StateDelayed
	StateRetracted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAdmitted:
		return "admitted"
	case StateSuspended:
		return "suspended"
	case StateDelayed:
		return "delayed"
	case StateRetracted:
		return "retracted"
	default:
		return "unknown"
	}
}

// PriorityManualOverride marks claims the scheduler must never preempt.
const PriorityManualOverride = 10

// Demand is one point of a claim's predicted draw, modeled as a normal
// distribution over watts. Positive means consumption requested, negative
// means generation offered. StdDevW of zero expresses absolute certainty.
type Demand struct {
	MeanW   float64
	StdDevW float64
}

// DemandFunc maps elapsed time since the claim's curve start to predicted
// demand. A curve that reaches zero and stays there marks the claim's
// natural end.
type DemandFunc func(elapsed time.Duration) Demand

// PriorityFunc maps elapsed time to a scheduling priority between 0 (barely
// important) and 10 (manual override).
type PriorityFunc func(elapsed time.Duration) int

// ConstantDemand returns a DemandFunc with a fixed mean and deviation.
func ConstantDemand(meanW, stdDevW float64) DemandFunc {
	return func(time.Duration) Demand { return Demand{MeanW: meanW, StdDevW: stdDevW} }
}

// ConstantPriority returns a PriorityFunc with a fixed priority.
func ConstantPriority(p int) PriorityFunc {
	return func(time.Duration) int { return p }
}

// Flexibility declares which preemptions the scheduler may apply to a claim.
// All capabilities default to unavailable.
type Flexibility struct {
	Suspendable bool
	Delayable   bool
	Resettable  bool
}

// Hooks receives the preemption callbacks the grid issues. Owners must
// implement the methods matching their declared flexibility and treat them
// as externally triggered state changes that can arrive at any time,
// including before ClaimPower returns. Delay may be called with a negative
// duration to shorten a previously requested delay.
//
// Hooks run inside the grid's scheduling lock. They must not call back into
// the owning grid (ClaimPower, RetractClaim); hand such work to another
// goroutine instead.
type Hooks interface {
	Suspend() error
	Resume() error
	Delay(d time.Duration) error
	Reset() error
}

// NopHooks accepts every callback without doing anything.
type NopHooks struct{}

func (NopHooks) Suspend() error            { return nil }
func (NopHooks) Resume() error             { return nil }
func (NopHooks) Delay(time.Duration) error { return nil }
func (NopHooks) Reset() error              { return nil }

// Claim is a request for future electrical power with a time-varying demand
// and priority. A claim is owned by exactly one Grid once admitted; only
// that grid mutates its scheduling state.
type Claim struct {
	id       string
	name     string
	demand   DemandFunc
	priority PriorityFunc
	flex     Flexibility
	hooks    Hooks

	mu         sync.Mutex
	state      State
	curveStart time.Time
	delayed    time.Duration
	owner      *Grid
}

// NewClaim creates a claim in the Pending state with its demand curve
// starting now. Nil hooks default to NopHooks.
func NewClaim(name string, demand DemandFunc, priority PriorityFunc, flex Flexibility, hooks Hooks) *Claim {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if priority == nil {
		priority = ConstantPriority(0)
	}
	if demand == nil {
		demand = ConstantDemand(0, 0)
	}
	return &Claim{
		id:         uuid.NewString(),
		name:       name,
		demand:     demand,
		priority:   priority,
		flex:       flex,
		hooks:      hooks,
		state:      StatePending,
		curveStart: time.Now(),
	}
}

// ID returns the claim's unique identifier.
func (c *Claim) ID() string { return c.id }

// Name returns the claim's informal name.
func (c *Claim) Name() string { return c.name }

// Flexibility returns the claim's declared capabilities.
func (c *Claim) Flexibility() Flexibility { return c.flex }

// State returns the claim's current scheduling state.
func (c *Claim) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PriorityAt evaluates the claim's priority at the given instant, clamped to
// the 0..10 range.
func (c *Claim) PriorityAt(at time.Time) int {
	c.mu.Lock()
	start := c.curveStart
	c.mu.Unlock()
	p := c.priority(at.Sub(start))
	if p < 0 {
		p = 0
	}
	if p > PriorityManualOverride {
		p = PriorityManualOverride
	}
	return p
}

// DemandAt evaluates the claim's demand at the given instant, honoring
// delays imposed by the scheduler and curve restarts from resets. Instants
// before the shifted curve start carry zero demand.
func (c *Claim) DemandAt(at time.Time) Demand {
	return c.demandShifted(at, 0)
}

// demandShifted evaluates demand as if the claim carried an extra delay,
// used while planning preemptions that have not been committed yet.
func (c *Claim) demandShifted(at time.Time, extraDelay time.Duration) Demand {
	c.mu.Lock()
	start := c.curveStart
	delayed := c.delayed
	c.mu.Unlock()
	elapsed := at.Sub(start) - delayed - extraDelay
	if elapsed < 0 {
		return Demand{}
	}
	return c.demand(elapsed)
}

func (c *Claim) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// suspend notifies the owner and parks the claim. Grid use only.
func (c *Claim) suspend() error {
	if err := c.hooks.Suspend(); err != nil {
		return err
	}
	c.setState(StateSuspended)
	return nil
}

// resume lifts a suspension. Grid use only.
func (c *Claim) resume() error {
	if err := c.hooks.Resume(); err != nil {
		return err
	}
	c.setState(StateAdmitted)
	return nil
}

// applyDelay shifts the claim's demand curve d into the future. Grid use
// only.
func (c *Claim) applyDelay(d time.Duration) error {
	if err := c.hooks.Delay(d); err != nil {
		return err
	}
	c.mu.Lock()
	c.delayed += d
	c.state = StateDelayed
	c.mu.Unlock()
	return nil
}

// removeDelay cancels a previously applied delay. Grid use only.
func (c *Claim) removeDelay(d time.Duration) error {
	if err := c.hooks.Delay(-d); err != nil {
		return err
	}
	c.mu.Lock()
	c.delayed -= d
	c.state = StateAdmitted
	c.mu.Unlock()
	return nil
}

// resetCurve discards accumulated demand and restarts the curve at the given
// instant. The claim stays admitted. Grid use only.
func (c *Claim) resetCurve(at time.Time) error {
	if err := c.hooks.Reset(); err != nil {
		return err
	}
	c.mu.Lock()
	c.curveStart = at
	c.delayed = 0
	c.state = StateAdmitted
	c.mu.Unlock()
	return nil
}

func (c *Claim) setOwner(g *Grid) {
	c.mu.Lock()
	c.owner = g
	c.mu.Unlock()
}

func (c *Claim) ownedBy() *Grid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}
