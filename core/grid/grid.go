package grid

import (
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/groengemak/solgrid/core/logger"
	"github.com/groengemak/solgrid/core/metrics"
	"github.com/groengemak/solgrid/internal/eventbus"
)

// Bus is the narrow view the grid keeps of an attached field bus. The grid
// never drives the protocol stack; it only enumerates its buses.
type Bus interface {
	Name() string
}

// Options configures a Grid.
type Options struct {
	// CapacityW is the power budget the scheduler arbitrates, in watts.
	CapacityW float64
	// Period is the sampling period shared with the grid's buses.
	Period time.Duration
	// Confidence is the quantile of the normal demand distribution used
	// in capacity checks. Defaults to 0.95.
	Confidence float64
	// Horizon caps open-ended admission windows, in periods. Defaults to 48.
	Horizon int
	Logger  logger.Logger
	Metrics metrics.Sink
}

func (o *Options) setDefaults() {
	if o.Period <= 0 {
		o.Period = 5 * time.Minute
	}
	if o.Confidence <= 0 || o.Confidence >= 1 {
		o.Confidence = 0.95
	}
	if o.Horizon <= 0 {
		o.Horizon = 48
	}
	if o.Logger == nil {
		o.Logger = logger.NopLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NopSink{}
	}
}

// admission tracks one claim the grid has accepted, with the window it was
// admitted for and the scheduling adjustments applied to it since.
type admission struct {
	claim *Claim
	start time.Time
	end   time.Time // zero means open-ended
	at    time.Time // admission instant, breaks priority ties
	delay time.Duration
}

// Grid arbitrates one shared power budget. All admitted-set mutations happen
// under the grid mutex so no two admission decisions interleave their
// capacity checks.
type Grid struct {
	name string
	opts Options

	log    logger.Logger
	sink   metrics.Sink
	events *eventbus.Bus[ClaimEvent]

	mu       sync.Mutex
	buses    []Bus
	claims   []*admission
	balanceW float64
	forecast map[int]float64
	now      func() time.Time
}

// New creates a Grid with the given name and options.
func New(name string, opts Options) *Grid {
	opts.setDefaults()
	return &Grid{
		name:     name,
		opts:     opts,
		log:      opts.Logger,
		sink:     opts.Metrics,
		events:   eventbus.New[ClaimEvent](),
		forecast: make(map[int]float64),
		now:      time.Now,
	}
}

// Name returns the grid's name.
func (g *Grid) Name() string { return g.name }

// Period returns the sampling period buses on this grid inherit.
func (g *Grid) Period() time.Duration { return g.opts.Period }

// CapacityW returns the power budget the scheduler arbitrates.
func (g *Grid) CapacityW() float64 { return g.opts.CapacityW }

// Events exposes the claim lifecycle event bus.
func (g *Grid) Events() *eventbus.Bus[ClaimEvent] { return g.events }

// Close shuts the event bus down.
func (g *Grid) Close() { g.events.Close() }

// AddBus attaches a bus to this grid. A bus belongs to exactly one grid.
func (g *Grid) AddBus(b Bus) {
	g.mu.Lock()
	g.buses = append(g.buses, b)
	g.mu.Unlock()
}

// Buses returns the attached buses.
func (g *Grid) Buses() []Bus {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Bus, len(g.buses))
	copy(out, g.buses)
	return out
}

// BalancePower records the latest observed aggregate power. Generation is
// negative, consumption positive; only the sum matters for capacity checks,
// the split is forwarded to the metrics sink for later analysis.
func (g *Grid) BalancePower(wattlist []float64) {
	var sum float64
	for _, w := range wattlist {
		sum += w
	}
	g.mu.Lock()
	g.balanceW = sum
	g.mu.Unlock()
	if err := g.sink.RecordBalance(g.name, sum); err != nil {
		g.log.Errorf("record balance: %v", err)
	}
}

// Balance returns the most recent observed power balance.
func (g *Grid) Balance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balanceW
}

// PredictPower registers a forecast of generation and consumption starting
// future periods ahead, one entry per period. Forecasts replace the observed
// balance in capacity checks on windows they cover.
func (g *Grid) PredictPower(wattlist []float64, future int) {
	g.mu.Lock()
	for i, w := range wattlist {
		g.forecast[future+i] = w
	}
	g.mu.Unlock()
}

// ClaimPower runs the admission test for a claim over the window starting
// after from now and lasting period (open-ended when period is zero). It
// returns true when the claim is admitted. A false return is a normal "no
// capacity" outcome, not a fault, and leaves every other claim untouched.
func (g *Grid) ClaimPower(c *Claim, after, period time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if owner := c.ownedBy(); owner != nil && owner != g {
		g.log.Warnf("claim %s already owned by grid %s", c.name, owner.name)
		return false
	}
	if c.State() == StateRetracted {
		return false
	}
	for _, a := range g.claims {
		if a.claim == c {
			// Already tracked; admission does not re-enter.
			return c.State() == StateAdmitted
		}
	}

	now := g.now()
	start := now.Add(after)
	var end time.Time
	if period > 0 {
		end = start.Add(period)
	}
	cand := &admission{claim: c, start: start, end: end, at: now}

	plan := g.planLocked(cand, now)
	if plan == nil {
		g.publish(c, ClaimRejected, now)
		if err := g.sink.RecordAdmission(g.name, false); err != nil {
			g.log.Errorf("record admission: %v", err)
		}
		return false
	}
	if !g.commitLocked(plan, now) {
		g.publish(c, ClaimRejected, now)
		if err := g.sink.RecordAdmission(g.name, false); err != nil {
			g.log.Errorf("record admission: %v", err)
		}
		return false
	}

	c.setOwner(g)
	c.setState(StateAdmitted)
	g.claims = append(g.claims, cand)
	g.publish(c, ClaimAdmitted, now)
	if err := g.sink.RecordAdmission(g.name, true); err != nil {
		g.log.Errorf("record admission: %v", err)
	}
	g.log.Infof("admitted claim %s (priority %d)", c.name, c.PriorityAt(now))
	return true
}

// RetractClaim removes a previously admitted claim and relaxes capacity:
// suspended and delayed claims of lower priority are re-evaluated, highest
// priority first, repeatedly until a pass resumes nothing.
func (g *Grid) RetractClaim(c *Claim) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := false
	for i, a := range g.claims {
		if a.claim == c {
			g.claims = append(g.claims[:i], g.claims[i+1:]...)
			removed = true
			break
		}
	}
	c.setState(StateRetracted)
	g.publish(c, ClaimRetracted, now)
	if !removed {
		return
	}

	ceiling := c.PriorityAt(now)
	for {
		if !g.relaxOnceLocked(ceiling, now) {
			break
		}
	}
}

// relaxOnceLocked makes one resume pass and reports whether anything changed.
func (g *Grid) relaxOnceLocked(ceiling int, now time.Time) bool {
	parked := make([]*admission, 0, len(g.claims))
	for _, a := range g.claims {
		s := a.claim.State()
		if (s == StateSuspended || s == StateDelayed) && a.claim.PriorityAt(now) < ceiling {
			parked = append(parked, a)
		}
	}
	sort.SliceStable(parked, func(i, j int) bool {
		return parked[i].claim.PriorityAt(now) > parked[j].claim.PriorityAt(now)
	})

	changed := false
	for _, a := range parked {
		if !g.fitsRestoredLocked(a, now) {
			continue
		}
		var err error
		switch a.claim.State() {
		case StateSuspended:
			err = a.claim.resume()
		case StateDelayed:
			d := a.delay
			err = a.claim.removeDelay(d)
			if err == nil {
				a.delay = 0
				if !a.end.IsZero() {
					a.end = a.end.Add(-d)
				}
			}
		}
		if err != nil {
			g.log.Errorf("resume claim %s: %v", a.claim.name, err)
			continue
		}
		g.publish(a.claim, ClaimResumed, now)
		if serr := g.sink.RecordPreemption(g.name, "resume"); serr != nil {
			g.log.Errorf("record preemption: %v", serr)
		}
		changed = true
	}
	return changed
}

// fitsRestoredLocked checks whether restoring the parked claim keeps the
// projected total within capacity over its remaining window.
func (g *Grid) fitsRestoredLocked(a *admission, now time.Time) bool {
	start := a.start
	if start.Before(now) {
		start = now
	}
	end := g.windowEnd(start, a.end)
	restore := map[*admission]planAction{a: {kind: actionRestore}}
	total := g.baselineLocked(now, start, end) + g.loadLocked(start, end, now, restore, nil)
	return total <= g.opts.CapacityW+capacityEpsilon
}

const capacityEpsilon = 1e-9

type actionKind int

const (
	actionSuspend actionKind = iota
	actionDelay
	actionReset
	actionRestore
)

func (k actionKind) String() string {
	switch k {
	case actionSuspend:
		return "suspend"
	case actionDelay:
		return "delay"
	case actionReset:
		return "reset"
	default:
		return "restore"
	}
}

type planAction struct {
	kind    actionKind
	delayBy time.Duration
}

// plan couples the candidate admission with the preemptions required to fit
// it. A nil plan means the claim cannot be admitted.
type plan struct {
	actions []plannedPreemption
}

type plannedPreemption struct {
	target *admission
	action planAction
}

// planLocked decides whether the candidate fits, preempting lower-priority
// claims on paper only. No hook fires until the plan is committed, so a
// failed admission attempt leaves every claim untouched.
func (g *Grid) planLocked(cand *admission, now time.Time) *plan {
	start := cand.start
	end := g.windowEnd(start, cand.end)
	// The candidate is still pending; evaluate it as if admitted.
	need := g.claimLoad(cand, start, end, now, map[*admission]planAction{cand: {kind: actionRestore}})

	mods := make(map[*admission]planAction)
	fits := func() bool {
		total := g.baselineLocked(now, start, end) + need + g.loadLocked(start, end, now, mods, cand)
		return total <= g.opts.CapacityW+capacityEpsilon
	}
	if fits() {
		return &plan{}
	}

	prio := cand.claim.PriorityAt(now)
	targets := make([]*admission, 0, len(g.claims))
	for _, a := range g.claims {
		if a.claim.State() != StateAdmitted {
			continue
		}
		p := a.claim.PriorityAt(now)
		if p >= prio || p >= PriorityManualOverride {
			continue
		}
		targets = append(targets, a)
	}
	sort.SliceStable(targets, func(i, j int) bool {
		pi, pj := targets[i].claim.PriorityAt(now), targets[j].claim.PriorityAt(now)
		if pi != pj {
			return pi < pj
		}
		return targets[i].at.Before(targets[j].at)
	})

	var actions []plannedPreemption
	for _, a := range targets {
		flex := a.claim.Flexibility()
		var act planAction
		switch {
		case flex.Suspendable:
			act = planAction{kind: actionSuspend}
		case flex.Delayable:
			act = planAction{kind: actionDelay, delayBy: end.Sub(now)}
		case flex.Resettable:
			act = planAction{kind: actionReset}
		default:
			continue
		}
		mods[a] = act
		actions = append(actions, plannedPreemption{target: a, action: act})
		if fits() {
			return &plan{actions: actions}
		}
	}
	return nil
}

// commitLocked applies a plan's preemptions, resets last since a fired reset
// cannot be taken back. On a hook error the already-applied preemptions are
// rolled back and the commit reports failure.
func (g *Grid) commitLocked(p *plan, now time.Time) bool {
	ordered := make([]plannedPreemption, 0, len(p.actions))
	for _, a := range p.actions {
		if a.action.kind != actionReset {
			ordered = append(ordered, a)
		}
	}
	for _, a := range p.actions {
		if a.action.kind == actionReset {
			ordered = append(ordered, a)
		}
	}

	for i, pp := range ordered {
		if err := g.applyLocked(pp, now); err != nil {
			g.log.Errorf("preempt claim %s (%s): %v", pp.target.claim.name, pp.action.kind, err)
			g.rollbackLocked(ordered[:i], now)
			return false
		}
	}
	return true
}

func (g *Grid) applyLocked(pp plannedPreemption, now time.Time) error {
	a, act := pp.target, pp.action
	var err error
	var ev ClaimAction
	switch act.kind {
	case actionSuspend:
		err = a.claim.suspend()
		ev = ClaimSuspended
	case actionDelay:
		err = a.claim.applyDelay(act.delayBy)
		if err == nil {
			a.delay += act.delayBy
			// The postponed consumption lands past the original window;
			// stretch it so later admissions still budget the claim.
			if !a.end.IsZero() {
				a.end = a.end.Add(act.delayBy)
			}
		}
		ev = ClaimDelayed
	case actionReset:
		err = a.claim.resetCurve(now)
		ev = ClaimReset
	}
	if err != nil {
		return err
	}
	g.publish(a.claim, ev, now)
	if serr := g.sink.RecordPreemption(g.name, act.kind.String()); serr != nil {
		g.log.Errorf("record preemption: %v", serr)
	}
	return nil
}

func (g *Grid) rollbackLocked(applied []plannedPreemption, now time.Time) {
	for i := len(applied) - 1; i >= 0; i-- {
		pp := applied[i]
		var err error
		switch pp.action.kind {
		case actionSuspend:
			err = pp.target.claim.resume()
		case actionDelay:
			err = pp.target.claim.removeDelay(pp.action.delayBy)
			if err == nil {
				pp.target.delay -= pp.action.delayBy
				if !pp.target.end.IsZero() {
					pp.target.end = pp.target.end.Add(-pp.action.delayBy)
				}
			}
		case actionReset:
			// A fired reset is unrecoverable; resets are committed last
			// so this branch is unreachable.
		}
		if err != nil {
			g.log.Errorf("rollback claim %s: %v", pp.target.claim.name, err)
		}
	}
}

// windowEnd resolves an open-ended window against the horizon.
func (g *Grid) windowEnd(start, end time.Time) time.Time {
	if end.IsZero() {
		return start.Add(time.Duration(g.opts.Horizon) * g.opts.Period)
	}
	return end
}

// baselineLocked is the background power for a window, evaluated per period:
// the forecast value where one covers the period, the latest balance reading
// elsewhere. The worst period wins.
func (g *Grid) baselineLocked(now, start, end time.Time) float64 {
	first := int(start.Sub(now) / g.opts.Period)
	if first < 0 {
		first = 0
	}
	worst := math.Inf(-1)
	for k := first; now.Add(time.Duration(k)*g.opts.Period).Before(end); k++ {
		w, ok := g.forecast[k]
		if !ok {
			w = g.balanceW
		}
		if w > worst {
			worst = w
		}
	}
	if math.IsInf(worst, -1) {
		return g.balanceW
	}
	return worst
}

// loadLocked sums the demand contributions of every tracked claim over the
// window, applying planned-but-uncommitted preemptions from mods and
// skipping the candidate itself.
func (g *Grid) loadLocked(start, end time.Time, now time.Time, mods map[*admission]planAction, skip *admission) float64 {
	var total float64
	for _, a := range g.claims {
		if a == skip {
			continue
		}
		total += g.claimLoad(a, start, end, now, mods)
	}
	return total
}

// claimLoad is a single claim's worst-case contribution over the window at
// the grid's confidence level.
func (g *Grid) claimLoad(a *admission, start, end, now time.Time, mods map[*admission]planAction) float64 {
	state := a.claim.State()
	var extraDelay time.Duration
	restartAt := time.Time{}
	if act, ok := mods[a]; ok {
		switch act.kind {
		case actionSuspend:
			return 0
		case actionDelay:
			extraDelay = act.delayBy
		case actionReset:
			restartAt = now
		case actionRestore:
			state = StateAdmitted
			if a.delay > 0 {
				extraDelay = -a.delay
			}
		}
	} else if state == StateSuspended {
		return 0
	}
	if state == StateRetracted || state == StatePending {
		return 0
	}

	ws := start
	if a.start.After(ws) {
		ws = a.start
	}
	we := g.windowEnd(a.start, a.end)
	if we.After(end) {
		we = end
	}
	if !we.After(ws) {
		return 0
	}

	worst := math.Inf(-1)
	for ts := ws; ts.Before(we); ts = ts.Add(g.opts.Period) {
		var d Demand
		if !restartAt.IsZero() {
			if ts.Before(restartAt) {
				continue
			}
			d = a.claim.demand(ts.Sub(restartAt))
		} else {
			d = a.claim.demandShifted(ts, extraDelay)
		}
		if q := g.quantile(d); q > worst {
			worst = q
		}
	}
	if math.IsInf(worst, -1) {
		return 0
	}
	return worst
}

// quantile is the watts the demand stays under at the grid's confidence.
func (g *Grid) quantile(d Demand) float64 {
	if d.StdDevW <= 0 {
		return d.MeanW
	}
	n := distuv.Normal{Mu: d.MeanW, Sigma: d.StdDevW}
	return n.Quantile(g.opts.Confidence)
}

func (g *Grid) publish(c *Claim, action ClaimAction, now time.Time) {
	g.events.Publish(ClaimEvent{
		Grid:     g.name,
		ClaimID:  c.id,
		Name:     c.name,
		Action:   action,
		Priority: c.PriorityAt(now),
		Time:     now,
	})
}
