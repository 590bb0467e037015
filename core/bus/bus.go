package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/groengemak/solgrid/core/grid"
	"github.com/groengemak/solgrid/core/logger"
	"github.com/groengemak/solgrid/core/metrics"
)

var (
	ErrUnknownDevice   = errors.New("bus: unknown device")
	ErrDuplicateDevice = errors.New("bus: device name already registered")
	ErrNotReadable     = errors.New("bus: device is not readable")
	ErrNotWriteable    = errors.New("bus: device is not writeable")
)

// Options configures a Bus. Zero values fall back to no-op implementations.
type Options struct {
	Logger  logger.Logger
	Metrics metrics.Sink
}

type entry struct {
	dev  Device
	mode Mode
}

// Bus owns a registry of named devices and their cached values. It belongs
// to exactly one grid and inherits its sampling period from it. Cache and
// registry access is mutex-guarded so the poll loop, get/set callers and the
// scheduler can run on independent goroutines.
type Bus struct {
	name   string
	grid   *grid.Grid
	period time.Duration
	log    logger.Logger
	sink   metrics.Sink

	mu      sync.Mutex
	devices map[string]*entry
	order   []string
	cache   map[string]float64
}

// New creates a Bus attached to the given grid.
func New(name string, g *grid.Grid, opts Options) *Bus {
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NopSink{}
	}
	b := &Bus{
		name:    name,
		grid:    g,
		period:  g.Period(),
		log:     opts.Logger,
		sink:    opts.Metrics,
		devices: make(map[string]*entry),
		cache:   make(map[string]float64),
	}
	g.AddBus(b)
	return b
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

// Grid returns the grid this bus belongs to.
func (b *Bus) Grid() *grid.Grid { return b.grid }

// Period returns the sampling period inherited from the grid.
func (b *Bus) Period() time.Duration { return b.period }

// AddDevice registers a device under a unique name. New devices start in
// mode init with no cached value.
func (b *Bus) AddDevice(name string, d Device) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.devices[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, name)
	}
	b.devices[name] = &entry{dev: d, mode: ModeInit}
	b.order = append(b.order, name)
	return nil
}

// Devices returns the registered device names in registration order.
func (b *Bus) Devices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Get returns the device's last polled value, or performs a fresh read and
// caches it when no value has been polled yet.
func (b *Bus) Get(name string) (float64, error) {
	b.mu.Lock()
	e, ok := b.devices[name]
	if !ok {
		b.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	if v, ok := b.cache[name]; ok {
		b.mu.Unlock()
		return v, nil
	}
	b.mu.Unlock()

	if !e.dev.Readable() {
		return 0, fmt.Errorf("%w: %s", ErrNotReadable, name)
	}
	v, err := e.dev.Get()
	if err != nil {
		return 0, fmt.Errorf("read device %s: %w", name, err)
	}
	b.mu.Lock()
	b.cache[name] = v
	b.mu.Unlock()
	return v, nil
}

// Set writes a value to a writeable device and updates the cache
// optimistically, without waiting for the next poll to confirm it.
func (b *Bus) Set(name string, v float64) error {
	b.mu.Lock()
	e, ok := b.devices[name]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	if !e.dev.Writeable() {
		return fmt.Errorf("%w: %s", ErrNotWriteable, name)
	}
	if err := e.dev.Set(v); err != nil {
		return fmt.Errorf("write device %s: %w", name, err)
	}
	b.mu.Lock()
	b.cache[name] = v
	b.mu.Unlock()
	return nil
}

// Mode returns the device's informational operating mode.
func (b *Bus) Mode(name string) (Mode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.devices[name]
	if !ok {
		return ModeInit, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return e.mode, nil
}

// SetMode records the device's operating mode. The bus does not act on it.
func (b *Bus) SetMode(name string, m Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.devices[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	e.mode = m
	return nil
}

// Poll reads every readable device once. A failed read is logged and
// skipped; the device keeps its previous cached value and the cycle
// continues with the remaining devices.
func (b *Bus) Poll() {
	b.mu.Lock()
	names := make([]string, len(b.order))
	copy(names, b.order)
	b.mu.Unlock()

	failures := 0
	for _, name := range names {
		b.mu.Lock()
		e, ok := b.devices[name]
		b.mu.Unlock()
		if !ok || !e.dev.Readable() {
			continue
		}
		v, err := e.dev.Get()
		if err != nil {
			failures++
			b.log.Warnf("poll device %s: %v", name, err)
			continue
		}
		b.mu.Lock()
		b.cache[name] = v
		b.mu.Unlock()
		if serr := b.sink.RecordDeviceValue(b.name, name, v); serr != nil {
			b.log.Errorf("record device value: %v", serr)
		}
	}
	if serr := b.sink.RecordPollCycle(b.name, failures); serr != nil {
		b.log.Errorf("record poll cycle: %v", serr)
	}
	b.log.Debugw("poll cycle complete", map[string]any{
		"bus":      b.name,
		"devices":  len(names),
		"failures": failures,
	})
}

// Run polls immediately and then once per sampling period until the context
// is cancelled. It returns the context's error.
func (b *Bus) Run(ctx context.Context) error {
	b.log.Infof("bus %s polling every %s", b.name, b.period)
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	b.Poll()
	for {
		select {
		case <-ctx.Done():
			b.log.Infof("bus %s poll loop stopped", b.name)
			return ctx.Err()
		case <-ticker.C:
			b.Poll()
		}
	}
}
