package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groengemak/solgrid/core/grid"
)

// fakeDevice is an in-memory Device with switchable failure injection.
type fakeDevice struct {
	mu        sync.Mutex
	value     float64
	readable  bool
	writeable bool
	readErr   error
	writeErr  error
	reads     int
	writes    int
}

func (d *fakeDevice) Get() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.readErr != nil {
		return 0, d.readErr
	}
	return d.value, nil
}

func (d *fakeDevice) Set(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	if d.writeErr != nil {
		return d.writeErr
	}
	d.value = v
	return nil
}

func (d *fakeDevice) Readable() bool  { return d.readable }
func (d *fakeDevice) Writeable() bool { return d.writeable }

func (d *fakeDevice) readCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

func (d *fakeDevice) fail(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

func testBus(t *testing.T) *Bus {
	t.Helper()
	g := grid.New("home", grid.Options{CapacityW: 1000, Period: time.Millisecond})
	return New("shed", g, Options{})
}

func TestAddDeviceRejectsDuplicates(t *testing.T) {
	b := testBus(t)
	require.NoError(t, b.AddDevice("pump", &fakeDevice{readable: true}))
	err := b.AddDevice("pump", &fakeDevice{readable: true})
	assert.ErrorIs(t, err, ErrDuplicateDevice)
	assert.Equal(t, []string{"pump"}, b.Devices())
}

func TestGetReadsOnceThenServesCache(t *testing.T) {
	b := testBus(t)
	dev := &fakeDevice{value: 21.5, readable: true}
	require.NoError(t, b.AddDevice("temp", dev))

	v, err := b.Get("temp")
	require.NoError(t, err)
	assert.Equal(t, 21.5, v)

	// Second read is served from the cache even if the device changed.
	dev.value = 99
	v, err = b.Get("temp")
	require.NoError(t, err)
	assert.Equal(t, 21.5, v)
	assert.Equal(t, 1, dev.readCount())
}

func TestGetUnknownDevice(t *testing.T) {
	b := testBus(t)
	_, err := b.Get("ghost")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestSetRequiresWriteCapability(t *testing.T) {
	b := testBus(t)
	require.NoError(t, b.AddDevice("meter", &fakeDevice{readable: true}))
	err := b.Set("meter", 1)
	assert.ErrorIs(t, err, ErrNotWriteable)
}

func TestSetUpdatesCacheOptimistically(t *testing.T) {
	b := testBus(t)
	dev := &fakeDevice{readable: true, writeable: true}
	require.NoError(t, b.AddDevice("valve", dev))

	require.NoError(t, b.Set("valve", 42))
	v, err := b.Get("valve")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
	assert.Zero(t, dev.readCount(), "set must not trigger a read-back")
}

func TestPollIsolatesDeviceFailures(t *testing.T) {
	b := testBus(t)
	good1 := &fakeDevice{value: 1, readable: true}
	bad := &fakeDevice{value: 2, readable: true}
	good2 := &fakeDevice{value: 3, readable: true}
	require.NoError(t, b.AddDevice("good1", good1))
	require.NoError(t, b.AddDevice("bad", bad))
	require.NoError(t, b.AddDevice("good2", good2))

	b.Poll()
	v, _ := b.Get("bad")
	require.Equal(t, 2.0, v)

	// The faulty device keeps its previous cached value, the others update.
	bad.fail(errors.New("bus collision"))
	good1.value = 10
	good2.value = 30
	b.Poll()

	v, err := b.Get("good1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
	v, err = b.Get("bad")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	v, err = b.Get("good2")
	require.NoError(t, err)
	assert.Equal(t, 30.0, v)
}

func TestPollSkipsWriteOnlyDevices(t *testing.T) {
	b := testBus(t)
	dev := &fakeDevice{writeable: true}
	require.NoError(t, b.AddDevice("relay", dev))
	b.Poll()
	assert.Zero(t, dev.readCount())
}

func TestModeLifecycle(t *testing.T) {
	b := testBus(t)
	require.NoError(t, b.AddDevice("heater", &fakeDevice{readable: true}))

	m, err := b.Mode("heater")
	require.NoError(t, err)
	assert.Equal(t, ModeInit, m)

	require.NoError(t, b.SetMode("heater", ModeManual))
	m, err = b.Mode("heater")
	require.NoError(t, err)
	assert.Equal(t, ModeManual, m)
	assert.Equal(t, "man", m.String())

	assert.ErrorIs(t, b.SetMode("ghost", ModeOn), ErrUnknownDevice)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	b := testBus(t)
	dev := &fakeDevice{value: 5, readable: true}
	require.NoError(t, b.AddDevice("sensor", dev))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		return dev.readCount() >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop after cancellation")
	}
}

func TestBusAttachesToGrid(t *testing.T) {
	g := grid.New("home", grid.Options{CapacityW: 1000})
	b := New("shed", g, Options{})
	require.Len(t, g.Buses(), 1)
	assert.Equal(t, b.Name(), g.Buses()[0].Name())
	assert.Equal(t, g.Period(), b.Period())
}
