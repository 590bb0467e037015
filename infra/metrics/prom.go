package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/groengemak/solgrid/core/metrics"
)

// PromSink records grid scheduling and bus polling observations in
// Prometheus metrics.
type PromSink struct {
	admissions   *prometheus.CounterVec
	preemptions  *prometheus.CounterVec
	balance      *prometheus.GaugeVec
	pollCycles   *prometheus.CounterVec
	pollFailures *prometheus.CounterVec
	deviceValue  *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The Prometheus server is started separately with StartPromServer.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_admissions_total",
		Help: "Total number of power claim admission decisions",
	}, []string{"grid", "admitted"})
	preemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_preemptions_total",
		Help: "Total number of claim preemptions by kind",
	}, []string{"grid", "kind"})
	balance := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grid_power_balance_watts",
		Help: "Latest observed power balance per grid",
	}, []string{"grid"})
	pollCycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_poll_cycles_total",
		Help: "Total number of completed poll cycles per bus",
	}, []string{"bus"})
	pollFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_poll_failures_total",
		Help: "Total number of failed device reads during polling",
	}, []string{"bus"})
	deviceValue := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bus_device_value",
		Help: "Most recent value polled from a device",
	}, []string{"bus", "device"})

	s := &PromSink{
		admissions:   admissions,
		preemptions:  preemptions,
		balance:      balance,
		pollCycles:   pollCycles,
		pollFailures: pollFailures,
		deviceValue:  deviceValue,
	}
	if err := register(reg, &s.admissions); err != nil {
		return nil, err
	}
	if err := register(reg, &s.preemptions); err != nil {
		return nil, err
	}
	if err := registerGauge(reg, &s.balance); err != nil {
		return nil, err
	}
	if err := register(reg, &s.pollCycles); err != nil {
		return nil, err
	}
	if err := register(reg, &s.pollFailures); err != nil {
		return nil, err
	}
	if err := registerGauge(reg, &s.deviceValue); err != nil {
		return nil, err
	}
	return s, nil
}

// register tolerates re-registration by adopting the existing collector.
func register(reg prometheus.Registerer, c **prometheus.CounterVec) error {
	if err := reg.Register(*c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		*c = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return nil
}

func registerGauge(reg prometheus.Registerer, g **prometheus.GaugeVec) error {
	if err := reg.Register(*g); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		*g = are.ExistingCollector.(*prometheus.GaugeVec)
	}
	return nil
}

// RecordAdmission increments the admission counter.
func (s *PromSink) RecordAdmission(grid string, admitted bool) error {
	s.admissions.WithLabelValues(grid, strconv.FormatBool(admitted)).Inc()
	return nil
}

// RecordPreemption increments the preemption counter for the given kind.
func (s *PromSink) RecordPreemption(grid, kind string) error {
	s.preemptions.WithLabelValues(grid, kind).Inc()
	return nil
}

// RecordBalance sets the balance gauge.
func (s *PromSink) RecordBalance(grid string, watts float64) error {
	s.balance.WithLabelValues(grid).Set(watts)
	return nil
}

// RecordPollCycle counts one poll cycle and its failed reads.
func (s *PromSink) RecordPollCycle(bus string, failures int) error {
	s.pollCycles.WithLabelValues(bus).Inc()
	if failures > 0 {
		s.pollFailures.WithLabelValues(bus).Add(float64(failures))
	}
	return nil
}

// RecordDeviceValue sets the device value gauge.
func (s *PromSink) RecordDeviceValue(bus, device string, value float64) error {
	s.deviceValue.WithLabelValues(bus, device).Set(value)
	return nil
}
