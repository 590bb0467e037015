package metrics

import coremetrics "github.com/groengemak/solgrid/core/metrics"

// MultiSink fans every observation out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAdmission forwards to all sinks, returning the first error.
func (m *MultiSink) RecordAdmission(grid string, admitted bool) error {
	for _, s := range m.Sinks {
		if err := s.RecordAdmission(grid, admitted); err != nil {
			return err
		}
	}
	return nil
}

// RecordPreemption forwards to all sinks, returning the first error.
func (m *MultiSink) RecordPreemption(grid, kind string) error {
	for _, s := range m.Sinks {
		if err := s.RecordPreemption(grid, kind); err != nil {
			return err
		}
	}
	return nil
}

// RecordBalance forwards to all sinks, returning the first error.
func (m *MultiSink) RecordBalance(grid string, watts float64) error {
	for _, s := range m.Sinks {
		if err := s.RecordBalance(grid, watts); err != nil {
			return err
		}
	}
	return nil
}

// RecordPollCycle forwards to all sinks, returning the first error.
func (m *MultiSink) RecordPollCycle(bus string, failures int) error {
	for _, s := range m.Sinks {
		if err := s.RecordPollCycle(bus, failures); err != nil {
			return err
		}
	}
	return nil
}

// RecordDeviceValue forwards to all sinks, returning the first error.
func (m *MultiSink) RecordDeviceValue(bus, device string, value float64) error {
	for _, s := range m.Sinks {
		if err := s.RecordDeviceValue(bus, device, value); err != nil {
			return err
		}
	}
	return nil
}
