package metrics

// Sink receives scheduling and polling observations. Implementations live in
// infra/metrics; NopSink keeps callers free of nil checks.
type Sink interface {
	// RecordAdmission counts one admission decision for the named grid.
	RecordAdmission(grid string, admitted bool) error
	// RecordPreemption counts one preemption of the given kind (suspend,
	// delay, reset, resume).
	RecordPreemption(grid, kind string) error
	// RecordBalance stores the latest observed power balance in watts.
	RecordBalance(grid string, watts float64) error
	// RecordPollCycle counts one poll cycle of the named bus and how many
	// device reads failed during it.
	RecordPollCycle(bus string, failures int) error
	// RecordDeviceValue stores the most recent value polled from a device.
	RecordDeviceValue(bus, device string, value float64) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordAdmission(string, bool) error              { return nil }
func (NopSink) RecordPreemption(string, string) error           { return nil }
func (NopSink) RecordBalance(string, float64) error             { return nil }
func (NopSink) RecordPollCycle(string, int) error               { return nil }
func (NopSink) RecordDeviceValue(string, string, float64) error { return nil }
