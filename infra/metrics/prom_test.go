package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sinkIf, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	sink := sinkIf.(*PromSink)

	require.NoError(t, sink.RecordAdmission("home", true))
	require.NoError(t, sink.RecordAdmission("home", false))
	require.NoError(t, sink.RecordAdmission("home", false))

	expected := `
# HELP grid_admissions_total Total number of power claim admission decisions
# TYPE grid_admissions_total counter
grid_admissions_total{admitted="false",grid="home"} 2
grid_admissions_total{admitted="true",grid="home"} 1
`
	require.NoError(t, testutil.CollectAndCompare(sink.admissions, strings.NewReader(expected)))

	require.NoError(t, sink.RecordBalance("home", 740.5))
	expectedBalance := `
# HELP grid_power_balance_watts Latest observed power balance per grid
# TYPE grid_power_balance_watts gauge
grid_power_balance_watts{grid="home"} 740.5
`
	require.NoError(t, testutil.CollectAndCompare(sink.balance, strings.NewReader(expectedBalance)))

	require.NoError(t, sink.RecordPollCycle("shed", 2))
	require.NoError(t, sink.RecordPollCycle("shed", 0))
	expectedCycles := `
# HELP bus_poll_cycles_total Total number of completed poll cycles per bus
# TYPE bus_poll_cycles_total counter
bus_poll_cycles_total{bus="shed"} 2
`
	require.NoError(t, testutil.CollectAndCompare(sink.pollCycles, strings.NewReader(expectedCycles)))
	expectedFailures := `
# HELP bus_poll_failures_total Total number of failed device reads during polling
# TYPE bus_poll_failures_total counter
bus_poll_failures_total{bus="shed"} 2
`
	require.NoError(t, testutil.CollectAndCompare(sink.pollFailures, strings.NewReader(expectedFailures)))

	require.NoError(t, sink.RecordPreemption("home", "suspend"))
	require.NoError(t, sink.RecordDeviceValue("shed", "pump", 1))
	require.Equal(t, 1, testutil.CollectAndCount(sink.preemptions))
	require.Equal(t, 1, testutil.CollectAndCount(sink.deviceValue))
}

func TestPromSinkRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	// A second sink on the same registry adopts the existing collectors.
	sinkIf, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, sinkIf.RecordAdmission("home", true))
}
