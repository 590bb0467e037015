package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	count int
}

func (r *recordSink) RecordAdmission(string, bool) error              { r.count++; return nil }
func (r *recordSink) RecordPreemption(string, string) error           { r.count++; return nil }
func (r *recordSink) RecordBalance(string, float64) error             { r.count++; return nil }
func (r *recordSink) RecordPollCycle(string, int) error               { r.count++; return nil }
func (r *recordSink) RecordDeviceValue(string, string, float64) error { r.count++; return nil }

func TestMultiSinkForwardsToAllSinks(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)

	require.NoError(t, m.RecordAdmission("home", true))
	require.NoError(t, m.RecordPreemption("home", "delay"))
	require.NoError(t, m.RecordBalance("home", 100))
	require.NoError(t, m.RecordPollCycle("shed", 0))
	require.NoError(t, m.RecordDeviceValue("shed", "pump", 1))

	assert.Equal(t, 5, s1.count)
	assert.Equal(t, 5, s2.count)
}
