package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groengemak/solgrid/core/grid"
)

// mockClient implements pahoClient for tests.
type mockClient struct {
	connectErr error
	publishErr error
	published  []struct {
		topic   string
		qos     byte
		payload []byte
	}
	disconnected bool
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	return &dummyToken{err: m.connectErr}
}
func (m *mockClient) Disconnect(uint) { m.disconnected = true }
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.published = append(m.published, struct {
		topic   string
		qos     byte
		payload []byte
	}{topic, qos, payload.([]byte)})
	return &dummyToken{err: m.publishErr}
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

func withMockClient(t *testing.T, mc *mockClient) {
	t.Helper()
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return mc }
	t.Cleanup(func() { newMQTTClient = orig })
}

func TestConfigDefaults(t *testing.T) {
	c := Config{Broker: "tcp://localhost:1883"}
	c.SetDefaults()
	assert.Equal(t, "solgrid", c.ClientID)
	assert.Equal(t, "solgrid", c.TopicPrefix)
	assert.True(t, c.Enabled())
	assert.False(t, Config{}.Enabled())
}

func TestNewFailsOnConnectError(t *testing.T) {
	withMockClient(t, &mockClient{connectErr: errors.New("refused")})
	_, err := New(Config{Broker: "tcp://localhost:1883"})
	assert.Error(t, err)
}

func TestPublishClaimEvent(t *testing.T) {
	mc := &mockClient{}
	withMockClient(t, mc)
	p, err := New(Config{Broker: "tcp://localhost:1883", TopicPrefix: "field", QoS: 1})
	require.NoError(t, err)

	ev := grid.ClaimEvent{
		Grid:     "home",
		ClaimID:  "c1",
		Name:     "boiler",
		Action:   grid.ClaimAdmitted,
		Priority: 5,
		Time:     time.Now(),
	}
	require.NoError(t, p.PublishClaimEvent(ev))

	require.Len(t, mc.published, 1)
	assert.Equal(t, "field/grid/home/claims", mc.published[0].topic)
	assert.Equal(t, byte(1), mc.published[0].qos)

	var got grid.ClaimEvent
	require.NoError(t, json.Unmarshal(mc.published[0].payload, &got))
	assert.Equal(t, "boiler", got.Name)
	assert.Equal(t, grid.ClaimAdmitted, got.Action)
}

func TestPublishBalance(t *testing.T) {
	mc := &mockClient{}
	withMockClient(t, mc)
	p, err := New(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)

	require.NoError(t, p.PublishBalance(grid.BalanceEvent{Grid: "home", Watts: -320}))
	require.Len(t, mc.published, 1)
	assert.Equal(t, "solgrid/grid/home/balance", mc.published[0].topic)

	var got grid.BalanceEvent
	require.NoError(t, json.Unmarshal(mc.published[0].payload, &got))
	assert.Equal(t, -320.0, got.Watts)
}

func TestPublishErrorSurfaces(t *testing.T) {
	mc := &mockClient{publishErr: errors.New("net fail")}
	withMockClient(t, mc)
	p, err := New(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	assert.Error(t, p.PublishBalance(grid.BalanceEvent{Grid: "home"}))
}

func TestDisconnect(t *testing.T) {
	mc := &mockClient{}
	withMockClient(t, mc)
	p, err := New(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	p.Disconnect()
	assert.True(t, mc.disconnected)
}
