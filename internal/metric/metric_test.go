package metric

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/bridge"
)

var _ bridge.Metrics = (*Metrics)(nil)

func TestCounters(t *testing.T) {
	m := NewMetrics()

	m.Published(bridge.OutcomeRouted)
	m.Published(bridge.OutcomeRouted)
	m.Published(bridge.OutcomeDenied)
	m.Delivered(bridge.OutcomeDropped)
	m.Subscribed(bridge.OutcomeCreated)
	m.SubscriptionsChanged(3)
	m.SubscriptionsChanged(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Publishes.WithLabelValues(bridge.OutcomeRouted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Publishes.WithLabelValues(bridge.OutcomeDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(bridge.OutcomeDropped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Subscribes.WithLabelValues(bridge.OutcomeCreated)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Subscriptions))
}

func TestConnections(t *testing.T) {
	m := NewMetrics()
	m.ConnectionOpened("5.0")
	m.ConnectionOpened("5.0")
	m.ConnectionOpened("3.1.1")
	m.ConnectionClosed("5.0")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("5.0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("3.1.1")))

	expected := `
# HELP mqtt_bridge_connections Live MQTT connections by protocol version
# TYPE mqtt_bridge_connections gauge
mqtt_bridge_connections{protocol="3.1.1"} 1
mqtt_bridge_connections{protocol="5.0"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "mqtt_bridge_connections"))
}
