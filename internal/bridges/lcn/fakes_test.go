package lcn_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-lcn/internal/bridges/lcn"
	"github.com/nerrad567/gray-logic-lcn/internal/bridges/lcn/lcntest"
	"github.com/nerrad567/gray-logic-lcn/internal/device"
	"github.com/nerrad567/gray-logic-lcn/internal/hub"
	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/mqtt"
)

// fakeMQTT records publishes and keeps subscribed handlers so tests can
// deliver messages.
type fakeMQTT struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]mqtt.MessageHandler
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeMQTT) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeMQTT) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[topic]
	return ok
}

func (f *fakeMQTT) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// deliver encodes msg and passes it to the handler of topic.
func (f *fakeMQTT) deliver(t *testing.T, topic string, msg any) error {
	t.Helper()

	f.mu.Lock()
	handler, ok := f.handlers[topic]
	f.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)

	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return handler(topic, payload)
}

// last decodes the latest message published on topic into v.
func (f *fakeMQTT) last(t *testing.T, topic string, v any) publishedMessage {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].topic == topic {
			require.NoError(t, json.Unmarshal(f.published[i].payload, v))
			return f.published[i]
		}
	}
	t.Fatalf("nothing published on %s", topic)
	return publishedMessage{}
}

func (f *fakeMQTT) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.published {
		if p.topic == topic {
			n++
		}
	}
	return n
}

// fakeTelemetry records metric points.
type fakeTelemetry struct {
	mu     sync.Mutex
	points map[string]float64 // deviceID/measurement -> last value
}

func newFakeTelemetry() *fakeTelemetry {
	return &fakeTelemetry{points: make(map[string]float64)}
}

func (f *fakeTelemetry) WriteDeviceMetric(deviceID, measurement string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[deviceID+"/"+measurement] = value
}

func (f *fakeTelemetry) value(deviceID, measurement string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.points[deviceID+"/"+measurement]
	return v, ok
}

// testEnv is an integration loaded with one fixture entry.
type testEnv struct {
	hub   *hub.Hub
	integ *lcn.Integration
	entry *hub.ConfigEntry
	mgr   *lcntest.MockConnectionManager
	mqtt  *fakeMQTT
	tsdb  *fakeTelemetry
}

func setupEnv(t *testing.T, entry *hub.ConfigEntry) *testEnv {
	t.Helper()

	env := &testEnv{
		hub:   lcntest.NewHub(t),
		entry: entry,
		mqtt:  newFakeMQTT(),
		tsdb:  newFakeTelemetry(),
	}
	env.integ = lcn.New(lcn.Options{
		NewConnection: lcntest.NewMockConnection,
		MQTT:          env.mqtt,
		Telemetry:     env.tsdb,
	})
	require.NoError(t, env.hub.RegisterIntegration(env.integ))

	env.mgr = lcntest.InitIntegration(t, env.hub, entry)
	return env
}

func (env *testEnv) uid(addr string, resource string) string {
	_, a, err := lcn.ParseTargetAddress(addr)
	if err != nil {
		panic(err)
	}
	return lcn.GenerateUniqueID(env.entry.EntryID, a, resource)
}

func (env *testEnv) entity(t *testing.T, addr, resource string) *lcn.Entity {
	t.Helper()
	e, err := env.integ.Entity(env.uid(addr, resource))
	require.NoError(t, err)
	return e
}

// deviceIdent is the registry identifier of an entry's PCHK device.
func deviceIdent(entryID string) device.Identifier {
	return device.Identifier{Domain: lcn.Domain, ID: entryID}
}
