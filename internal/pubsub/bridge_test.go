package pubsub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debugconsole/internal/logging"
	"debugconsole/internal/protocol"
)

type owner string

func (o owner) ID() string { return string(o) }

type delivered struct {
	owner string
	msg   protocol.PubSubMessage
}

type sinkRecorder struct {
	mu  sync.Mutex
	got []delivered
}

func (s *sinkRecorder) DeliverPubSub(o Owner, msg protocol.PubSubMessage) {
	s.mu.Lock()
	s.got = append(s.got, delivered{owner: o.ID(), msg: msg})
	s.mu.Unlock()
}

func (s *sinkRecorder) all() []delivered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivered(nil), s.got...)
}

type countingMetrics struct {
	mu    sync.Mutex
	value int
}

func (m *countingMetrics) PubSubChanged(delta int) {
	m.mu.Lock()
	m.value += delta
	m.mu.Unlock()
}

// failingUpstream wraps a Bus and fails selected operations.
type failingUpstream struct {
	*Bus
	publishErr     error
	subscribeErr   error
	unsubscribeErr error
	subscribes     int
}

func (f *failingUpstream) Subscribe(topic string, h Handler) (Token, error) {
	f.subscribes++
	if f.subscribeErr != nil {
		return "", f.subscribeErr
	}
	return f.Bus.Subscribe(topic, h)
}

func (f *failingUpstream) Publish(topic string, payload []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	return f.Bus.Publish(topic, payload)
}

func (f *failingUpstream) Unsubscribe(token Token) error {
	_ = f.Bus.Unsubscribe(token)
	return f.unsubscribeErr
}

func newTestBridge(up Upstream) (*Bridge, *sinkRecorder, *countingMetrics) {
	sink := &sinkRecorder{}
	metrics := &countingMetrics{}
	return NewBridge(up, sink, WithBridgeLogger(logging.Nop()), WithBridgeMetrics(metrics)), sink, metrics
}

func TestBridgeDeliversPointToPoint(t *testing.T) {
	bus := NewBus()
	bridge, sink, _ := newTestBridge(bus)

	_, err := bridge.Subscribe(owner("a"), "sensors/+")
	require.NoError(t, err)
	_, err = bridge.Subscribe(owner("b"), "other")
	require.NoError(t, err)

	require.NoError(t, bridge.Publish("sensors/kitchen", []byte("21C")))

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].owner)
	assert.Equal(t, protocol.PubSubMessage{Topic: "sensors/+", Subtopic: "sensors/kitchen", Payload: "21C"}, got[0].msg)
}

func TestBridgeSubscribeIsIdempotent(t *testing.T) {
	up := &failingUpstream{Bus: NewBus()}
	bridge, sink, metrics := newTestBridge(up)

	created, err := bridge.Subscribe(owner("a"), "t")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = bridge.Subscribe(owner("a"), "t")
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, up.subscribes)
	assert.Equal(t, 1, up.Len())
	assert.Equal(t, 1, metrics.value)

	require.NoError(t, bridge.Publish("t", []byte("once")))
	assert.Len(t, sink.all(), 1)
}

func TestBridgeSubscribeFailureLeavesNoEntry(t *testing.T) {
	up := &failingUpstream{Bus: NewBus(), subscribeErr: errors.New("broker offline")}
	bridge, _, metrics := newTestBridge(up)

	_, err := bridge.Subscribe(owner("a"), "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker offline")
	assert.Empty(t, bridge.Topics("a"))
	assert.Equal(t, 0, bridge.Owners())
	assert.Equal(t, 0, metrics.value)
}

func TestBridgePublishReturnsUpstreamError(t *testing.T) {
	up := &failingUpstream{Bus: NewBus(), publishErr: errors.New("quota exceeded")}
	bridge, _, _ := newTestBridge(up)

	err := bridge.Publish("t", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestBridgeUnsubscribe(t *testing.T) {
	bus := NewBus()
	bridge, sink, metrics := newTestBridge(bus)

	_, err := bridge.Subscribe(owner("a"), "t1")
	require.NoError(t, err)
	_, err = bridge.Subscribe(owner("a"), "t2")
	require.NoError(t, err)

	removed, err := bridge.Unsubscribe("a", "t1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"t2"}, bridge.Topics("a"))

	removed, err = bridge.Unsubscribe("a", "t1")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = bridge.Unsubscribe("a", "t2")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, bridge.Owners())
	assert.Equal(t, 0, bus.Len())
	assert.Equal(t, 0, metrics.value)

	require.NoError(t, bridge.Publish("t1", []byte("x")))
	assert.Empty(t, sink.all())
}

func TestBridgeCloseRevokesEverything(t *testing.T) {
	up := &failingUpstream{Bus: NewBus()}
	bridge, _, metrics := newTestBridge(up)

	for _, topic := range []string{"a", "b", "c"} {
		_, err := bridge.Subscribe(owner("x"), topic)
		require.NoError(t, err)
	}
	_, err := bridge.Subscribe(owner("y"), "a")
	require.NoError(t, err)

	require.NoError(t, bridge.Close("x"))
	require.NoError(t, bridge.Close("x"))
	assert.Empty(t, bridge.Topics("x"))
	assert.Equal(t, []string{"a"}, bridge.Topics("y"))
	assert.Equal(t, 1, up.Len())
	assert.Equal(t, 1, metrics.value)
}

func TestBridgeCloseAggregatesErrors(t *testing.T) {
	up := &failingUpstream{Bus: NewBus()}
	bridge, _, _ := newTestBridge(up)
	for _, topic := range []string{"a", "b"} {
		_, err := bridge.Subscribe(owner("x"), topic)
		require.NoError(t, err)
	}

	up.unsubscribeErr = errors.New("gone")
	err := bridge.CloseAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsubscribe a")
	assert.Contains(t, err.Error(), "unsubscribe b")
	assert.Equal(t, 0, bridge.Owners())
}

func TestBridgeConcurrentSubscribe(t *testing.T) {
	bus := NewBus()
	bridge, _, metrics := newTestBridge(bus)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bridge.Subscribe(owner("a"), "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, bus.Len())
	assert.Equal(t, 1, metrics.value)
}
