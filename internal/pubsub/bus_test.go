package pubsub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) HandleEvent(e Event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *recordingHandler) topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Topic)
	}
	return out
}

func TestMatch(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"#", "anything/at/all", true},
		{"+/b", "x/b", true},
		{"a/b/c", "a/b", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Match(tc.filter, tc.topic), "%s vs %s", tc.filter, tc.topic)
	}
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter("a/+/c"))
	assert.NoError(t, ValidateFilter("a/#"))
	assert.ErrorIs(t, ValidateFilter(""), ErrInvalidTopic)
	assert.ErrorIs(t, ValidateFilter("a/#/c"), ErrInvalidTopic)
	assert.ErrorIs(t, ValidateFilter("a/b+"), ErrInvalidTopic)
}

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus()
	exact := &recordingHandler{}
	wild := &recordingHandler{}
	other := &recordingHandler{}

	_, err := bus.Subscribe("sensors/kitchen", exact)
	require.NoError(t, err)
	_, err = bus.Subscribe("sensors/+", wild)
	require.NoError(t, err)
	_, err = bus.Subscribe("alerts/#", other)
	require.NoError(t, err)

	require.NoError(t, bus.Publish("sensors/kitchen", []byte("21C")))
	require.NoError(t, bus.Publish("sensors/garage", []byte("12C")))

	assert.Equal(t, []string{"sensors/kitchen"}, exact.topics())
	assert.ElementsMatch(t, []string{"sensors/kitchen", "sensors/garage"}, wild.topics())
	assert.Empty(t, other.topics())
}

func TestBusPublishRejectsWildcards(t *testing.T) {
	bus := NewBus()
	assert.ErrorIs(t, bus.Publish("", nil), ErrInvalidTopic)
	assert.ErrorIs(t, bus.Publish("a/+", nil), ErrInvalidTopic)
	assert.ErrorIs(t, bus.Publish("a/#", nil), ErrInvalidTopic)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	h := &recordingHandler{}
	token, err := bus.Subscribe("t", h)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Len())

	require.NoError(t, bus.Unsubscribe(token))
	require.NoError(t, bus.Unsubscribe(token))
	assert.Equal(t, 0, bus.Len())

	require.NoError(t, bus.Publish("t", []byte("x")))
	assert.Empty(t, h.topics())
}

func TestBusCopiesPayload(t *testing.T) {
	bus := NewBus()
	h := &recordingHandler{}
	_, err := bus.Subscribe("t", h)
	require.NoError(t, err)

	payload := []byte("abc")
	require.NoError(t, bus.Publish("t", payload))
	payload[0] = 'z'
	assert.Equal(t, "abc", string(h.events[0].Payload))
}
