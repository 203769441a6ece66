// Package pubsub bridges dashboard connections to the host's publish/subscribe
// messaging.
package pubsub

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidTopic is returned for empty topics, topics with malformed
// wildcards, and publishes to a wildcard topic.
var ErrInvalidTopic = errors.New("invalid topic")

// Token identifies one upstream subscription.
type Token string

// Event is a message delivered by the upstream.
type Event struct {
	Topic   string
	Payload []byte
}

// Handler receives events for a subscription.
type Handler interface {
	HandleEvent(Event)
}

// Upstream is the host messaging API the bridge consumes.
type Upstream interface {
	Subscribe(topic string, handler Handler) (Token, error)
	Publish(topic string, payload []byte) error
	Unsubscribe(token Token) error
}

type busSubscription struct {
	filter  []string
	handler Handler
}

// Bus is an in-process Upstream. Topic filters use MQTT style wildcards:
// "+" matches one level and a trailing "#" matches any remaining levels.
// Handlers run synchronously on the publisher's goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[Token]busSubscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Token]busSubscription)}
}

// ValidateFilter checks a subscription filter.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: %q: wildcards must occupy a whole level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// ValidateTopic checks a concrete publish topic.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q: cannot publish to a wildcard topic", ErrInvalidTopic, topic)
	}
	return nil
}

// Match reports whether topic matches filter.
func Match(filter, topic string) bool {
	return matchLevels(strings.Split(filter, "/"), strings.Split(topic, "/"))
}

func matchLevels(filter, topic []string) bool {
	for i, level := range filter {
		if level == "#" {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if level != "+" && level != topic[i] {
			return false
		}
	}
	return len(filter) == len(topic)
}

// Subscribe registers handler for every topic matching filter.
func (b *Bus) Subscribe(filter string, handler Handler) (Token, error) {
	if err := ValidateFilter(filter); err != nil {
		return "", err
	}
	if handler == nil {
		return "", errors.New("nil handler")
	}
	token := Token(uuid.NewString())
	b.mu.Lock()
	b.subs[token] = busSubscription{filter: strings.Split(filter, "/"), handler: handler}
	b.mu.Unlock()
	return token, nil
}

// Publish delivers payload to every matching subscription.
func (b *Bus) Publish(topic string, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	levels := strings.Split(topic, "/")

	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchLevels(sub.filter, levels) {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	event := Event{Topic: topic, Payload: append([]byte(nil), payload...)}
	for _, h := range matched {
		h.HandleEvent(event)
	}
	return nil
}

// Unsubscribe removes the subscription; unknown tokens are ignored.
func (b *Bus) Unsubscribe(token Token) error {
	b.mu.Lock()
	delete(b.subs, token)
	b.mu.Unlock()
	return nil
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
