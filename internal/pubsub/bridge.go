package pubsub

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"debugconsole/internal/logging"
	"debugconsole/internal/protocol"
	"debugconsole/internal/syncmap"
)

// Owner is the connection a subscription delivers to.
type Owner interface {
	ID() string
}

// Sink delivers a bridged message to its owning connection.
type Sink interface {
	DeliverPubSub(owner Owner, msg protocol.PubSubMessage)
}

// Metrics receives subscription count changes.
type Metrics interface {
	PubSubChanged(delta int)
}

// Subscription records one upstream subscription held for a connection. It
// is the Handler given to the upstream and forwards each event to the
// bridge's sink for its owner only.
type Subscription struct {
	Owner Owner
	Topic string
	Token Token

	sink Sink
}

// HandleEvent implements Handler.
func (s *Subscription) HandleEvent(e Event) {
	s.sink.DeliverPubSub(s.Owner, protocol.PubSubMessage{
		Topic:    s.Topic,
		Subtopic: e.Topic,
		Payload:  string(e.Payload),
	})
}

type topicSet map[string]*Subscription

// Bridge keeps, per connection, the upstream subscriptions it asked for.
type Bridge struct {
	upstream Upstream
	sink     Sink
	logger   logging.Logger
	metrics  Metrics

	owners *syncmap.Map[string, topicSet]
}

// BridgeOption customizes a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the bridge logger.
func WithBridgeLogger(logger logging.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logging.OrNop(logger)
	}
}

// WithBridgeMetrics reports subscription counts.
func WithBridgeMetrics(metrics Metrics) BridgeOption {
	return func(b *Bridge) {
		b.metrics = metrics
	}
}

// NewBridge creates a bridge over upstream delivering to sink.
func NewBridge(upstream Upstream, sink Sink, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		upstream: upstream,
		sink:     sink,
		logger:   logging.NewComponentLogger("PubSubBridge"),
		owners:   syncmap.New[string, topicSet](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe makes sure owner receives messages for topic. A second call for
// the same pair keeps the existing subscription. It reports whether a new
// upstream subscription was created.
func (b *Bridge) Subscribe(owner Owner, topic string) (bool, error) {
	var subErr error
	created := false
	b.owners.Compute(owner.ID(), func(old topicSet, loaded bool) (topicSet, bool) {
		if _, ok := old[topic]; ok {
			return old, true
		}
		sub := &Subscription{Owner: owner, Topic: topic, sink: b.sink}
		token, err := b.upstream.Subscribe(topic, sub)
		if err != nil {
			subErr = err
			return old, len(old) > 0
		}
		sub.Token = token
		next := make(topicSet, len(old)+1)
		for t, s := range old {
			next[t] = s
		}
		next[topic] = sub
		created = true
		return next, true
	})
	if subErr != nil {
		return false, fmt.Errorf("subscribe %s: %w", topic, subErr)
	}
	if created {
		b.logger.Debug("Connection %s subscribed to %s", owner.ID(), topic)
		if b.metrics != nil {
			b.metrics.PubSubChanged(1)
		}
	}
	return created, nil
}

// Publish forwards payload to the upstream.
func (b *Bridge) Publish(topic string, payload []byte) error {
	if err := b.upstream.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe revokes owner's subscription to topic, if any. It reports
// whether one existed.
func (b *Bridge) Unsubscribe(ownerID, topic string) (bool, error) {
	var removed *Subscription
	b.owners.Compute(ownerID, func(old topicSet, loaded bool) (topicSet, bool) {
		sub, ok := old[topic]
		if !ok {
			return old, len(old) > 0
		}
		removed = sub
		if len(old) == 1 {
			return nil, false
		}
		next := make(topicSet, len(old)-1)
		for t, s := range old {
			if t != topic {
				next[t] = s
			}
		}
		return next, true
	})
	if removed == nil {
		return false, nil
	}
	if b.metrics != nil {
		b.metrics.PubSubChanged(-1)
	}
	if err := b.upstream.Unsubscribe(removed.Token); err != nil {
		return true, fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	b.logger.Debug("Connection %s unsubscribed from %s", ownerID, topic)
	return true, nil
}

// Close revokes every subscription held for ownerID. Calling it again is a
// no-op.
func (b *Bridge) Close(ownerID string) error {
	subs, ok := b.owners.LoadAndDelete(ownerID)
	if !ok {
		return nil
	}
	var errs error
	for topic, sub := range subs {
		if err := b.upstream.Unsubscribe(sub.Token); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unsubscribe %s: %w", topic, err))
		}
	}
	if b.metrics != nil {
		b.metrics.PubSubChanged(-len(subs))
	}
	if len(subs) > 0 {
		b.logger.Debug("Revoked %d subscription(s) for connection %s", len(subs), ownerID)
	}
	return errs
}

// CloseAll revokes every subscription of every connection.
func (b *Bridge) CloseAll() error {
	var errs error
	for _, ownerID := range b.owners.Keys() {
		errs = multierr.Append(errs, b.Close(ownerID))
	}
	return errs
}

// Topics returns ownerID's subscribed topics, sorted.
func (b *Bridge) Topics(ownerID string) []string {
	subs, ok := b.owners.Load(ownerID)
	if !ok {
		return nil
	}
	topics := make([]string, 0, len(subs))
	for topic := range subs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Owners returns the number of connections holding subscriptions.
func (b *Bridge) Owners() int {
	return b.owners.Len()
}
