// Package watchlist tracks which subscribers are interested in which topic.
package watchlist

import (
	"debugconsole/internal/syncmap"
)

// Subscriber is anything with a stable identity, usually a client connection.
type Subscriber interface {
	ID() string
}

type memberSet[S Subscriber] map[string]S

// Watchlist maps a topic key to its subscribers. Member sets are replaced on
// every change, never mutated, so a fan-out works on a consistent snapshot
// while other goroutines subscribe and unsubscribe. A key with no subscribers
// is always removed.
type Watchlist[S Subscriber] struct {
	entries *syncmap.Map[string, memberSet[S]]
}

// New returns an empty watchlist.
func New[S Subscriber]() *Watchlist[S] {
	return &Watchlist[S]{entries: syncmap.New[string, memberSet[S]]()}
}

// Subscribe adds s to key. When key has no subscribers yet, onFirst runs in
// the same atomic step; if it fails the insert is abandoned and its error
// returned. Subscribing an existing member is a no-op.
func (w *Watchlist[S]) Subscribe(key string, s S, onFirst func() error) error {
	var firstErr error
	w.entries.Compute(key, func(old memberSet[S], loaded bool) (memberSet[S], bool) {
		if !loaded || len(old) == 0 {
			if onFirst != nil {
				if err := onFirst(); err != nil {
					firstErr = err
					return nil, false
				}
			}
			return memberSet[S]{s.ID(): s}, true
		}
		if _, ok := old[s.ID()]; ok {
			return old, true
		}
		next := make(memberSet[S], len(old)+1)
		for id, member := range old {
			next[id] = member
		}
		next[s.ID()] = s
		return next, true
	})
	return firstErr
}

// Unsubscribe removes the member with id from key. When the set becomes
// empty the key is deleted and onEmpty runs in the same atomic step. It
// reports whether the member was present.
func (w *Watchlist[S]) Unsubscribe(key, id string, onEmpty func()) bool {
	removed := false
	w.entries.Compute(key, func(old memberSet[S], loaded bool) (memberSet[S], bool) {
		if !loaded {
			return nil, false
		}
		if _, ok := old[id]; !ok {
			return old, len(old) > 0
		}
		removed = true
		if len(old) == 1 {
			if onEmpty != nil {
				onEmpty()
			}
			return nil, false
		}
		next := make(memberSet[S], len(old)-1)
		for memberID, member := range old {
			if memberID != id {
				next[memberID] = member
			}
		}
		return next, true
	})
	return removed
}

// RemoveAll drops the member with id from every key, calling onEmpty for each
// key that lost its last subscriber. It returns the keys the member was
// removed from.
func (w *Watchlist[S]) RemoveAll(id string, onEmpty func(key string)) []string {
	var removedFrom []string
	for _, key := range w.entries.Keys() {
		k := key
		var hook func()
		if onEmpty != nil {
			hook = func() { onEmpty(k) }
		}
		if w.Unsubscribe(k, id, hook) {
			removedFrom = append(removedFrom, k)
		}
	}
	return removedFrom
}

// Fanout calls fn for every subscriber of key at the time of the call. It
// returns the number of subscribers visited.
func (w *Watchlist[S]) Fanout(key string, fn func(S)) int {
	members, ok := w.entries.Load(key)
	if !ok {
		return 0
	}
	for _, s := range members {
		fn(s)
	}
	return len(members)
}

// Subscribers returns a snapshot of key's subscribers.
func (w *Watchlist[S]) Subscribers(key string) []S {
	members, ok := w.entries.Load(key)
	if !ok {
		return nil
	}
	out := make([]S, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// Contains reports whether the member with id is subscribed to key.
func (w *Watchlist[S]) Contains(key, id string) bool {
	members, ok := w.entries.Load(key)
	if !ok {
		return false
	}
	_, ok = members[id]
	return ok
}

// Has reports whether key has at least one subscriber.
func (w *Watchlist[S]) Has(key string) bool {
	return w.entries.Has(key)
}

// Keys returns the keys that currently have subscribers.
func (w *Watchlist[S]) Keys() []string {
	return w.entries.Keys()
}

// Len returns the number of keys with subscribers.
func (w *Watchlist[S]) Len() int {
	return w.entries.Len()
}

// Drain removes every key, running onEmpty for each one in the same atomic
// step as its removal. A subscriber arriving during a drain either lands
// before its key is removed, and is drained with it, or starts a fresh key.
func (w *Watchlist[S]) Drain(onEmpty func(key string)) {
	for _, key := range w.entries.Keys() {
		k := key
		w.entries.Compute(k, func(old memberSet[S], loaded bool) (memberSet[S], bool) {
			if loaded && onEmpty != nil {
				onEmpty(k)
			}
			return nil, false
		})
	}
}

// Clear drops every key without running any hooks.
func (w *Watchlist[S]) Clear() {
	w.entries.Clear()
}
