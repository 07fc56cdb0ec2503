package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives the data payload of an inbound message frame.
type Handler func(data json.RawMessage)

type handlerEntry struct {
	id int
	fn Handler
}

// Registry tracks two deliberately separate things per channel: the handlers
// interested in its messages, and whether the channel holds a wire
// subscription that must be replayed after a reconnect. Removing the last
// handler drops the channel from both sides; MarkSubscribed never checks
// handler presence. A fresh Subscribe call from a remounting consumer must
// always re-assert wire interest even if a handler briefly lingered.
type Registry struct {
	mu         sync.RWMutex
	nextID     int
	handlers   map[string][]handlerEntry
	subscribed map[string]struct{}
	logger     zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers:   make(map[string][]handlerEntry),
		subscribed: make(map[string]struct{}),
		logger:     logger,
	}
}

// Add registers a handler for a channel and returns its disposer. Handlers
// are dispatched in registration order.
func (r *Registry) Add(channel string, fn Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[channel] = append(r.handlers[channel], handlerEntry{id: id, fn: fn})
	r.mu.Unlock()

	return func() { r.remove(channel, id) }
}

func (r *Registry) remove(channel string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.handlers[channel]
	kept := make([]handlerEntry, 0, len(entries))
	for _, e := range entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.handlers, channel)
		delete(r.subscribed, channel)
		return
	}
	r.handlers[channel] = kept
}

// MarkSubscribed records a channel in the replay set.
func (r *Registry) MarkSubscribed(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed[channel] = struct{}{}
}

// Channels returns a snapshot of the replay set.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]string, 0, len(r.subscribed))
	for ch := range r.subscribed {
		channels = append(channels, ch)
	}
	return channels
}

// HandlerCount reports how many handlers a channel currently has.
func (r *Registry) HandlerCount(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[channel])
}

// Dispatch invokes every handler registered for the channel, in registration
// order. A handler panic is recovered and logged so one faulty consumer
// cannot block the rest.
func (r *Registry) Dispatch(channel string, data json.RawMessage) {
	r.mu.RLock()
	entries := make([]handlerEntry, len(r.handlers[channel]))
	copy(entries, r.handlers[channel])
	r.mu.RUnlock()

	for _, e := range entries {
		r.invoke(channel, e, data)
	}
}

func (r *Registry) invoke(channel string, e handlerEntry, data json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("channel", channel).Interface("panic", rec).Msg("message handler panicked")
		}
	}()
	e.fn(data)
}

// Reset clears all handlers and the replay set.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]handlerEntry)
	r.subscribed = make(map[string]struct{})
}
