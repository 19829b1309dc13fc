package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
)

// Registry is the dispatch table from channel type to adapter. It is filled once at
// startup; adding a platform means registering one more adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[Type]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter is nil")
	}
	ct := normalizeType(adapter.Type().String())
	if ct == "" {
		return errors.New("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given channel type.
func (r *Registry) Get(channelType Type) (Adapter, bool) {
	ct := normalizeType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[ct]
	return adapter, ok
}

// Resolve is Get with the unknown channel classified as a configuration error.
func (r *Registry) Resolve(channelType Type) (Adapter, error) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, apperr.Newf(apperr.KindConfiguration, "channel.resolve", "no adapter registered for channel %q", channelType)
	}
	return adapter, nil
}

// Types returns all registered channel types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Type, 0, len(r.adapters))
	for ct := range r.adapters {
		items = append(items, ct)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// Descriptor returns the descriptor for the given channel type.
func (r *Registry) Descriptor(channelType Type) (Descriptor, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return Descriptor{}, false
	}
	return adapter.Descriptor(), true
}

// TextSender returns the text capability of the channel, if any.
func (r *Registry) TextSender(channelType Type) (TextSender, bool) {
	return capability[TextSender](r, channelType)
}

// MediaSender returns the media capability of the channel, if any.
func (r *Registry) MediaSender(channelType Type) (MediaSender, bool) {
	return capability[MediaSender](r, channelType)
}

// Receiver returns the live-connection capability of the channel, if any.
func (r *Registry) Receiver(channelType Type) (Receiver, bool) {
	return capability[Receiver](r, channelType)
}

// WebhookParser returns the webhook capability of the channel, if any.
func (r *Registry) WebhookParser(channelType Type) (WebhookParser, bool) {
	return capability[WebhookParser](r, channelType)
}

// Unsender returns the recall capability of the channel, if any.
func (r *Registry) Unsender(channelType Type) (Unsender, bool) {
	return capability[Unsender](r, channelType)
}

// HistoryFetcher returns the history capability of the channel, if any.
func (r *Registry) HistoryFetcher(channelType Type) (HistoryFetcher, bool) {
	return capability[HistoryFetcher](r, channelType)
}

func capability[T any](r *Registry, channelType Type) (T, bool) {
	var zero T
	adapter, ok := r.Get(channelType)
	if !ok {
		return zero, false
	}
	c, ok := adapter.(T)
	return c, ok
}
