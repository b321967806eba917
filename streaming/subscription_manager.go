package streaming

import (
	"sort"
	"sync"
)

// SubscriptionManager tracks the channels a session is subscribed to. The
// handlers themselves live on the session's Dispatcher routes.
type SubscriptionManager struct {
	lock          sync.Mutex
	subscriptions map[string]struct{}
}

// NewSubscriptionManager returns an empty manager.
func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{subscriptions: make(map[string]struct{})}
}

// Subscribe records channel. Recording it twice is a no-op.
func (manager *SubscriptionManager) Subscribe(channel string) {
	if manager == nil || channel == "" {
		return
	}
	manager.lock.Lock()
	manager.subscriptions[channel] = struct{}{}
	manager.lock.Unlock()
}

// Unsubscribe removes one channel, or all when channel is "".
func (manager *SubscriptionManager) Unsubscribe(channel string) {
	if manager == nil {
		return
	}
	manager.lock.Lock()
	defer manager.lock.Unlock()
	if channel == "" {
		manager.subscriptions = make(map[string]struct{})
		return
	}
	delete(manager.subscriptions, channel)
}

// Clear removes all subscriptions.
func (manager *SubscriptionManager) Clear() {
	manager.Unsubscribe("")
}

// Contains reports whether channel is subscribed.
func (manager *SubscriptionManager) Contains(channel string) bool {
	if manager == nil {
		return false
	}
	manager.lock.Lock()
	defer manager.lock.Unlock()
	_, ok := manager.subscriptions[channel]
	return ok
}

// Len returns the number of subscriptions.
func (manager *SubscriptionManager) Len() int {
	if manager == nil {
		return 0
	}
	manager.lock.Lock()
	defer manager.lock.Unlock()
	return len(manager.subscriptions)
}

// Channels returns the subscribed channels in sorted order.
func (manager *SubscriptionManager) Channels() []string {
	if manager == nil {
		return nil
	}
	manager.lock.Lock()
	channels := make([]string, 0, len(manager.subscriptions))
	for channel := range manager.subscriptions {
		channels = append(channels, channel)
	}
	manager.lock.Unlock()
	sort.Strings(channels)
	return channels
}
