package streaming

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MessageHandler consumes one inbound message. A returned error is reported
// as a MessageHandlerError diagnostic and never alters session state.
type MessageHandler func(message *Message) error

// Dispatcher routes inbound messages to channel handlers and meta listeners.
// Delivery is synchronous, in the order Deliver is called.
type Dispatcher struct {
	lock             sync.RWMutex
	routes           map[string]MessageHandler
	listeners        map[string][]MessageHandler
	unhandledHandler MessageHandler
	errorHandler     func(err error)
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		routes:    make(map[string]MessageHandler),
		listeners: make(map[string][]MessageHandler),
	}
}

// AddRoute registers the handler for a channel or channel pattern, replacing
// any previous one.
func (dispatcher *Dispatcher) AddRoute(channel string, handler MessageHandler) {
	if dispatcher == nil || handler == nil {
		return
	}
	dispatcher.lock.Lock()
	dispatcher.routes[channel] = handler
	dispatcher.lock.Unlock()
}

// RemoveRoute drops the handler for channel.
func (dispatcher *Dispatcher) RemoveRoute(channel string) {
	if dispatcher == nil {
		return
	}
	dispatcher.lock.Lock()
	delete(dispatcher.routes, channel)
	dispatcher.lock.Unlock()
}

// FindRoute returns the handler registered for exactly channel.
func (dispatcher *Dispatcher) FindRoute(channel string) MessageHandler {
	if dispatcher == nil {
		return nil
	}
	dispatcher.lock.RLock()
	defer dispatcher.lock.RUnlock()
	return dispatcher.routes[channel]
}

// AddListener adds a listener for a meta channel. Several listeners may
// observe the same channel.
func (dispatcher *Dispatcher) AddListener(metaChannel string, handler MessageHandler) {
	if dispatcher == nil || handler == nil {
		return
	}
	dispatcher.lock.Lock()
	dispatcher.listeners[metaChannel] = append(dispatcher.listeners[metaChannel], handler)
	dispatcher.lock.Unlock()
}

// SetUnhandledMessageHandler sets the handler for messages no route matches.
func (dispatcher *Dispatcher) SetUnhandledMessageHandler(handler MessageHandler) {
	dispatcher.lock.Lock()
	dispatcher.unhandledHandler = handler
	dispatcher.lock.Unlock()
}

// SetErrorHandler sets where handler failures are reported.
func (dispatcher *Dispatcher) SetErrorHandler(handler func(err error)) {
	dispatcher.lock.Lock()
	dispatcher.errorHandler = handler
	dispatcher.lock.Unlock()
}

// Clear removes every data route. Meta listeners stay registered.
func (dispatcher *Dispatcher) Clear() {
	dispatcher.lock.Lock()
	dispatcher.routes = make(map[string]MessageHandler)
	dispatcher.lock.Unlock()
}

// Deliver hands message to every matching handler and returns how many ran.
func (dispatcher *Dispatcher) Deliver(message *Message) int {
	if dispatcher == nil || message == nil {
		return 0
	}

	dispatcher.lock.RLock()
	var handlers []MessageHandler
	if message.IsMeta() {
		handlers = append(handlers, dispatcher.listeners[message.Channel]...)
	} else {
		handlers = dispatcher.matchingRoutes(message.Channel)
	}
	unhandled := dispatcher.unhandledHandler
	errorHandler := dispatcher.errorHandler
	dispatcher.lock.RUnlock()

	if len(handlers) == 0 {
		if unhandled != nil && !message.IsMeta() {
			dispatcher.invoke(unhandled, message, errorHandler)
		}
		return 0
	}

	for _, handler := range handlers {
		dispatcher.invoke(handler, message, errorHandler)
	}
	return len(handlers)
}

// matchingRoutes must be called with the read lock held. Exact routes come
// first, then patterns in lexical order, so delivery order is stable.
func (dispatcher *Dispatcher) matchingRoutes(channel string) []MessageHandler {
	var handlers []MessageHandler
	if handler, ok := dispatcher.routes[channel]; ok {
		handlers = append(handlers, handler)
	}

	var patterns []string
	for pattern := range dispatcher.routes {
		if pattern != channel && isChannelPattern(pattern) && ChannelMatches(pattern, channel) {
			patterns = append(patterns, pattern)
		}
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		handlers = append(handlers, dispatcher.routes[pattern])
	}
	return handlers
}

func (dispatcher *Dispatcher) invoke(handler MessageHandler, message *Message, errorHandler func(err error)) {
	err := func() (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("handler panic: %v", recovered)
			}
		}()
		return handler(message)
	}()
	if err != nil && errorHandler != nil {
		errorHandler(stageError(MessageHandlerError, "dispatch", message.Channel, err))
	}
}

func isChannelPattern(channel string) bool {
	return strings.HasSuffix(channel, "/*") || strings.HasSuffix(channel, "/**")
}

// ChannelMatches reports whether channel matches pattern. "/a/*" matches one
// trailing segment, "/a/**" any number of trailing segments.
func ChannelMatches(pattern string, channel string) bool {
	if pattern == channel {
		return true
	}
	switch {
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "**")
		return strings.HasPrefix(channel, prefix) && len(channel) > len(prefix)
	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "*")
		if !strings.HasPrefix(channel, prefix) || len(channel) == len(prefix) {
			return false
		}
		return !strings.Contains(channel[len(prefix):], "/")
	}
	return false
}
