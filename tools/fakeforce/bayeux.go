package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/Thejuampi/force-streaming-go/streaming"
)

// client is one handshaken Bayeux client.
type client struct {
	id   string
	wake chan struct{}

	lock          sync.Mutex
	subscriptions map[string]struct{}
	pending       []*streaming.Message
	dropped       bool
}

func newClient() *client {
	return &client{
		id:            uuid.NewString(),
		wake:          make(chan struct{}, 1),
		subscriptions: make(map[string]struct{}),
	}
}

func (current *client) signal() {
	select {
	case current.wake <- struct{}{}:
	default:
	}
}

func (current *client) subscribe(channel string) {
	current.lock.Lock()
	current.subscriptions[channel] = struct{}{}
	current.lock.Unlock()
}

func (current *client) unsubscribe(channel string) bool {
	current.lock.Lock()
	defer current.lock.Unlock()
	_, ok := current.subscriptions[channel]
	delete(current.subscriptions, channel)
	return ok
}

func (current *client) deliver(channel string, data json.RawMessage) bool {
	current.lock.Lock()
	matched := false
	for pattern := range current.subscriptions {
		if streaming.ChannelMatches(pattern, channel) {
			matched = true
			break
		}
	}
	if matched && !current.dropped {
		current.pending = append(current.pending, &streaming.Message{Channel: channel, Data: data})
	}
	current.lock.Unlock()
	if matched {
		current.signal()
	}
	return matched
}

func (current *client) drop() {
	current.lock.Lock()
	current.dropped = true
	current.pending = nil
	current.lock.Unlock()
	current.signal()
}

// await holds a connect until events are pending, timeout elapses or ctx
// ends. It reports false when the client was dropped meanwhile.
func (current *client) await(ctx context.Context, timeout time.Duration) ([]*streaming.Message, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		current.lock.Lock()
		if current.dropped {
			current.lock.Unlock()
			return nil, false
		}
		if len(current.pending) > 0 {
			events := current.pending
			current.pending = nil
			current.lock.Unlock()
			return events, true
		}
		current.lock.Unlock()

		select {
		case <-current.wake:
		case <-timer.C:
			return nil, true
		case <-ctx.Done():
			return nil, true
		}
	}
}

func successful(value bool) *bool { return &value }

func (srv *server) advice(reconnect string) *streaming.Advice {
	return &streaming.Advice{Reconnect: reconnect, Interval: 0, Timeout: srv.options.adviceTimeout.Milliseconds()}
}

func (srv *server) handleBayeux(w http.ResponseWriter, r *http.Request) {
	mediaType, err := contenttype.GetMediaType(r)
	if err != nil || !mediaType.Matches(jsonMediaType) {
		jsonResponse(w, http.StatusUnsupportedMediaType, []map[string]string{{"errorCode": "UNSUPPORTED_MEDIA_TYPE", "message": "content-type must be application/json"}})
		return
	}
	if !srv.validSession(r) {
		jsonResponse(w, http.StatusUnauthorized, []map[string]string{{"errorCode": "INVALID_SESSION_ID", "message": "Session expired or invalid"}})
		return
	}

	var requests []*streaming.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&requests); err != nil {
		jsonResponse(w, http.StatusBadRequest, []map[string]string{{"errorCode": "JSON_PARSER_ERROR", "message": err.Error()}})
		return
	}

	replies := make([]*streaming.Message, 0, len(requests))
	for _, request := range requests {
		if request == nil {
			continue
		}
		srv.options.logger.Debug().Str("channel", request.Channel).Str("client_id", request.ClientID).Str("subscription", request.Subscription).Msg("bayeux request")
		replies = append(replies, srv.reply(r.Context(), request)...)
	}
	jsonResponse(w, http.StatusOK, replies)
}

// reply answers one request. A connect reply is preceded by the events it
// carries.
func (srv *server) reply(ctx context.Context, request *streaming.Message) []*streaming.Message {
	reply := &streaming.Message{Channel: request.Channel, ID: request.ID, ClientID: request.ClientID}

	if request.Channel == streaming.ChannelHandshake {
		current := srv.addClient()
		reply.ClientID = current.id
		reply.Successful = successful(true)
		reply.Version = streaming.BayeuxVersion
		reply.SupportedConnectionTypes = []string{streaming.ConnectionLongPolling}
		reply.Advice = srv.advice(streaming.ReconnectRetry)
		srv.options.logger.Info().Str("client_id", current.id).Msg("handshake")
		return []*streaming.Message{reply}
	}

	current := srv.client(request.ClientID)
	if current == nil {
		reply.Successful = successful(false)
		reply.Error = "403::Unknown client"
		reply.Subscription = request.Subscription
		reply.Advice = &streaming.Advice{Reconnect: streaming.ReconnectHandshake}
		return []*streaming.Message{reply}
	}

	switch request.Channel {
	case streaming.ChannelConnect:
		events, alive := current.await(ctx, srv.options.adviceTimeout)
		if !alive {
			reply.Successful = successful(false)
			reply.Error = "403::Unknown client"
			reply.Advice = &streaming.Advice{Reconnect: streaming.ReconnectHandshake}
			return []*streaming.Message{reply}
		}
		reply.Successful = successful(true)
		reply.Advice = srv.advice(streaming.ReconnectRetry)
		return append(events, reply)

	case streaming.ChannelSubscribe:
		reply.Subscription = request.Subscription
		if text := srv.checkSubscription(request.Subscription); text != "" {
			reply.Successful = successful(false)
			reply.Error = text
			return []*streaming.Message{reply}
		}
		current.subscribe(request.Subscription)
		reply.Successful = successful(true)
		srv.options.logger.Info().Str("client_id", current.id).Str("subscription", request.Subscription).Msg("subscribed")

	case streaming.ChannelUnsubscribe:
		reply.Subscription = request.Subscription
		if !current.unsubscribe(request.Subscription) {
			reply.Successful = successful(false)
			reply.Error = "404::Not subscribed"
			return []*streaming.Message{reply}
		}
		reply.Successful = successful(true)

	case streaming.ChannelDisconnect:
		srv.removeClient(current.id)
		reply.Successful = successful(true)
		srv.options.logger.Info().Str("client_id", current.id).Msg("disconnected")

	default:
		reply.Successful = successful(false)
		reply.Error = "400::Unknown channel"
	}
	return []*streaming.Message{reply}
}

func (srv *server) checkSubscription(channel string) string {
	if !strings.HasPrefix(channel, "/") || strings.HasPrefix(channel, "/meta/") {
		return "400::Invalid subscription"
	}
	if srv.options.topics == nil {
		return ""
	}
	if _, ok := srv.options.topics[channel]; !ok {
		return "403::Topic not found"
	}
	return ""
}
