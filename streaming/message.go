package streaming

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Meta channels used by the session.
const (
	ChannelHandshake   = "/meta/handshake"
	ChannelConnect     = "/meta/connect"
	ChannelSubscribe   = "/meta/subscribe"
	ChannelUnsubscribe = "/meta/unsubscribe"
	ChannelDisconnect  = "/meta/disconnect"

	BayeuxVersion         = "1.0"
	ConnectionLongPolling = "long-polling"
)

// Reconnect advice values.
const (
	ReconnectRetry     = "retry"
	ReconnectHandshake = "handshake"
	ReconnectNone      = "none"
)

// Advice is the server's reconnect guidance. Interval and Timeout are in
// milliseconds.
type Advice struct {
	Reconnect string `json:"reconnect,omitempty"`
	Interval  int64  `json:"interval,omitempty"`
	Timeout   int64  `json:"timeout,omitempty"`
}

// Message is a single Bayeux message, inbound or outbound.
type Message struct {
	Channel                  string          `json:"channel"`
	ID                       string          `json:"id,omitempty"`
	ClientID                 string          `json:"clientId,omitempty"`
	Successful               *bool           `json:"successful,omitempty"`
	Error                    string          `json:"error,omitempty"`
	Data                     json.RawMessage `json:"data,omitempty"`
	Subscription             string          `json:"subscription,omitempty"`
	Advice                   *Advice         `json:"advice,omitempty"`
	Version                  string          `json:"version,omitempty"`
	MinimumVersion           string          `json:"minimumVersion,omitempty"`
	SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string          `json:"connectionType,omitempty"`
}

// IsSuccessful returns the successful flag and whether the server sent one.
func (message *Message) IsSuccessful() (successful bool, present bool) {
	if message == nil || message.Successful == nil {
		return false, false
	}
	return *message.Successful, true
}

// IsMeta reports whether the message belongs to a /meta/ channel.
func (message *Message) IsMeta() bool {
	return message != nil && strings.HasPrefix(message.Channel, "/meta/")
}

// Payload unmarshals Data into target.
func (message *Message) Payload(target interface{}) error {
	if message == nil || len(message.Data) == 0 {
		return NewError(MalformedResponseError, "message has no data")
	}
	if err := json.Unmarshal(message.Data, target); err != nil {
		return NewError(MalformedResponseError, "decoding message data", err)
	}
	return nil
}

func (message *Message) String() string {
	if message == nil {
		return "<nil>"
	}
	encoded, err := json.Marshal(message)
	if err != nil {
		return message.Channel
	}
	return string(encoded)
}

func boolPtr(value bool) *bool { return &value }

// decodeMessages accepts either a JSON array of messages or a single object.
func decodeMessages(body []byte) ([]*Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, NewError(MalformedResponseError, "empty response body")
	}

	var messages []*Message
	if trimmed[0] == '{' {
		var single Message
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, NewError(MalformedResponseError, "decoding bayeux message", err)
		}
		messages = []*Message{&single}
	} else if err := json.Unmarshal(trimmed, &messages); err != nil {
		return nil, NewError(MalformedResponseError, "decoding bayeux messages", err)
	}

	for _, message := range messages {
		if message == nil || message.Channel == "" {
			return nil, NewError(MalformedResponseError, "bayeux message without channel")
		}
	}
	return messages, nil
}
