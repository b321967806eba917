// Package testutil provides scripted transports for streaming tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Counter is a deterministic integer counter for tests.
type Counter struct {
	lock  sync.Mutex
	value int
}

// Next increments and returns counter value.
func (counter *Counter) Next() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	counter.value++
	return counter.value
}

// Value returns the current count.
func (counter *Counter) Value() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	return counter.value
}

// LoginChannel is the pseudo channel under which SOAP login requests are
// scripted and recorded.
const LoginChannel = "login"

// RecordedMessage is the subset of an outbound Bayeux message tests assert on.
type RecordedMessage struct {
	Channel        string `json:"channel"`
	ID             string `json:"id"`
	ClientID       string `json:"clientId"`
	Subscription   string `json:"subscription"`
	ConnectionType string `json:"connectionType"`
}

// RecordedRequest is one request seen by a BayeuxDoer.
type RecordedRequest struct {
	URL      string
	Header   http.Header
	Body     []byte
	Messages []RecordedMessage
}

// Responder answers one request.
type Responder func(request *http.Request, body []byte) (*http.Response, error)

// BayeuxDoer is a scripted streaming.Doer. Responses are queued per channel
// (the channel of the first message in the request, or LoginChannel); when a
// queue is empty the channel's default applies. The default for
// /meta/connect blocks until the request context is done, like a long-poll
// with no events.
type BayeuxDoer struct {
	lock          sync.Mutex
	queues        map[string][]Responder
	defaults      map[string]Responder
	requests      map[string][]RecordedRequest
	inFlight      map[string]int
	maxInFlight   map[string]int
	notifications chan struct{}
}

// NewBayeuxDoer returns a doer with successful defaults for handshake,
// subscribe, unsubscribe and disconnect.
func NewBayeuxDoer() *BayeuxDoer {
	doer := &BayeuxDoer{
		queues:        make(map[string][]Responder),
		defaults:      make(map[string]Responder),
		requests:      make(map[string][]RecordedRequest),
		inFlight:      make(map[string]int),
		maxInFlight:   make(map[string]int),
		notifications: make(chan struct{}, 1),
	}
	doer.defaults["/meta/handshake"] = JSON(http.StatusOK, `[{"channel":"/meta/handshake","successful":true,"clientId":"client-1","version":"1.0","supportedConnectionTypes":["long-polling"]}]`)
	doer.defaults["/meta/connect"] = Hang()
	doer.defaults["/meta/subscribe"] = EchoSubscription("/meta/subscribe", true, "")
	doer.defaults["/meta/unsubscribe"] = EchoSubscription("/meta/unsubscribe", true, "")
	doer.defaults["/meta/disconnect"] = JSON(http.StatusOK, `[{"channel":"/meta/disconnect","successful":true}]`)
	return doer
}

// Enqueue adds a one-shot responder for channel.
func (doer *BayeuxDoer) Enqueue(channel string, responder Responder) {
	doer.lock.Lock()
	doer.queues[channel] = append(doer.queues[channel], responder)
	doer.lock.Unlock()
}

// EnqueueJSON adds a one-shot JSON response for channel.
func (doer *BayeuxDoer) EnqueueJSON(channel string, status int, body string) {
	doer.Enqueue(channel, JSON(status, body))
}

// SetDefault replaces the responder used once channel's queue is empty.
func (doer *BayeuxDoer) SetDefault(channel string, responder Responder) {
	doer.lock.Lock()
	doer.defaults[channel] = responder
	doer.lock.Unlock()
}

// Do implements streaming.Doer.
func (doer *BayeuxDoer) Do(request *http.Request) (*http.Response, error) {
	var body []byte
	if request.Body != nil {
		body, _ = io.ReadAll(request.Body)
		_ = request.Body.Close()
	}

	record := RecordedRequest{URL: request.URL.String(), Header: request.Header.Clone(), Body: body}
	channel := LoginChannel
	if !strings.Contains(request.Header.Get("Content-Type"), "xml") {
		if err := json.Unmarshal(body, &record.Messages); err == nil && len(record.Messages) > 0 {
			channel = record.Messages[0].Channel
		}
	}

	doer.lock.Lock()
	doer.requests[channel] = append(doer.requests[channel], record)
	doer.inFlight[channel]++
	if doer.inFlight[channel] > doer.maxInFlight[channel] {
		doer.maxInFlight[channel] = doer.inFlight[channel]
	}
	var responder Responder
	if queue := doer.queues[channel]; len(queue) > 0 {
		responder = queue[0]
		doer.queues[channel] = queue[1:]
	} else {
		responder = doer.defaults[channel]
	}
	doer.lock.Unlock()
	doer.notify()

	defer func() {
		doer.lock.Lock()
		doer.inFlight[channel]--
		doer.lock.Unlock()
	}()

	if responder == nil {
		return nil, errors.New("testutil: no responder for " + channel)
	}
	return responder(request, body)
}

func (doer *BayeuxDoer) notify() {
	select {
	case doer.notifications <- struct{}{}:
	default:
	}
}

// Requests returns the recorded requests for channel.
func (doer *BayeuxDoer) Requests(channel string) []RecordedRequest {
	doer.lock.Lock()
	defer doer.lock.Unlock()
	return append([]RecordedRequest(nil), doer.requests[channel]...)
}

// Count returns how many requests were made on channel.
func (doer *BayeuxDoer) Count(channel string) int {
	doer.lock.Lock()
	defer doer.lock.Unlock()
	return len(doer.requests[channel])
}

// MaxConcurrent returns the highest number of simultaneous requests seen on
// channel.
func (doer *BayeuxDoer) MaxConcurrent(channel string) int {
	doer.lock.Lock()
	defer doer.lock.Unlock()
	return doer.maxInFlight[channel]
}

// WaitForCount blocks until channel has seen at least count requests.
func (doer *BayeuxDoer) WaitForCount(channel string, count int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if doer.Count(channel) >= count {
			return true
		}
		select {
		case <-doer.notifications:
		case <-deadline.C:
			return doer.Count(channel) >= count
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Response builds an *http.Response with body.
func Response(status int, contentType string, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

// JSON responds with a fixed JSON body.
func JSON(status int, body string) Responder {
	return func(request *http.Request, _ []byte) (*http.Response, error) {
		return Response(status, "application/json", body), nil
	}
}

// XML responds with a fixed XML body.
func XML(status int, body string) Responder {
	return func(request *http.Request, _ []byte) (*http.Response, error) {
		return Response(status, "text/xml", body), nil
	}
}

// Fail returns err without a response.
func Fail(err error) Responder {
	return func(*http.Request, []byte) (*http.Response, error) {
		return nil, err
	}
}

// Hang blocks until the request context ends and returns its error.
func Hang() Responder {
	return func(request *http.Request, _ []byte) (*http.Response, error) {
		<-request.Context().Done()
		return nil, request.Context().Err()
	}
}

// Gate blocks until release is closed (or the request ends), then answers
// with next.
func Gate(release <-chan struct{}, next Responder) Responder {
	return func(request *http.Request, body []byte) (*http.Response, error) {
		select {
		case <-release:
			return next(request, body)
		case <-request.Context().Done():
			return nil, request.Context().Err()
		}
	}
}

// EchoSubscription answers a subscribe/unsubscribe request, echoing the
// requested subscription.
func EchoSubscription(channel string, successful bool, errorText string) Responder {
	return func(request *http.Request, body []byte) (*http.Response, error) {
		var messages []RecordedMessage
		_ = json.Unmarshal(body, &messages)
		subscription := ""
		if len(messages) > 0 {
			subscription = messages[0].Subscription
		}
		reply := map[string]interface{}{
			"channel":      channel,
			"successful":   successful,
			"subscription": subscription,
		}
		if errorText != "" {
			reply["error"] = errorText
		}
		encoded, _ := json.Marshal([]interface{}{reply})
		return Response(http.StatusOK, "application/json", string(encoded)), nil
	}
}

// LoginResponse is a minimal successful SOAP login response.
func LoginResponse(sessionID string, serverURL string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns="urn:partner.soap.sforce.com">` +
		`<soapenv:Body><loginResponse><result>` +
		`<metadataServerUrl>` + serverURL + `</metadataServerUrl>` +
		`<passwordExpired>false</passwordExpired>` +
		`<serverUrl>` + serverURL + `</serverUrl>` +
		`<sessionId>` + sessionID + `</sessionId>` +
		`</result></loginResponse></soapenv:Body></soapenv:Envelope>`
}

// LoginFault is a SOAP fault as returned for bad credentials.
func LoginFault(message string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:sf="urn:fault.partner.soap.sforce.com">` +
		`<soapenv:Body><soapenv:Fault><faultcode>sf:INVALID_LOGIN</faultcode>` +
		`<faultstring>` + message + `</faultstring>` +
		`</soapenv:Fault></soapenv:Body></soapenv:Envelope>`
}
