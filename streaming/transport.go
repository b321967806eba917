package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// AuthorizationScheme prefixes the session token in the Authorization header.
const AuthorizationScheme = "OAuth"

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(request *http.Request) (*http.Response, error)
}

type idleCloser interface {
	CloseIdleConnections()
}

// NewHTTPClient builds the bare transport used for login and, wrapped in an
// AuthorizedTransport, for streaming. connectTimeout bounds dialing and TLS;
// readTimeout bounds the wait for response headers. The client keeps cookies,
// which the streaming endpoint uses for load-balancer affinity.
func NewHTTPClient(connectTimeout time.Duration, readTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
	jar, _ := cookiejar.New(nil)
	return &http.Client{Transport: transport, Jar: jar}
}

// RequestEventKind names a point in a request's lifecycle.
type RequestEventKind string

// Request lifecycle points.
const (
	EventSent           RequestEventKind = "sent"
	EventHeaderReceived RequestEventKind = "header-received"
	EventBodyReceived   RequestEventKind = "body-received"
	EventCompleted      RequestEventKind = "completed"
	EventFailed         RequestEventKind = "failed"
	EventExpired        RequestEventKind = "expired"
	EventRetried        RequestEventKind = "retried"
)

// RequestEvent describes one lifecycle point of an outgoing request.
type RequestEvent struct {
	Kind     RequestEventKind
	Stage    string
	Method   string
	URL      string
	Status   int
	Bytes    int
	Attempt  int
	Elapsed  time.Duration
	Err      error
	Response []byte
}

// RequestObserver receives request lifecycle events. Observers must not
// block; they run on the goroutine issuing the request.
type RequestObserver func(event RequestEvent)

type observers []RequestObserver

func (list observers) notify(event RequestEvent) {
	for _, observer := range list {
		if observer == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			observer(event)
		}()
	}
}

type exchangeResult struct {
	status int
	header http.Header
	body   []byte
}

// exchange sends request through doer, reads the whole body and reports
// every lifecycle point to the observers. A context deadline is reported as
// expired rather than failed.
func exchange(doer Doer, request *http.Request, stage string, attempt int, list observers) (exchangeResult, error) {
	started := time.Now()
	event := RequestEvent{
		Stage:   stage,
		Method:  request.Method,
		URL:     request.URL.String(),
		Attempt: attempt,
	}

	fail := func(err error) (exchangeResult, error) {
		event.Elapsed = time.Since(started)
		event.Err = err
		event.Kind = EventFailed
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			event.Kind = EventExpired
		}
		list.notify(event)
		return exchangeResult{}, err
	}

	event.Kind = EventSent
	list.notify(event)

	response, err := doer.Do(request)
	if err != nil {
		return fail(err)
	}
	defer response.Body.Close()

	event.Kind = EventHeaderReceived
	event.Status = response.StatusCode
	event.Elapsed = time.Since(started)
	list.notify(event)

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fail(err)
	}

	event.Kind = EventBodyReceived
	event.Bytes = len(body)
	event.Response = body
	event.Elapsed = time.Since(started)
	list.notify(event)

	event.Kind = EventCompleted
	event.Response = nil
	list.notify(event)

	return exchangeResult{status: response.StatusCode, header: response.Header, body: body}, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// AuthorizedTransport attaches the session token to every request and bounds
// each request by the long-poll read timeout. It never retries.
type AuthorizedTransport struct {
	doer        Doer
	token       string
	readTimeout time.Duration
}

// NewAuthorizedTransport wraps doer with token authorization.
func NewAuthorizedTransport(doer Doer, token string, readTimeout time.Duration) *AuthorizedTransport {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &AuthorizedTransport{doer: doer, token: token, readTimeout: readTimeout}
}

// Do sends a copy of request carrying the Authorization header.
func (transport *AuthorizedTransport) Do(request *http.Request) (*http.Response, error) {
	ctx := request.Context()
	cancel := context.CancelFunc(func() {})
	if transport.readTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, transport.readTimeout)
	}

	authorized := request.Clone(ctx)
	authorized.Header.Set("Authorization", AuthorizationScheme+" "+transport.token)

	response, err := transport.doer.Do(authorized)
	if err != nil {
		cancel()
		return nil, err
	}
	response.Body = &cancelOnClose{ReadCloser: response.Body, cancel: cancel}
	return response, nil
}

// CloseIdleConnections releases pooled connections of the wrapped doer.
func (transport *AuthorizedTransport) CloseIdleConnections() {
	if closer, ok := transport.doer.(idleCloser); ok {
		closer.CloseIdleConnections()
	}
}

type cancelOnClose struct {
	io.ReadCloser
	once   sync.Once
	cancel context.CancelFunc
}

func (body *cancelOnClose) Close() error {
	err := body.ReadCloser.Close()
	body.once.Do(body.cancel)
	return err
}

func newJSONRequest(ctx context.Context, endpoint string, payload []byte) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json;charset=UTF-8")
	request.Header.Set("Accept", "application/json")
	return request, nil
}
