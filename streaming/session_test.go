package streaming

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Thejuampi/force-streaming-go/streaming/internal/testutil"
)

func connectBatch(events ...string) string {
	parts := make([]string, 0, len(events)+1)
	for _, event := range events {
		parts = append(parts, fmt.Sprintf(`{"channel":"/topic/Foo","data":{"n":%q}}`, event))
	}
	parts = append(parts, `{"channel":"/meta/connect","successful":true}`)
	return "[" + strings.Join(parts, ",") + "]"
}

func eventName(t *testing.T, message *Message) string {
	t.Helper()
	var payload struct {
		N string `json:"n"`
	}
	require.NoError(t, message.Payload(&payload))
	return payload.N
}

func TestSessionStartHandshakesWithAuthorizedTransport(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	var transitions []State
	var lock sync.Mutex
	session := startTestSession(t, doer, WithStateListener(func(from State, to State) {
		lock.Lock()
		transitions = append(transitions, to)
		lock.Unlock()
	}))

	assert.Equal(t, "client-1", session.ClientID())
	assert.False(t, session.LastHandshake().IsZero())
	require.True(t, doer.WaitForCount("/meta/connect", 1, time.Second))
	waitFor(t, time.Second, session.Outstanding, "expected an outstanding long-poll")

	handshakes := doer.Requests("/meta/handshake")
	require.Len(t, handshakes, 1)
	assert.Equal(t, testServiceHost+DefaultStreamingURI, handshakes[0].URL)
	assert.Equal(t, "OAuth token-1", handshakes[0].Header.Get("Authorization"))
	assert.Contains(t, string(handshakes[0].Body), `"supportedConnectionTypes":["long-polling"]`)

	connect := doer.Requests("/meta/connect")[0]
	assert.Equal(t, "client-1", connect.Messages[0].ClientID)
	assert.Equal(t, ConnectionLongPolling, connect.Messages[0].ConnectionType)
	assert.Equal(t, "OAuth token-1", connect.Header.Get("Authorization"))

	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, []State{StateHandshaking, StateConnecting}, transitions)
}

func TestSessionStartReturnsAuthenticationFailure(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.Enqueue(testutil.LoginChannel, testutil.XML(http.StatusInternalServerError, testutil.LoginFault("INVALID_LOGIN: Invalid username, password, security token; or user locked out.")))

	session := NewSession(testConfig(), WithDoer(doer))
	defer session.Close()

	err := session.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Equal(t, StateFailed, session.State())
	assert.Equal(t, 0, doer.Count("/meta/handshake"))
	select {
	case <-session.Done():
	default:
		t.Fatalf("expected Done to be closed after a failed start")
	}
}

func TestSessionStartLogsInWithSOAP(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.Enqueue(testutil.LoginChannel, testutil.XML(http.StatusOK, testutil.LoginResponse("00D-session", "https://na9.example.com/services/Soap/u/22.0/00D")))

	session := NewSession(testConfig(), WithDoer(doer))
	defer session.Close()

	require.NoError(t, session.Start(context.Background()))
	handshake := doer.Requests("/meta/handshake")[0]
	assert.Equal(t, "https://na9.example.com/cometd/23.0", handshake.URL)
	assert.Equal(t, "OAuth 00D-session", handshake.Header.Get("Authorization"))
}

func TestSessionHandshakeExplicitFailureIsFatal(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.EnqueueJSON("/meta/handshake", http.StatusOK, `[{"channel":"/meta/handshake","successful":false,"error":"403::Handshake denied"}]`)

	session := newTestSession(t, doer)
	err := session.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, ProtocolError, ErrorCode(err))
	assert.Contains(t, err.Error(), "403::Handshake denied")
	assert.Equal(t, StateFailed, session.State())
	assert.Equal(t, 1, doer.Count("/meta/handshake"))
	assert.Equal(t, 0, doer.Count("/meta/connect"))
}

func TestSessionHandshakeRetriesTransportErrors(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.Enqueue("/meta/handshake", testutil.Fail(errors.New("connection refused")))
	doer.Enqueue("/meta/handshake", testutil.Fail(errors.New("connection reset")))

	var retried testutil.Counter
	session := startTestSession(t, doer, WithObserver(func(event RequestEvent) {
		if event.Kind == EventRetried && event.Stage == stageHandshake {
			retried.Next()
		}
	}))

	assert.Equal(t, 3, doer.Count("/meta/handshake"))
	assert.Equal(t, 2, retried.Value())
	assert.Equal(t, "client-1", session.ClientID())
}

func TestSessionHandshakeTimeout(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.SetDefault("/meta/handshake", testutil.Fail(errors.New("connection refused")))

	cfg := testConfig()
	cfg.HandshakeInterval = Duration(10 * time.Millisecond)
	cfg.HandshakeTimeout = Duration(100 * time.Millisecond)
	session := NewSession(cfg,
		WithDoer(doer),
		WithAuthenticator(StaticAuthenticator{Credentials: Credentials{SessionToken: "t", ServiceHost: testServiceHost}}),
	)
	defer session.Close()

	started := time.Now()
	err := session.Start(context.Background())
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateFailed, session.State())
	assert.Less(t, elapsed, time.Second)
	attempts := doer.Count("/meta/handshake")
	assert.GreaterOrEqual(t, attempts, 2)
	assert.LessOrEqual(t, attempts, 11)
}

func TestSessionDispatchesConnectResponsesInOrder(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	release := make(chan struct{})
	doer.Enqueue("/meta/connect", testutil.Gate(release, testutil.JSON(http.StatusOK, connectBatch("e1", "e2"))))
	doer.EnqueueJSON("/meta/connect", http.StatusOK, connectBatch("e3"))
	doer.EnqueueJSON("/meta/connect", http.StatusOK, connectBatch("e4", "e5", "e6"))

	session := startTestSession(t, doer)

	var lock sync.Mutex
	var got []string
	var pollsSeen []int
	subscribed := make(chan struct{})
	session.AddListener(ChannelSubscribe, func(message *Message) error {
		if ok, _ := message.IsSuccessful(); ok {
			close(subscribed)
		}
		return nil
	})
	require.NoError(t, session.Subscribe("/topic/Foo", func(message *Message) error {
		lock.Lock()
		defer lock.Unlock()
		got = append(got, eventName(t, message))
		pollsSeen = append(pollsSeen, doer.Count("/meta/connect"))
		return nil
	}))

	select {
	case <-subscribed:
	case <-time.After(time.Second):
		t.Fatalf("subscribe was not acknowledged")
	}
	assert.True(t, session.Subscribed())
	assert.Equal(t, []string{"/topic/Foo"}, session.Subscriptions())
	close(release)

	require.True(t, doer.WaitForCount("/meta/connect", 4, time.Second))
	waitFor(t, time.Second, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(got) == 6
	}, "expected six events")

	lock.Lock()
	defer lock.Unlock()
	if diff := cmp.Diff([]string{"e1", "e2", "e3", "e4", "e5", "e6"}, got); diff != "" {
		t.Fatalf("dispatch order mismatch (-want +got):\n%s", diff)
	}
	// each event was dispatched before the following poll was issued
	assert.Equal(t, []int{1, 1, 2, 3, 3, 3}, pollsSeen)
	assert.Equal(t, 1, doer.MaxConcurrent("/meta/connect"))
	assert.Equal(t, StateConnected, session.State())
	assert.False(t, session.LastConnect().IsZero())
}

func TestSessionTransientConnectFailureRetriesOnce(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.EnqueueJSON("/meta/connect", http.StatusOK, `[{"channel":"/meta/connect","successful":false,"advice":{"reconnect":"retry","interval":0}}]`)

	errs := &errorLog{}
	session := startTestSession(t, doer, WithErrorHandler(errs.handler))

	require.True(t, doer.WaitForCount("/meta/connect", 2, time.Second))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, doer.Count("/meta/connect"))
	assert.Equal(t, StateConnecting, session.State())
	assert.NoError(t, session.Err())
	assert.True(t, errs.has(TransientRetryError))
}

func TestSessionTransientConnectHonorsAdviceInterval(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.EnqueueJSON("/meta/connect", http.StatusOK, `[{"channel":"/meta/connect","successful":false,"advice":{"reconnect":"retry","interval":80}}]`)

	session := startTestSession(t, doer)
	require.True(t, doer.WaitForCount("/meta/connect", 1, time.Second))
	first := time.Now()
	require.True(t, doer.WaitForCount("/meta/connect", 2, time.Second))
	assert.GreaterOrEqual(t, time.Since(first), 60*time.Millisecond)
	assert.Equal(t, StateConnecting, session.State())
}

func TestSessionConnectErrorIsFatal(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.EnqueueJSON("/meta/connect", http.StatusOK, `[{"channel":"/meta/connect","successful":false,"error":"403::Unknown client"}]`)

	errs := &errorLog{}
	session := startTestSession(t, doer, WithErrorHandler(errs.handler))

	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatalf("session did not fail")
	}
	assert.Equal(t, StateFailed, session.State())
	require.Error(t, session.Err())
	assert.Equal(t, ProtocolError, ErrorCode(session.Err()))
	assert.Contains(t, session.Err().Error(), "403::Unknown client")
	assert.True(t, errs.has(ProtocolError))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, doer.Count("/meta/connect"))
	assert.Error(t, session.Subscribe("/topic/Foo", func(*Message) error { return nil }))
}

func TestSessionConnectFatalReplies(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantCode int
	}{
		{name: "missing successful", status: http.StatusOK, body: `[{"channel":"/meta/connect"}]`, wantCode: ProtocolError},
		{name: "no connect reply", status: http.StatusOK, body: `[{"channel":"/topic/Foo","data":{}}]`, wantCode: ProtocolError},
		{name: "advice none", status: http.StatusOK, body: `[{"channel":"/meta/connect","successful":false,"advice":{"reconnect":"none"}}]`, wantCode: ProtocolError},
		{name: "advice handshake", status: http.StatusOK, body: `[{"channel":"/meta/connect","successful":false,"advice":{"reconnect":"handshake"}}]`, wantCode: ProtocolError},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `[{"errorCode":"INVALID_SESSION_ID"}]`, wantCode: AuthRejectedError},
		{name: "bad request", status: http.StatusBadRequest, body: `bad`, wantCode: ProtocolError},
		{name: "malformed json", status: http.StatusOK, body: `[{"channel":`, wantCode: MalformedResponseError},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			doer := testutil.NewBayeuxDoer()
			doer.EnqueueJSON("/meta/connect", testCase.status, testCase.body)
			session := startTestSession(t, doer)

			select {
			case <-session.Done():
			case <-time.After(time.Second):
				t.Fatalf("session did not fail")
			}
			assert.Equal(t, StateFailed, session.State())
			assert.Equal(t, testCase.wantCode, ErrorCode(session.Err()))
			assert.Equal(t, 1, doer.Count("/meta/connect"))
		})
	}
}

func TestSessionConnectTransportErrorsAreRetried(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.Enqueue("/meta/connect", testutil.Fail(errors.New("read: connection reset by peer")))
	doer.EnqueueJSON("/meta/connect", http.StatusServiceUnavailable, `unavailable`)
	doer.EnqueueJSON("/meta/connect", http.StatusOK, `[{"channel":"/meta/connect","successful":true}]`)

	session := startTestSession(t, doer)
	require.True(t, doer.WaitForCount("/meta/connect", 4, time.Second))
	waitFor(t, time.Second, func() bool { return session.State() == StateConnected }, "expected CONNECTED, got %s", session.State())
	assert.NoError(t, session.Err())
}

func TestSessionSubscribeRejectedIsNotFatal(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.Enqueue("/meta/subscribe", testutil.EchoSubscription("/meta/subscribe", false, "403::Topic not found"))

	errs := &errorLog{}
	session := startTestSession(t, doer, WithErrorHandler(errs.handler))

	replies := make(chan *Message, 1)
	session.AddListener(ChannelSubscribe, func(message *Message) error {
		replies <- message
		return nil
	})
	require.NoError(t, session.Subscribe("/topic/Missing", func(*Message) error { return nil }))

	var reply *Message
	select {
	case reply = <-replies:
	case <-time.After(time.Second):
		t.Fatalf("no subscribe reply")
	}
	successful, present := reply.IsSuccessful()
	assert.True(t, present)
	assert.False(t, successful)
	assert.Equal(t, "403::Topic not found", reply.Error)
	assert.Equal(t, "/topic/Missing", reply.Subscription)

	waitFor(t, time.Second, func() bool { return errs.has(ProtocolError) }, "expected a protocol diagnostic")
	assert.False(t, session.Subscribed())
	assert.NotEqual(t, StateFailed, session.State())
	assert.NoError(t, session.Err())
}

func TestSessionSubscribeTransportFailureReportsSyntheticReply(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.Enqueue("/meta/subscribe", testutil.Fail(errors.New("connection refused")))

	session := startTestSession(t, doer)
	replies := make(chan *Message, 1)
	session.AddListener(ChannelSubscribe, func(message *Message) error {
		replies <- message
		return nil
	})
	require.NoError(t, session.Subscribe("/topic/Foo", func(*Message) error { return nil }))

	select {
	case reply := <-replies:
		successful, _ := reply.IsSuccessful()
		assert.False(t, successful)
		assert.Contains(t, reply.Error, "TransportError")
	case <-time.After(time.Second):
		t.Fatalf("no synthetic subscribe reply")
	}
	assert.False(t, session.Subscribed())
}

func TestSessionUnsubscribe(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	session := startTestSession(t, doer)

	require.NoError(t, session.Subscribe("/topic/Foo", func(*Message) error { return nil }))
	waitFor(t, time.Second, session.Subscribed, "expected subscription")

	unsubscribed := make(chan struct{})
	session.AddListener(ChannelUnsubscribe, func(message *Message) error {
		close(unsubscribed)
		return nil
	})
	require.NoError(t, session.Unsubscribe("/topic/Foo"))
	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatalf("no unsubscribe reply")
	}
	assert.False(t, session.Subscribed())
	assert.Equal(t, "/topic/Foo", doer.Requests("/meta/unsubscribe")[0].Messages[0].Subscription)
}

func TestSessionSubscribeValidation(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	session := newTestSession(t, doer)

	err := session.Subscribe("/topic/Foo", func(*Message) error { return nil })
	assert.ErrorIs(t, err, ErrDisconnected)

	require.NoError(t, session.Start(context.Background()))
	assert.Equal(t, InvalidConfigError, ErrorCode(session.Subscribe("topic", func(*Message) error { return nil })))
	assert.Equal(t, InvalidConfigError, ErrorCode(session.Subscribe("/meta/connect", func(*Message) error { return nil })))
	assert.Equal(t, InvalidConfigError, ErrorCode(session.Subscribe("/topic/Foo", nil)))

	err = session.Start(context.Background())
	assert.Equal(t, ProtocolError, ErrorCode(err))
}

func TestSessionHandlerFailuresAreContained(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	release := make(chan struct{})
	doer.Enqueue("/meta/connect", testutil.Gate(release, testutil.JSON(http.StatusOK, connectBatch("boom", "panic", "ok"))))

	errs := &errorLog{}
	session := startTestSession(t, doer, WithErrorHandler(errs.handler))
	delivered := &messageLog{}
	require.NoError(t, session.Subscribe("/topic/Foo", func(message *Message) error {
		_ = delivered.handler(message)
		switch eventName(t, message) {
		case "boom":
			return errors.New("consumer failed")
		case "panic":
			panic("consumer exploded")
		}
		return nil
	}))
	waitFor(t, time.Second, session.Subscribed, "expected subscription")
	close(release)

	waitFor(t, time.Second, func() bool { return delivered.len() == 3 }, "expected three deliveries")
	require.True(t, doer.WaitForCount("/meta/connect", 2, time.Second))
	codes := errs.codes()
	assert.Equal(t, 2, countCode(codes, MessageHandlerError))
	assert.Equal(t, StateConnected, session.State())
	assert.NoError(t, session.Err())
}

func countCode(codes []int, code int) int {
	count := 0
	for _, current := range codes {
		if current == code {
			count++
		}
	}
	return count
}

func TestSessionUnhandledMessages(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.EnqueueJSON("/meta/connect", http.StatusOK, `[{"channel":"/topic/Other","data":{"n":"x"}},{"channel":"/meta/connect","successful":true}]`)

	unhandled := &messageLog{}
	startTestSession(t, doer, WithUnhandledMessageHandler(unhandled.handler))
	waitFor(t, time.Second, func() bool { return unhandled.len() == 1 }, "expected unhandled delivery")
	assert.Equal(t, "/topic/Other", unhandled.snapshot()[0].Channel)
}

func TestSessionCloseInterruptsLongPoll(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	doer := testutil.NewBayeuxDoer()
	var states []State
	var lock sync.Mutex
	session := NewSession(testConfig(),
		WithDoer(doer),
		WithAuthenticator(StaticAuthenticator{Credentials: Credentials{SessionToken: "token-1", ServiceHost: testServiceHost}}),
		WithStateListener(func(from State, to State) {
			lock.Lock()
			states = append(states, to)
			lock.Unlock()
		}),
	)
	require.NoError(t, session.Start(context.Background()))
	require.NoError(t, session.Subscribe("/topic/Foo", func(*Message) error { return nil }))
	waitFor(t, time.Second, session.Subscribed, "expected subscription")
	require.True(t, doer.WaitForCount("/meta/connect", 1, time.Second))

	started := time.Now()
	require.NoError(t, session.Close())
	assert.Less(t, time.Since(started), time.Second)

	assert.Equal(t, StateClosed, session.State())
	assert.NoError(t, session.Err())
	assert.False(t, session.Subscribed())
	assert.Equal(t, 1, doer.Count("/meta/disconnect"))
	assert.Equal(t, "client-1", doer.Requests("/meta/disconnect")[0].Messages[0].ClientID)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, doer.Count("/meta/connect"))
	assert.ErrorIs(t, session.Subscribe("/topic/Foo", func(*Message) error { return nil }), ErrDisconnected)
	assert.NoError(t, session.Close())
	assert.NoError(t, session.Wait(context.Background()))

	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, StateClosed, states[len(states)-1])
}

func TestSessionCloseFromErrorHandler(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	release := make(chan struct{})
	doer.Enqueue("/meta/connect", testutil.Gate(release,
		testutil.JSON(http.StatusOK, `[{"channel":"/meta/connect","successful":false,"error":"403::Unknown client"}]`)))

	var session *Session
	returned := make(chan struct{})
	session = startTestSession(t, doer, WithErrorHandler(func(err error) {
		if ErrorCode(err) != ProtocolError {
			return
		}
		_ = session.Close()
		close(returned)
	}))
	close(release)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close from the error handler did not return; state=%s", session.State())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, session.Wait(ctx), ErrProtocol)
	assert.Equal(t, StateFailed, session.State())
	assert.Equal(t, 0, doer.Count("/meta/disconnect"))
	require.NoError(t, session.Close())
}

func TestSessionCloseFromMessageHandler(t *testing.T) {
	cases := []struct {
		name      string
		unhandled bool
	}{
		{name: "subscription handler"},
		{name: "unhandled message handler", unhandled: true},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			doer := testutil.NewBayeuxDoer()
			release := make(chan struct{})
			doer.Enqueue("/meta/connect", testutil.Gate(release, testutil.JSON(http.StatusOK, connectBatch("a"))))

			var session *Session
			returned := make(chan struct{})
			handler := func(*Message) error {
				_ = session.Close()
				close(returned)
				return nil
			}
			var opts []Option
			if testCase.unhandled {
				opts = append(opts, WithUnhandledMessageHandler(handler))
			}
			session = startTestSession(t, doer, opts...)
			if !testCase.unhandled {
				require.NoError(t, session.Subscribe("/topic/Foo", handler))
				waitFor(t, time.Second, session.Subscribed, "expected subscription")
			}
			close(release)

			select {
			case <-returned:
			case <-time.After(2 * time.Second):
				t.Fatalf("Close from a handler did not return; state=%s", session.State())
			}
			select {
			case <-session.Done():
			case <-time.After(2 * time.Second):
				t.Fatalf("session did not finish closing")
			}
			assert.Equal(t, StateClosed, session.State())
			assert.NoError(t, session.Err())
			assert.Equal(t, 1, doer.Count("/meta/disconnect"))
			assert.False(t, session.Subscribed())
			require.NoError(t, session.Close())
		})
	}
}

func TestSessionCloseFromStateListener(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	var session *Session
	session = newTestSession(t, doer, WithStateListener(func(from State, to State) {
		if to == StateHandshaking {
			_ = session.Close()
		}
	}))

	assert.ErrorIs(t, session.Start(context.Background()), ErrDisconnected)
	assert.Equal(t, StateClosed, session.State())
	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatalf("session did not finish closing")
	}
}

func TestGoroutineIDDistinguishesGoroutines(t *testing.T) {
	current := goroutineID()
	require.NotZero(t, current)
	assert.Equal(t, current, goroutineID())

	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, current, <-other)
}

func TestSessionCloseBeforeStart(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	session := newTestSession(t, doer)
	require.NoError(t, session.Close())
	assert.Equal(t, StateClosed, session.State())
	assert.ErrorIs(t, session.Start(context.Background()), ErrDisconnected)
	assert.Equal(t, 0, doer.Count("/meta/disconnect"))
}

func TestSessionWaitReturnsFatalError(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	doer.EnqueueJSON("/meta/connect", http.StatusOK, `[{"channel":"/meta/connect","successful":false,"error":"401::Authentication invalid"}]`)
	session := startTestSession(t, doer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := session.Wait(ctx)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDialWithStaticCredentials(t *testing.T) {
	doer := testutil.NewBayeuxDoer()
	session, err := Dial(context.Background(), testConfig(),
		WithDoer(doer),
		WithAuthenticator(StaticAuthenticator{Credentials: Credentials{SessionToken: "t", ServiceHost: testServiceHost}}),
	)
	require.NoError(t, err)
	defer session.Close()
	assert.NotEmpty(t, session.ID())

	_, err = Dial(context.Background(), testConfig(), WithDoer(doer), WithAuthenticator(StaticAuthenticator{}))
	assert.ErrorIs(t, err, ErrAuthRejected)
}
