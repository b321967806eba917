package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	stageLogin       = "login"
	stageHandshake   = "handshake"
	stageConnect     = "connect"
	stageSubscribe   = "subscribe"
	stageUnsubscribe = "unsubscribe"
	stageDisconnect  = "disconnect"

	commandQueueDepth = 64
)

// State is the lifecycle state of a Session.
type State int32

// Session states. StateFailed and StateClosed are terminal.
const (
	StateInit State = iota
	StateHandshaking
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateInit:
		return "INIT"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions can happen.
func (state State) Terminal() bool {
	return state == StateFailed || state == StateClosed
}

// StateListener observes state transitions. It runs synchronously on the
// goroutine making the transition.
type StateListener func(from State, to State)

// Option configures a Session.
type Option func(session *Session)

// WithAuthenticator replaces the SOAP login.
func WithAuthenticator(authenticator Authenticator) Option {
	return func(session *Session) { session.authenticator = authenticator }
}

// WithDoer replaces the HTTP client used for login and streaming.
func WithDoer(doer Doer) Option {
	return func(session *Session) { session.doer = doer }
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(session *Session) { session.logger = logger }
}

// WithLogLevel sets the minimum level of the session logger.
func WithLogLevel(level zerolog.Level) Option {
	return func(session *Session) { session.level = &level }
}

// WithObserver adds a request lifecycle observer.
func WithObserver(observer RequestObserver) Option {
	return func(session *Session) { session.observers = append(session.observers, observer) }
}

// WithStateListener adds a state transition listener.
func WithStateListener(listener StateListener) Option {
	return func(session *Session) { session.stateListeners = append(session.stateListeners, listener) }
}

// WithReconnectDelayStrategy sets the delay policy for transient connect
// failures that carry no server advice.
func WithReconnectDelayStrategy(strategy ReconnectDelayStrategy) Option {
	return func(session *Session) { session.strategy = strategy }
}

// WithErrorHandler receives fatal errors and non-fatal diagnostics such as
// rejected subscriptions and failing message handlers.
func WithErrorHandler(handler func(err error)) Option {
	return func(session *Session) { session.errorHandler = handler }
}

// WithUnhandledMessageHandler receives data messages no subscription matches.
func WithUnhandledMessageHandler(handler MessageHandler) Option {
	return func(session *Session) { session.dispatcher.SetUnhandledMessageHandler(handler) }
}

type commandKind int

const (
	commandSubscribe commandKind = iota
	commandUnsubscribe
)

type command struct {
	kind    commandKind
	channel string
	handler MessageHandler
}

type pollResult struct {
	messages []*Message
	err      error
}

// Session is one authenticated Bayeux session over HTTP long-polling. A
// single worker goroutine owns the connect loop; Subscribe and Unsubscribe
// are serialized through it.
type Session struct {
	id             string
	cfg            Config
	authenticator  Authenticator
	doer           Doer
	logger         zerolog.Logger
	level          *zerolog.Level
	observers      observers
	stateListeners []StateListener
	strategy       ReconnectDelayStrategy
	errorHandler   func(err error)
	dispatcher     *Dispatcher
	subscriptions  *SubscriptionManager

	lock          sync.Mutex
	state         State
	started       bool
	workerStarted bool
	workerExited  bool
	closing       bool
	closeFrom     State
	polling       bool
	transport     *AuthorizedTransport
	endpoint      string
	clientID      string
	lastHandshake time.Time
	lastConnect   time.Time
	err           error

	nextID     atomic.Uint64
	pollers    sync.WaitGroup
	commands   chan command
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	doneOnce   sync.Once
	workerDone chan struct{}
	// callbackGoroutine is the id of the goroutine running handlers and
	// listeners, 0 when none. A Close issued from that goroutine must not
	// wait on itself.
	callbackGoroutine atomic.Uint64
}

// NewSession builds an idle session. Nothing touches the network until Start.
func NewSession(cfg Config, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		id:            uuid.NewString(),
		cfg:           cfg.withDefaults(),
		logger:        zerolog.Nop(),
		dispatcher:    NewDispatcher(),
		subscriptions: NewSubscriptionManager(),
		commands:      make(chan command, commandQueueDepth),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		workerDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(session)
		}
	}

	if session.level != nil {
		session.logger = session.logger.Level(*session.level)
	}
	session.logger = session.logger.With().Str("session", session.id).Logger()
	if session.doer == nil {
		session.doer = NewHTTPClient(session.cfg.ConnectTimeout.Std(), session.cfg.ReadTimeout.Std())
	}
	if session.authenticator == nil {
		session.authenticator = &SOAPAuthenticator{Observers: session.observers}
	}
	if session.strategy == nil {
		session.strategy = NewExponentialDelayStrategy(time.Second, 30*time.Second, 2)
	}
	session.dispatcher.SetErrorHandler(session.report)
	return session
}

// Dial creates a session and starts it.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	session := NewSession(cfg, opts...)
	if err := session.Start(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}
	return session, nil
}

// ID is a random identifier used to correlate log lines.
func (session *Session) ID() string { return session.id }

// State returns the current state.
func (session *Session) State() State {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.state
}

// Subscribed reports whether at least one subscription is active.
func (session *Session) Subscribed() bool { return session.subscriptions.Len() > 0 }

// Subscriptions returns the active channels, sorted.
func (session *Session) Subscriptions() []string { return session.subscriptions.Channels() }

// ClientID is the Bayeux client id assigned by the handshake.
func (session *Session) ClientID() string {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.clientID
}

// LastHandshake is when the handshake succeeded.
func (session *Session) LastHandshake() time.Time {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.lastHandshake
}

// LastConnect is when the most recent connect response arrived.
func (session *Session) LastConnect() time.Time {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.lastConnect
}

// Outstanding reports whether a connect long-poll is in flight.
func (session *Session) Outstanding() bool {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.polling
}

// Done is closed once the session is FAILED or CLOSED.
func (session *Session) Done() <-chan struct{} { return session.done }

// Err returns the fatal error of a FAILED session, nil otherwise.
func (session *Session) Err() error {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.err
}

// Wait blocks until the session terminates or ctx is done.
func (session *Session) Wait(ctx context.Context) error {
	select {
	case <-session.done:
		return session.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddListener observes replies on a meta channel such as ChannelSubscribe.
func (session *Session) AddListener(metaChannel string, handler MessageHandler) {
	session.dispatcher.AddListener(metaChannel, handler)
}

// Start logs in, builds the authorized transport and handshakes. It returns
// once the handshake has resolved; the connect loop then runs in the
// background until Close or a fatal error.
func (session *Session) Start(ctx context.Context) error {
	session.lock.Lock()
	switch {
	case session.state.Terminal():
		state := session.state
		session.lock.Unlock()
		return stageError(DisconnectedError, stageLogin, "session is "+state.String())
	case session.started:
		session.lock.Unlock()
		return stageError(ProtocolError, stageLogin, "session already started")
	}
	session.started = true
	session.lock.Unlock()

	ctx, release := session.bind(ctx)
	defer release()

	session.logger.Info().Str("login", session.cfg.LoginURL()).Str("username", session.cfg.Username).Msg("logging in")
	credentials, err := session.authenticator.Authenticate(ctx, session.cfg, session.doer)
	if err != nil {
		return session.abortStart(err)
	}
	if credentials.SessionToken == "" || credentials.ServiceHost == "" {
		return session.abortStart(stageError(AuthRejectedError, stageLogin, "authenticator returned incomplete credentials"))
	}

	session.lock.Lock()
	session.transport = NewAuthorizedTransport(session.doer, credentials.SessionToken, session.cfg.ReadTimeout.Std())
	session.endpoint = session.cfg.StreamingURL(credentials.ServiceHost)
	session.lock.Unlock()
	session.logger.Info().Str("endpoint", session.endpoint).Msg("login successful")

	session.setState(StateHandshaking)
	if err := session.handshake(ctx); err != nil {
		return session.abortStart(err)
	}

	session.lock.Lock()
	if session.state.Terminal() {
		session.lock.Unlock()
		return stageError(DisconnectedError, stageHandshake, "session closed during start")
	}
	session.workerStarted = true
	session.lock.Unlock()

	session.setState(StateConnecting)
	go session.run()
	return nil
}

// bind returns a context cancelled by either ctx or the session closing.
func (session *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(session.ctx, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}

func (session *Session) abortStart(err error) error {
	if session.ctx.Err() != nil {
		return stageError(DisconnectedError, stageLogin, "session closed during start", err)
	}
	session.fail(err)
	return err
}

func (session *Session) handshake(ctx context.Context) error {
	deadline := session.cfg.HandshakeTimeout.Std()
	handshakeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(session.cfg.HandshakeInterval.Std()), 1)
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(handshakeCtx); err != nil {
			if ctx.Err() != nil {
				return stageError(DisconnectedError, stageHandshake, "handshake cancelled", ctx.Err())
			}
			return stageError(HandshakeTimeoutError, stageHandshake,
				fmt.Sprintf("no successful handshake within %s after %d attempts", deadline, attempt-1), lastErr)
		}
		if attempt > 1 {
			session.observers.notify(RequestEvent{Kind: EventRetried, Stage: stageHandshake, Method: http.MethodPost, URL: session.endpoint, Attempt: attempt, Err: lastErr})
		}

		request := &Message{
			Channel:                  ChannelHandshake,
			ID:                       session.nextMessageID(),
			Version:                  BayeuxVersion,
			MinimumVersion:           BayeuxVersion,
			SupportedConnectionTypes: []string{ConnectionLongPolling},
		}
		messages, err := session.roundTrip(handshakeCtx, stageHandshake, attempt, request)
		if err != nil {
			if code := ErrorCode(err); code != TransportError && code != TransientRetryError {
				return err
			}
			lastErr = err
			session.logger.Warn().Err(err).Int("attempt", attempt).Msg("handshake attempt failed")
			continue
		}

		reply := session.deliverWithReply(messages, ChannelHandshake)
		if reply == nil {
			return stageError(ProtocolError, stageHandshake, "response carried no handshake reply")
		}
		successful, present := reply.IsSuccessful()
		switch {
		case successful && reply.ClientID == "":
			return stageError(ProtocolError, stageHandshake, "handshake reply without clientId")
		case successful:
			session.lock.Lock()
			session.clientID = reply.ClientID
			session.lastHandshake = time.Now()
			session.lock.Unlock()
			session.logger.Info().Str("client_id", reply.ClientID).Int("attempt", attempt).Msg("handshake successful")
			return nil
		case reply.Error != "":
			return stageError(ProtocolError, stageHandshake, reply.Error)
		case !present:
			return stageError(ProtocolError, stageHandshake, "handshake reply without successful flag")
		}
		lastErr = stageError(TransientRetryError, stageHandshake, "handshake unsuccessful")
	}
}

// deliverWithReply dispatches messages in order and returns the first one
// on replyChannel.
func (session *Session) deliverWithReply(messages []*Message, replyChannel string) *Message {
	var reply *Message
	for _, message := range messages {
		if reply == nil && message.Channel == replyChannel {
			reply = message
		}
		session.dispatcher.Deliver(message)
	}
	return reply
}

func (session *Session) nextMessageID() string {
	return strconv.FormatUint(session.nextID.Add(1), 10)
}

func (session *Session) roundTrip(ctx context.Context, stage string, attempt int, message *Message) ([]*Message, error) {
	payload, err := json.Marshal([]*Message{message})
	if err != nil {
		return nil, stageError(ProtocolError, stage, "encoding request", err)
	}
	request, err := newJSONRequest(ctx, session.endpoint, payload)
	if err != nil {
		return nil, stageError(InvalidConfigError, stage, session.endpoint, err)
	}

	result, err := exchange(session.transport, request, stage, attempt, session.observers)
	if err != nil {
		return nil, stageError(TransportError, stage, session.endpoint, err)
	}
	if result.status < 200 || result.status > 299 {
		return nil, statusError(stage, result)
	}

	messages, err := decodeMessages(result.body)
	if err != nil {
		typed := err.(*Error)
		typed.Stage = stage
		typed.Detail = string(result.body)
		return nil, typed
	}
	return messages, nil
}

func statusError(stage string, result exchangeResult) error {
	code := ProtocolError
	switch {
	case result.status == http.StatusUnauthorized || result.status == http.StatusForbidden:
		code = AuthRejectedError
	case result.status >= 500, result.status == http.StatusRequestTimeout, result.status == http.StatusTooManyRequests:
		code = TransientRetryError
	}
	err := stageError(code, stage, fmt.Sprintf("HTTP %d", result.status)).(*Error)
	err.Detail = strings.TrimSpace(string(result.body))
	return err
}

func (session *Session) run() {
	results := make(chan pollResult, 1)
	var retryTimer *time.Timer
	var retry <-chan time.Time
	attempt := 0

	issue := func() {
		if session.ctx.Err() != nil {
			return
		}
		attempt++
		session.lock.Lock()
		session.polling = true
		session.lock.Unlock()
		session.pollers.Add(1)
		go session.poll(attempt, results)
	}
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
		session.pollers.Wait()

		session.lock.Lock()
		session.workerExited = true
		closing, from := session.closing, session.closeFrom
		session.lock.Unlock()
		if closing {
			session.shutdown(from)
		}
		close(session.workerDone)
	}()

	issue()
	for {
		select {
		case <-session.ctx.Done():
			return
		case cmd := <-session.commands:
			session.callback(func() { session.execute(cmd) })
		case <-retry:
			retry = nil
			issue()
		case result := <-results:
			session.lock.Lock()
			session.polling = false
			session.lock.Unlock()

			var delay time.Duration
			var err error
			session.callback(func() {
				delay, err = session.handleConnect(result)
				if err != nil && session.ctx.Err() == nil {
					session.fail(err)
				}
			})
			if err != nil || session.ctx.Err() != nil {
				return
			}
			if delay <= 0 {
				issue()
				continue
			}
			retryTimer = time.NewTimer(delay)
			retry = retryTimer.C
		}
	}
}

func (session *Session) poll(attempt int, results chan<- pollResult) {
	defer session.pollers.Done()
	request := &Message{
		Channel:        ChannelConnect,
		ID:             session.nextMessageID(),
		ClientID:       session.ClientID(),
		ConnectionType: ConnectionLongPolling,
	}
	messages, err := session.roundTrip(session.ctx, stageConnect, attempt, request)
	results <- pollResult{messages: messages, err: err}
}

// handleConnect dispatches one connect response and returns the delay before
// the next poll, or a fatal error.
func (session *Session) handleConnect(result pollResult) (time.Duration, error) {
	if result.err != nil {
		if session.ctx.Err() != nil {
			return 0, result.err
		}
		switch ErrorCode(result.err) {
		case TransportError, TransientRetryError:
			return session.transient(result.err, nil)
		}
		return 0, result.err
	}

	reply := session.deliverWithReply(result.messages, ChannelConnect)

	session.lock.Lock()
	session.lastConnect = time.Now()
	session.lock.Unlock()

	if reply == nil {
		return 0, stageError(ProtocolError, stageConnect, "response carried no connect reply")
	}

	successful, present := reply.IsSuccessful()
	if !successful && reply.Error != "" {
		return 0, stageError(ProtocolError, stageConnect, reply.Error)
	}
	if reply.Advice != nil && (reply.Advice.Reconnect == ReconnectNone || reply.Advice.Reconnect == ReconnectHandshake) {
		return 0, stageError(ProtocolError, stageConnect, "server advised reconnect="+reply.Advice.Reconnect)
	}
	if !present {
		return 0, stageError(ProtocolError, stageConnect, "connect reply without successful flag")
	}
	if !successful {
		return session.transient(stageError(TransientRetryError, stageConnect, "connect unsuccessful"), reply.Advice)
	}

	session.setState(StateConnected)
	session.strategy.Reset()
	if reply.Advice != nil && reply.Advice.Interval > 0 {
		return time.Duration(reply.Advice.Interval) * time.Millisecond, nil
	}
	return 0, nil
}

func (session *Session) transient(cause error, advice *Advice) (time.Duration, error) {
	session.setState(StateConnecting)

	var delay time.Duration
	if advice != nil && advice.Interval > 0 {
		delay = time.Duration(advice.Interval) * time.Millisecond
	} else {
		wait, err := session.strategy.GetConnectWaitDuration(session.endpoint)
		if err != nil {
			return 0, stageError(ProtocolError, stageConnect, "reconnect strategy", err)
		}
		delay = wait
	}

	session.observers.notify(RequestEvent{Kind: EventRetried, Stage: stageConnect, Method: http.MethodPost, URL: session.endpoint, Err: cause})
	session.logger.Info().Err(cause).Dur("delay", delay).Msg("connect will be retried")
	session.report(cause)
	return delay, nil
}

// Subscribe asks the server for channel. The result arrives asynchronously
// on ChannelSubscribe listeners; a rejected subscription is also passed to
// the error handler and leaves the session connected.
func (session *Session) Subscribe(channel string, handler MessageHandler) error {
	if err := validateChannel(channel, stageSubscribe); err != nil {
		return err
	}
	if handler == nil {
		return stageError(InvalidConfigError, stageSubscribe, "nil handler for "+channel)
	}
	return session.enqueue(command{kind: commandSubscribe, channel: channel, handler: handler})
}

// Unsubscribe drops channel. The result arrives on ChannelUnsubscribe
// listeners.
func (session *Session) Unsubscribe(channel string) error {
	if err := validateChannel(channel, stageUnsubscribe); err != nil {
		return err
	}
	return session.enqueue(command{kind: commandUnsubscribe, channel: channel})
}

func validateChannel(channel string, stage string) error {
	if !strings.HasPrefix(channel, "/") || strings.HasPrefix(channel, "/meta/") {
		return stageError(InvalidConfigError, stage, fmt.Sprintf("invalid channel %q", channel))
	}
	return nil
}

func (session *Session) enqueue(cmd command) error {
	session.lock.Lock()
	state := session.state
	workerStarted := session.workerStarted
	session.lock.Unlock()

	if state.Terminal() {
		return stageError(DisconnectedError, "", "session is "+state.String())
	}
	if !workerStarted {
		return stageError(DisconnectedError, "", "session is not handshaken")
	}
	select {
	case <-session.done:
		return stageError(DisconnectedError, "", "session terminated")
	case session.commands <- cmd:
		return nil
	}
}

func (session *Session) execute(cmd command) {
	switch cmd.kind {
	case commandSubscribe:
		session.executeMeta(ChannelSubscribe, stageSubscribe, cmd.channel, func(successful bool) {
			if successful {
				session.subscriptions.Subscribe(cmd.channel)
				session.dispatcher.AddRoute(cmd.channel, cmd.handler)
			}
		})
	case commandUnsubscribe:
		session.executeMeta(ChannelUnsubscribe, stageUnsubscribe, cmd.channel, func(successful bool) {
			if successful {
				session.subscriptions.Unsubscribe(cmd.channel)
				session.dispatcher.RemoveRoute(cmd.channel)
			}
		})
	}
}

// executeMeta sends a subscribe/unsubscribe request. apply runs before the
// response is dispatched so data piggybacked on a successful reply finds
// its route.
func (session *Session) executeMeta(metaChannel string, stage string, channel string, apply func(successful bool)) {
	request := &Message{
		Channel:      metaChannel,
		ID:           session.nextMessageID(),
		ClientID:     session.ClientID(),
		Subscription: channel,
	}

	messages, err := session.roundTrip(session.ctx, stage, 1, request)
	if err != nil {
		if session.ctx.Err() != nil {
			return
		}
		session.report(err)
		session.dispatcher.Deliver(&Message{Channel: metaChannel, Subscription: channel, Successful: boolPtr(false), Error: err.Error()})
		return
	}

	var reply *Message
	for _, message := range messages {
		if message.Channel == metaChannel {
			reply = message
			break
		}
	}
	successful, _ := reply.IsSuccessful()
	apply(successful)

	if reply == nil {
		reply = &Message{Channel: metaChannel, Subscription: channel, Successful: boolPtr(false), Error: "no " + stage + " reply"}
		messages = append(messages, reply)
	}
	for _, message := range messages {
		session.dispatcher.Deliver(message)
	}

	if successful {
		session.logger.Info().Str("channel", channel).Msg(stage + " successful")
		return
	}
	text := reply.Error
	if text == "" {
		text = stage + " rejected"
	}
	session.report(stageError(ProtocolError, stage, fmt.Sprintf("%s: %s", channel, text)))
}

// Close ends the session: it interrupts an outstanding long-poll, waits for
// the worker, sends a best-effort disconnect and releases connections. A
// FAILED session stays FAILED.
//
// Close may be called from a handler, listener or error handler. It then
// returns at once and the worker finishes the shutdown after the callback
// returns; Done reports completion.
func (session *Session) Close() error {
	session.lock.Lock()
	first := !session.closing
	from := session.state
	inline := false
	if first {
		session.closing = true
		session.closeFrom = from
		if !from.Terminal() {
			session.state = StateClosed
		}
		inline = !session.workerStarted || session.workerExited
	}
	workerStarted := session.workerStarted
	session.lock.Unlock()

	if first {
		session.cancel()
		if inline {
			session.shutdown(from)
		}
	}
	if session.inCallback() {
		return nil
	}
	if workerStarted {
		<-session.workerDone
	}
	<-session.done
	return nil
}

// shutdown runs once, on the worker when it was started and otherwise on
// the goroutine calling Close.
func (session *Session) shutdown(from State) {
	session.callback(func() {
		session.lock.Lock()
		clientID := session.clientID
		transport := session.transport
		session.lock.Unlock()

		if !from.Terminal() && clientID != "" && transport != nil {
			session.disconnect(clientID)
		}
		session.subscriptions.Clear()
		session.dispatcher.Clear()
		if transport != nil {
			transport.CloseIdleConnections()
		}
		if !from.Terminal() {
			session.notifyState(from, StateClosed)
			session.logger.Info().Str("from", from.String()).Msg("session closed")
		}
	})
	session.closeDone()
}

// callback marks the calling goroutine as running session callbacks.
func (session *Session) callback(fn func()) {
	previous := session.callbackGoroutine.Swap(goroutineID())
	defer session.callbackGoroutine.Store(previous)
	fn()
}

func (session *Session) inCallback() bool {
	owner := session.callbackGoroutine.Load()
	return owner != 0 && owner == goroutineID()
}

// goroutineID reads the current goroutine id from the "goroutine N [...]"
// stack header.
func goroutineID() uint64 {
	var buffer [64]byte
	fields := bytes.Fields(buffer[:runtime.Stack(buffer[:], false)])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

func (session *Session) disconnect(clientID string) {
	ctx, cancel := context.WithTimeout(context.Background(), session.cfg.ConnectTimeout.Std())
	defer cancel()

	request := &Message{Channel: ChannelDisconnect, ID: session.nextMessageID(), ClientID: clientID}
	messages, err := session.roundTrip(ctx, stageDisconnect, 1, request)
	if err != nil {
		session.logger.Debug().Err(err).Msg("disconnect failed")
		return
	}
	for _, message := range messages {
		session.dispatcher.Deliver(message)
	}
}

func (session *Session) setState(to State) {
	session.lock.Lock()
	from := session.state
	if from.Terminal() || from == to {
		session.lock.Unlock()
		return
	}
	session.state = to
	session.lock.Unlock()
	session.notifyState(from, to)
}

func (session *Session) notifyState(from State, to State) {
	session.logger.Debug().Str("from", from.String()).Str("state", to.String()).Msg("state transition")
	for _, listener := range session.stateListeners {
		func() {
			defer func() { _ = recover() }()
			listener(from, to)
		}()
	}
}

func (session *Session) fail(err error) {
	session.lock.Lock()
	from := session.state
	if from.Terminal() {
		session.lock.Unlock()
		return
	}
	session.state = StateFailed
	session.err = err
	session.lock.Unlock()

	session.logger.Error().Err(err).Str("from", from.String()).Msg("session failed")
	session.cancel()
	session.subscriptions.Clear()
	session.dispatcher.Clear()
	session.notifyState(from, StateFailed)
	session.reportError(err)
	session.closeDone()
}

// report passes a non-fatal diagnostic to the error handler.
func (session *Session) report(err error) {
	if err == nil {
		return
	}
	session.logger.Warn().Err(err).Int("code", ErrorCode(err)).Msg("diagnostic")
	session.reportError(err)
}

func (session *Session) reportError(err error) {
	if session.errorHandler == nil {
		return
	}
	defer func() { _ = recover() }()
	session.errorHandler(err)
}

func (session *Session) closeDone() {
	session.doneOnce.Do(func() { close(session.done) })
}
