package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thejuampi/force-streaming-go/streaming/internal/testutil"
)

const testServiceHost = "https://na1.example.com"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Username = "user@example.com"
	cfg.Password = "secret"
	cfg.ConnectTimeout = Duration(time.Second)
	cfg.ReadTimeout = Duration(5 * time.Second)
	cfg.HandshakeTimeout = Duration(2 * time.Second)
	cfg.HandshakeInterval = Duration(10 * time.Millisecond)
	return cfg
}

func newTestSession(t *testing.T, doer *testutil.BayeuxDoer, opts ...Option) *Session {
	t.Helper()
	base := []Option{
		WithDoer(doer),
		WithAuthenticator(StaticAuthenticator{Credentials: Credentials{SessionToken: "token-1", ServiceHost: testServiceHost}}),
		WithReconnectDelayStrategy(NewFixedDelayStrategy(0)),
	}
	session := NewSession(testConfig(), append(base, opts...)...)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func startTestSession(t *testing.T, doer *testutil.BayeuxDoer, opts ...Option) *Session {
	t.Helper()
	session := newTestSession(t, doer, opts...)
	require.NoError(t, session.Start(context.Background()))
	return session
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool, format string, args ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}

// messageLog collects delivered messages in order.
type messageLog struct {
	lock     sync.Mutex
	messages []*Message
}

func (log *messageLog) handler(message *Message) error {
	log.lock.Lock()
	log.messages = append(log.messages, message)
	log.lock.Unlock()
	return nil
}

func (log *messageLog) snapshot() []*Message {
	log.lock.Lock()
	defer log.lock.Unlock()
	return append([]*Message(nil), log.messages...)
}

func (log *messageLog) len() int {
	log.lock.Lock()
	defer log.lock.Unlock()
	return len(log.messages)
}

// errorLog collects errors passed to the session error handler.
type errorLog struct {
	lock   sync.Mutex
	errors []error
}

func (log *errorLog) handler(err error) {
	log.lock.Lock()
	log.errors = append(log.errors, err)
	log.lock.Unlock()
}

func (log *errorLog) codes() []int {
	log.lock.Lock()
	defer log.lock.Unlock()
	codes := make([]int, 0, len(log.errors))
	for _, err := range log.errors {
		codes = append(codes, ErrorCode(err))
	}
	return codes
}

func (log *errorLog) has(code int) bool {
	for _, current := range log.codes() {
		if current == code {
			return true
		}
	}
	return false
}
