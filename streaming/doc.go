// Package streaming is a client for Bayeux streaming endpoints that sit
// behind a SOAP partner login, such as the Salesforce Streaming API.
//
// The primary lifecycle is:
//   - build a Config (DefaultConfig, LoadConfig or ParseConfig)
//   - construct a Session with NewSession, or use Dial
//   - Start logs in, wraps the HTTP client in an AuthorizedTransport and
//     performs the Bayeux handshake
//   - Subscribe to channels; inbound events are dispatched synchronously, in
//     arrival order, to the handler bound to each channel
//   - Close when finished, or Wait for a fatal error
//
// A session owns one worker goroutine that keeps exactly one /meta/connect
// long-poll outstanding. The next poll is only issued after every message of
// the previous response has been dispatched, so a slow handler slows the
// loop down instead of queueing events.
//
// Errors are *Error values created with NewError. Login failures
// (TransportError, MalformedResponseError, AuthRejectedError) and handshake
// failures (HandshakeTimeoutError, ProtocolError) are returned from Start.
// In the connect loop, unsuccessful replies without an error field and
// transport failures are retried; explicit server errors move the session to
// StateFailed and are reported through Err and the error handler.
package streaming
