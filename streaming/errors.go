package streaming

import (
	"errors"
	"fmt"
)

const (
	TransportError = iota

	MalformedResponseError

	AuthRejectedError

	HandshakeTimeoutError

	ProtocolError

	TransientRetryError

	DisconnectedError

	MessageHandlerError

	InvalidConfigError

	UnknownError
)

// Error is the typed error returned by login and session operations.
//
// Detail carries diagnostic text that is too large or too raw for Error(),
// such as the body of a rejected login response.
type Error struct {
	Code    int
	Stage   string
	Message string
	Detail  string
	Cause   error
}

func errorName(errorCode int) string {
	switch errorCode {
	case TransportError:
		return "TransportError"
	case MalformedResponseError:
		return "MalformedResponseError"
	case AuthRejectedError:
		return "AuthRejectedError"
	case HandshakeTimeoutError:
		return "HandshakeTimeoutError"
	case ProtocolError:
		return "ProtocolError"
	case TransientRetryError:
		return "TransientRetryError"
	case DisconnectedError:
		return "DisconnectedError"
	case MessageHandlerError:
		return "MessageHandlerError"
	case InvalidConfigError:
		return "InvalidConfigError"
	default:
		return "UnknownError"
	}
}

func (err *Error) Error() string {
	if err == nil {
		return "<nil>"
	}
	text := errorName(err.Code)
	if err.Stage != "" {
		text += " [" + err.Stage + "]"
	}
	if err.Message != "" {
		text += ": " + err.Message
	}
	if err.Cause != nil {
		text += ": " + err.Cause.Error()
	}
	return text
}

func (err *Error) Unwrap() error {
	if err == nil {
		return nil
	}
	return err.Cause
}

// Is matches any *Error carrying the same code.
func (err *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok || err == nil || other == nil {
		return false
	}
	return err.Code == other.Code
}

// Fatal reports whether the error terminates a session.
func (err *Error) Fatal() bool {
	if err == nil {
		return false
	}
	switch err.Code {
	case TransientRetryError, MessageHandlerError:
		return false
	}
	return true
}

// NewError builds an *Error. An optional first message argument becomes the
// message text; an error argument is kept as the cause instead.
func NewError(errorCode int, message ...interface{}) error {
	err := &Error{Code: errorCode}
	if errorCode < TransportError || errorCode > UnknownError {
		err.Code = UnknownError
	}

	for _, part := range message {
		switch value := part.(type) {
		case error:
			if err.Cause == nil {
				err.Cause = value
			}
		case string:
			if err.Message == "" {
				err.Message = value
			}
		default:
			if err.Message == "" {
				err.Message = fmt.Sprint(value)
			}
		}
	}

	return err
}

func stageError(errorCode int, stage string, message ...interface{}) error {
	err := NewError(errorCode, message...).(*Error)
	err.Stage = stage
	return err
}

// ErrorCode returns the code of the first *Error in err's chain, or
// UnknownError.
func ErrorCode(err error) int {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return UnknownError
}

// Sentinels for errors.Is comparisons.
var (
	ErrTransport         = &Error{Code: TransportError}
	ErrMalformedResponse = &Error{Code: MalformedResponseError}
	ErrAuthRejected      = &Error{Code: AuthRejectedError}
	ErrHandshakeTimeout  = &Error{Code: HandshakeTimeoutError}
	ErrProtocol          = &Error{Code: ProtocolError}
	ErrDisconnected      = &Error{Code: DisconnectedError}
)
