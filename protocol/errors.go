// Package protocol implements the wire format shared by the rendezvous and
// the proxy-client: the frame codec and the control-message tagged union.
package protocol

import "fmt"

// Kind classifies a protocol-level failure so call sites can switch on it
// instead of matching error strings.
type Kind int

const (
	KindIO Kind = iota
	KindFrameTooLong
	KindMalformedFrame
	KindHandshakeTimeout
	KindWrongPacket
	KindAuthError
	KindServerAlreadyConnected
	KindServerNotFound
	KindTooManyClients
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "Io"
	case KindFrameTooLong:
		return "FrameTooLong"
	case KindMalformedFrame:
		return "MalformedFrame"
	case KindHandshakeTimeout:
		return "HandshakeTimeout"
	case KindWrongPacket:
		return "WrongPacket"
	case KindAuthError:
		return "AuthError"
	case KindServerAlreadyConnected:
		return "ServerAlreadyConnected"
	case KindServerNotFound:
		return "ServerNotFound"
	case KindTooManyClients:
		return "TooManyClients"
	default:
		return "Unknown"
	}
}

// Error is the single error type produced by this module's packages. It
// carries a Kind so callers can branch on category while %w-wrapping keeps
// the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// ErrNeedMore signals that a decode needs more buffered bytes before it can
// produce a full frame or handshake. It is not carried in Error since it is
// a control-flow sentinel, not a failure.
var ErrNeedMore = fmt.Errorf("need more data")
