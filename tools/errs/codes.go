package errs

import "github.com/pkg/errors"

const (
	ServerInternalError = 500
	ArgsError           = 1000

	CredentialMissing   = 1001
	CredentialMalformed = 1002
	CredentialExpired   = 1003
	AuthRejected        = 1004
	TransportError      = 1010
	ProtocolError       = 1011
	RequestError        = 1020
	UserActionError     = 1021
	NotConnected        = 1030
	RetryExhausted      = 1031
	Closed              = 1032
)

var (
	ErrArgs                = NewCodeError(ArgsError, "invalid argument")
	ErrCredentialMissing   = NewCodeError(CredentialMissing, "credential missing")
	ErrCredentialMalformed = NewCodeError(CredentialMalformed, "credential malformed")
	ErrCredentialExpired   = NewCodeError(CredentialExpired, "credential expired")
	ErrAuthRejected        = NewCodeError(AuthRejected, "authentication rejected")
	ErrTransport           = NewCodeError(TransportError, "transport error")
	ErrProtocol            = NewCodeError(ProtocolError, "protocol error")
	ErrRequest             = NewCodeError(RequestError, "request failed")
	ErrUserAction          = NewCodeError(UserActionError, "action failed")
	ErrNotConnected        = NewCodeError(NotConnected, "not connected")
	ErrRetryExhausted      = NewCodeError(RetryExhausted, "reconnect attempts exhausted")
	ErrClosed              = NewCodeError(Closed, "closed")
)

// IsFatalPrecondition reports a credential problem detected before connecting.
// Such failures are never retried automatically.
func IsFatalPrecondition(err error) bool {
	return errors.Is(err, ErrCredentialMissing) ||
		errors.Is(err, ErrCredentialMalformed) ||
		errors.Is(err, ErrCredentialExpired)
}

func IsAuthRejected(err error) bool {
	return errors.Is(err, ErrAuthRejected)
}
