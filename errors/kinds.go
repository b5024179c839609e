package errors

import stderrors "errors"

// Protocol error kinds. Wrap one with Wrapf to attach context while keeping
// it matchable with Is.
var (
	// ErrConnection marks a failed connect or accept. Fatal to that attempt
	// only; nothing retries automatically.
	ErrConnection = stderrors.New("connection failed")

	// ErrSend marks a send attempted while not connected.
	ErrSend = stderrors.New("not connected")

	// ErrTimeout marks a correlated call whose response did not arrive within
	// the deadline. Local to that call; other pending calls are unaffected.
	ErrTimeout = stderrors.New("request timed out")

	// ErrUnknownClient marks a server-side send addressed to a client id with
	// no active connection.
	ErrUnknownClient = stderrors.New("unknown client")

	// ErrToolExecution marks a tool that reported failure through the
	// response error field.
	ErrToolExecution = stderrors.New("tool execution failed")

	// ErrNotConfigured marks an operation that needs a collaborator which was
	// never registered (e.g. announcing tools without an executor).
	ErrNotConfigured = stderrors.New("not configured")

	// ErrConnectionClosed is what outstanding pending requests are rejected
	// with when their connection goes away.
	ErrConnectionClosed = stderrors.New("connection closed")

	// ErrProtocol marks a malformed or unrecognized message. Logged and
	// dropped; never tears down a connection.
	ErrProtocol = stderrors.New("protocol violation")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
