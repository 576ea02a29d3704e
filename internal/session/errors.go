package session

import "errors"

var (
	// ErrNotActive is returned by operations that need a started session.
	ErrNotActive = errors.New("session: no active session")

	// ErrSessionActive is returned by SetID while the session is started.
	ErrSessionActive = errors.New("session: session id cannot change while the session is active")

	// ErrHeadersSent is returned when the session cookie can no longer be
	// written because the response has already begun.
	ErrHeadersSent = errors.New("session: response headers already sent")

	// ErrInvalidID is returned for identifiers outside [A-Za-z0-9,-]{1,256}.
	ErrInvalidID = errors.New("session: invalid session id")

	// ErrInvalidOption is returned when an option value has the wrong type.
	ErrInvalidOption = errors.New("session: invalid option")

	// ErrIDCollision is returned when no unused identifier could be found.
	ErrIDCollision = errors.New("session: could not generate a unique session id")
)
