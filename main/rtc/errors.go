package rtc

import "errors"

var (
	// ErrSessionClosed indicates the session already reached a terminal state
	ErrSessionClosed = errors.New("session is closed")

	// ErrSessionExists indicates a live session with the same id is registered
	ErrSessionExists = errors.New("session already exists")

	// ErrNegotiationInFlight indicates an offer arrived while negotiating
	ErrNegotiationInFlight = errors.New("negotiation already in flight")

	// ErrUnexpectedSignal indicates a signal that does not fit the session state
	ErrUnexpectedSignal = errors.New("unexpected signal for session state")

	// ErrInvalidCandidate indicates a malformed ICE candidate
	ErrInvalidCandidate = errors.New("invalid ICE candidate")

	// ErrInvalidSDP indicates a malformed session description
	ErrInvalidSDP = errors.New("invalid SDP")

	// ErrRegistryClosed indicates the registry was shut down
	ErrRegistryClosed = errors.New("registry is closed")

	// ErrGatheringTimeout indicates ICE gathering did not finish in time
	ErrGatheringTimeout = errors.New("ICE gathering timed out")
)
