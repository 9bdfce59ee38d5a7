package network

import "fmt"

// Phase identifies which upload-session request a failure belongs to.
type Phase string

// Session phases
const (
	PhaseStart  Phase = "start"
	PhaseAppend Phase = "append"
	PhaseFinish Phase = "finish"
)

// InvalidArgumentError means the caller-supplied input failed validation.
// No request is issued when this is returned.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s", e.Reason)
}

// TransportError means a request could not be delivered or its response could
// not be received (connection error, timeout, cancellation).
type TransportError struct {
	Phase Phase
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %s", e.Phase, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteRejectionError means the service answered a phase with a non-2xx
// status. Body holds the verbatim response payload.
type RemoteRejectionError struct {
	Phase      Phase
	StatusCode int
	Body       []byte
}

func (e *RemoteRejectionError) Error() string {
	return fmt.Sprintf("%s request: HTTP %d: %s", e.Phase, e.StatusCode, e.Body)
}

// ProtocolError means a 2xx response lacks a field the session protocol
// requires, for example a start response without a session identifier.
type ProtocolError struct {
	Phase  Phase
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s response: %s", e.Phase, e.Reason)
}
