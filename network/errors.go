package network

import (
	"errors"
	"fmt"
)

// ErrDestroyed is returned to callers that use a peer after teardown.
var ErrDestroyed = errors.New("peer destroyed")

// TimeoutError reports a request that saw no matching response in time.
// The connection stays up.
type TimeoutError struct {
	Command string
}

func (e *TimeoutError) Error() string {
	if e.Command == "" {
		return "timed out waiting for response"
	}
	return fmt.Sprintf("timed out waiting for %s", e.Command)
}

// ProtocolVersionError reports a remote advertising a protocol version
// below the network minimum. It is fatal to the connection.
type ProtocolVersionError struct {
	Version int32
	Min     uint32
}

func (e *ProtocolVersionError) Error() string {
	return fmt.Sprintf("peer protocol version %d is below minimum %d", e.Version, e.Min)
}

// TransportError wraps a socket or framing failure. It is fatal to the
// connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Peer manager errors
var (
	ErrPeerNotFound     = errors.New("peer not found")
	ErrAlreadyConnected = errors.New("already connected to peer")
	ErrManagerStopped   = errors.New("peer manager stopped")
)
