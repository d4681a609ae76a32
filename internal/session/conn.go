// ABOUTME: Transport boundary for a session: a full-duplex, message-oriented connection
// ABOUTME: The gateway adapts WebSocket connections to this interface

package session

import "context"

// CloseCode is the status sent when a session ends. Values follow the
// WebSocket close codes.
type CloseCode int

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	ClosePolicyViolation CloseCode = 1008
	CloseInternalError   CloseCode = 1011
	CloseTryAgainLater   CloseCode = 1013
	CloseUnauthenticated CloseCode = 4401
)

// Conn is one client connection. Read and Write are called from different
// goroutines; neither is called concurrently with itself. Close may be called
// more than once and must unblock a pending Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code CloseCode, reason string) error
}
