package chat

import (
	"errors"
	"fmt"
)

// Sentinel SendError values (spec §4.6, §7). Each participates in
// errors.Is so callers can branch on kind without type assertions.
var (
	ErrRequestTimedOut        = errors.New("chat: request timed out")
	ErrDisconnected           = errors.New("chat: disconnected")
	ErrIncomingDataInvalid    = errors.New("chat: incoming data invalid")
	ErrRequestHasInvalidHeader = errors.New("chat: request has invalid header")
)

// WebSocketError wraps an underlying I/O error surfaced by the WebSocket
// layer (spec §4.6 "SendError::WebSocket(io)").
type WebSocketError struct{ Err error }

func (e *WebSocketError) Error() string { return fmt.Sprintf("chat: websocket: %v", e.Err) }
func (e *WebSocketError) Unwrap() error  { return e.Err }
