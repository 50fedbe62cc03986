// Package netguard implements the single choke point for outbound network
// access (spec §4.3, C3, I-N1): every network-capable tool must resolve and
// validate its destination through Guard.Check before opening a socket.
package netguard

// BlockedError is returned when a destination is rejected by policy.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string { return e.Reason }

// NewBlockedError wraps a reason string as a BlockedError.
func NewBlockedError(reason string) *BlockedError {
	return &BlockedError{Reason: reason}
}
