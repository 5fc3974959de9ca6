package core

// Frame is an encoded outbound event.
type Frame []byte

// ConnID identifies one live transport session.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues the frame without blocking; it fails under back-pressure
	// or after Close.
	TrySend(Frame) error
	Close()
}
