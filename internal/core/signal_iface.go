package core

// Frame is a raw signaling payload as it travels the wire.
type Frame []byte

// SignalConnection abstracts a per-user control transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
