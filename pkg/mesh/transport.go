package mesh

import "encoding/json"

// LinkState tracks a peer link through its lifecycle.
type LinkState int32

const (
	LinkSignaling LinkState = iota
	LinkConnecting
	LinkOpen
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkSignaling:
		return "signaling"
	case LinkConnecting:
		return "connecting"
	case LinkOpen:
		return "open"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LinkEvents carries the callbacks a link fires as it progresses. All
// callbacks are delivered asynchronously, never from inside CreateLink or
// any Link method call.
type LinkEvents struct {
	// OnSignal emits an opaque negotiation payload to relay to the peer.
	OnSignal func(payload json.RawMessage)
	// OnOpen fires once when the data path becomes usable.
	OnOpen func()
	// OnData fires for each inbound application frame.
	OnData func(data []byte)
	// OnClose fires once when the link shuts down.
	OnClose func()
	// OnError fires on a fatal link failure.
	OnError func(err error)
}

// Link is one peer-to-peer connection.
type Link interface {
	PeerID() string
	Initiator() bool
	State() LinkState

	// Signal feeds a negotiation payload relayed from the peer.
	Signal(payload json.RawMessage) error
	// Send transmits an application frame; fails unless the link is open.
	Send(data []byte) error
	Close() error
}

// TransportAdapter creates peer links. The mesh logic never touches the
// underlying transport directly, only this boundary.
type TransportAdapter interface {
	CreateLink(peerID string, initiator bool, events LinkEvents) (Link, error)
}

// Initiator decides which side of a pair dials. Both sides evaluate the
// same comparison, so exactly one of them initiates.
func Initiator(selfID, peerID string) bool {
	return selfID < peerID
}
