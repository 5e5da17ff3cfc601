package mesh

import (
	"encoding/json"
	"sync"

	"github.com/tphan267/meshtalk/pkg/logger"
)

// SignalSender relays a negotiation payload to a peer through signaling.
type SignalSender func(receiverID string, payload json.RawMessage) error

// DataHandler receives application frames from open peer links.
type DataHandler func(peerID, peerName string, data []byte)

// Reconciler drives the local peer links toward a membership snapshot. It
// is idempotent: applying the same snapshot twice changes nothing. A mutex
// serializes Apply, HandleSignal and link teardown, so overlapping passes
// cannot race.
type Reconciler struct {
	selfID  string
	adapter TransportAdapter
	send    SignalSender
	log     *logger.Logger

	mu      sync.Mutex
	links   map[string]Link
	open    map[string]bool
	members map[string]string // last applied snapshot, connId -> displayName
	onData  DataHandler
}

func NewReconciler(selfID string, adapter TransportAdapter, send SignalSender, log *logger.Logger) *Reconciler {
	return &Reconciler{
		selfID:  selfID,
		adapter: adapter,
		send:    send,
		log:     log,
		links:   make(map[string]Link),
		open:    make(map[string]bool),
		members: make(map[string]string),
	}
}

// SetDataHandler installs the application frame callback.
func (r *Reconciler) SetDataHandler(h DataHandler) {
	r.mu.Lock()
	r.onData = h
	r.mu.Unlock()
}

// Apply reconciles the link set against a membership snapshot: links to
// departed peers are torn down, links to new peers are created. The side
// with the lexicographically smaller connection id initiates.
func (r *Reconciler) Apply(members map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = make(map[string]string, len(members))
	for id, name := range members {
		r.members[id] = name
	}

	for id, l := range r.links {
		if _, still := members[id]; !still {
			r.log.Debug("peer %s left, closing link", id)
			l.Close()
			delete(r.links, id)
			delete(r.open, id)
		}
	}

	for id := range members {
		if id == r.selfID {
			continue
		}
		if _, exists := r.links[id]; exists {
			continue
		}
		r.createLinkLocked(id, Initiator(r.selfID, id))
	}
}

// HandleSignal feeds a relayed negotiation payload to the peer's link. An
// offer from an unknown but legitimate member creates the answering side of
// the link; any other payload without a link is dropped.
func (r *Reconciler) HandleSignal(senderID string, payload json.RawMessage) {
	r.mu.Lock()
	l, ok := r.links[senderID]
	if !ok {
		if !isOffer(payload) {
			r.mu.Unlock()
			r.log.Debug("signal from %s without a link, dropped", senderID)
			return
		}
		if _, member := r.members[senderID]; !member {
			r.mu.Unlock()
			r.log.Debug("offer from non-member %s, dropped", senderID)
			return
		}
		l = r.createLinkLocked(senderID, false)
		if l == nil {
			r.mu.Unlock()
			return
		}
	}
	r.mu.Unlock()

	if err := l.Signal(payload); err != nil {
		r.log.Warn("signal to link %s failed: %v", senderID, err)
	}
}

// Broadcast sends a frame over every open link whose peer is still a
// member. It returns the number of links the frame was written to.
func (r *Reconciler) Broadcast(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := 0
	for id, l := range r.links {
		if !r.open[id] {
			continue
		}
		if _, member := r.members[id]; !member {
			continue
		}
		if err := l.Send(data); err != nil {
			r.log.Warn("send to peer %s failed: %v", id, err)
			continue
		}
		sent++
	}
	return sent
}

// Reset tears down every link and forgets the membership snapshot.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, l := range r.links {
		l.Close()
		delete(r.links, id)
		delete(r.open, id)
	}
	r.members = make(map[string]string)
}

// SelfID returns the connection id this reconciler was built for.
func (r *Reconciler) SelfID() string {
	return r.selfID
}

// LinkCount returns the number of tracked links.
func (r *Reconciler) LinkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.links)
}

// IsOpen reports whether the link to the peer is open.
func (r *Reconciler) IsOpen(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.open[peerID]
}

// createLinkLocked creates and tracks a link. Caller holds r.mu; the
// adapter must not fire events synchronously from CreateLink.
func (r *Reconciler) createLinkLocked(peerID string, initiator bool) Link {
	events := LinkEvents{
		OnSignal: func(payload json.RawMessage) {
			if err := r.send(peerID, payload); err != nil {
				r.log.Warn("relay to %s failed: %v", peerID, err)
			}
		},
		OnOpen: func() {
			r.mu.Lock()
			if _, tracked := r.links[peerID]; tracked {
				r.open[peerID] = true
			}
			r.mu.Unlock()
			r.log.Info("link to %s open", peerID)
		},
		OnData: func(data []byte) {
			r.mu.Lock()
			h := r.onData
			name := r.members[peerID]
			r.mu.Unlock()
			if h != nil {
				h(peerID, name, data)
			}
		},
		OnClose: func() {
			r.dropLink(peerID)
		},
		OnError: func(err error) {
			r.log.Warn("link to %s failed: %v", peerID, err)
			r.dropLink(peerID)
		},
	}

	l, err := r.adapter.CreateLink(peerID, initiator, events)
	if err != nil {
		r.log.Error("creating link to %s: %v", peerID, err)
		return nil
	}

	r.log.Debug("link to %s created (initiator=%t)", peerID, initiator)
	r.links[peerID] = l
	return l
}

func (r *Reconciler) dropLink(peerID string) {
	r.mu.Lock()
	l, ok := r.links[peerID]
	if ok {
		delete(r.links, peerID)
		delete(r.open, peerID)
	}
	r.mu.Unlock()

	if ok {
		l.Close()
		r.log.Debug("link to %s dropped", peerID)
	}
}

// isOffer reports whether a negotiation payload is a session offer.
func isOffer(payload json.RawMessage) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return probe.Type == "offer"
}
