package mesh

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/tphan267/meshtalk/pkg/logger"
)

type fakeLink struct {
	mu        sync.Mutex
	peerID    string
	initiator bool
	events    LinkEvents
	signals   []json.RawMessage
	sent      [][]byte
	closed    bool
}

func (l *fakeLink) PeerID() string {
	return l.peerID
}

func (l *fakeLink) Initiator() bool {
	return l.initiator
}

func (l *fakeLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return LinkClosed
	}
	return LinkSignaling
}

func (l *fakeLink) Signal(payload json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, payload)
	return nil
}

func (l *fakeLink) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, data)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type fakeAdapter struct {
	mu      sync.Mutex
	links   map[string]*fakeLink
	creates int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{links: make(map[string]*fakeLink)}
}

func (a *fakeAdapter) CreateLink(peerID string, initiator bool, events LinkEvents) (Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l := &fakeLink{peerID: peerID, initiator: initiator, events: events}
	a.links[peerID] = l
	a.creates++
	return l, nil
}

func (a *fakeAdapter) link(peerID string) *fakeLink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.links[peerID]
}

func (a *fakeAdapter) createCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates
}

func newTestReconciler(t *testing.T, selfID string) (*Reconciler, *fakeAdapter, *[]string) {
	t.Helper()

	adapter := newFakeAdapter()
	var relayed []string
	var relayMu sync.Mutex
	send := func(receiverID string, payload json.RawMessage) error {
		relayMu.Lock()
		relayed = append(relayed, receiverID)
		relayMu.Unlock()
		return nil
	}

	log := logger.NewDefault("TEST")
	log.SetLevel(logger.ErrorLevel)
	return NewReconciler(selfID, adapter, send, log), adapter, &relayed
}

func TestInitiatorIsDeterministic(t *testing.T) {
	if Initiator("a", "b") == Initiator("b", "a") {
		t.Error("Exactly one side of a pair must initiate")
	}
	if !Initiator("a", "b") {
		t.Error("The smaller id initiates")
	}
}

func TestApplyCreatesLinksForNewPeers(t *testing.T) {
	r, adapter, _ := newTestReconciler(t, "b")

	r.Apply(map[string]string{"a": "alice", "b": "self", "c": "carol"})

	if r.LinkCount() != 2 {
		t.Fatalf("Expected 2 links, got %d", r.LinkCount())
	}
	if adapter.link("b") != nil {
		t.Error("A link to self must never be created")
	}
	if l := adapter.link("a"); l == nil || l.initiator {
		t.Errorf("Expected a non-initiator link to a, got %+v", l)
	}
	if l := adapter.link("c"); l == nil || !l.initiator {
		t.Errorf("Expected an initiator link to c, got %+v", l)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	r, adapter, _ := newTestReconciler(t, "a")

	members := map[string]string{"a": "self", "b": "bob"}
	r.Apply(members)
	r.Apply(members)

	if adapter.createCount() != 1 {
		t.Errorf("Expected one link creation, got %d", adapter.createCount())
	}
	if adapter.link("b").closed {
		t.Error("Re-applying the same snapshot must not close links")
	}
}

func TestApplyTearsDownDepartedPeers(t *testing.T) {
	r, adapter, _ := newTestReconciler(t, "a")

	r.Apply(map[string]string{"a": "self", "b": "bob", "c": "carol"})
	r.Apply(map[string]string{"a": "self", "c": "carol"})

	if !adapter.link("b").closed {
		t.Error("Expected the link to the departed peer to be closed")
	}
	if adapter.link("c").closed {
		t.Error("The remaining peer's link must stay up")
	}
	if r.LinkCount() != 1 {
		t.Errorf("Expected 1 link, got %d", r.LinkCount())
	}
}

func TestHandleSignalOfferCreatesAnsweringLink(t *testing.T) {
	r, adapter, _ := newTestReconciler(t, "z")

	// Peer "a" is a member whose link dropped; its fresh offer arrives
	// before our next reconciliation pass.
	r.Apply(map[string]string{"z": "self", "a": "alice"})
	adapter.link("a").events.OnClose()
	if r.LinkCount() != 0 {
		t.Fatalf("Expected no links after the drop, got %d", r.LinkCount())
	}

	offer := json.RawMessage(`{"type":"offer","sdp":"x"}`)
	r.HandleSignal("a", offer)

	l := adapter.link("a")
	if l == nil {
		t.Fatal("Expected an answering link for the inbound offer")
	}
	if l.initiator {
		t.Error("The answering side must not be the initiator")
	}
	if len(l.signals) != 1 || string(l.signals[0]) != string(offer) {
		t.Errorf("Expected the offer to reach the link, got %v", l.signals)
	}
}

func TestHandleSignalDropsStrays(t *testing.T) {
	r, adapter, _ := newTestReconciler(t, "a")
	r.Apply(map[string]string{"a": "self"})

	before := adapter.createCount()

	// A candidate without a link is a stray, not a reason to build one.
	r.HandleSignal("b", json.RawMessage(`{"candidate":{"candidate":"c"}}`))
	// An offer from someone outside the membership is dropped too.
	r.HandleSignal("b", json.RawMessage(`{"type":"offer","sdp":"x"}`))

	if adapter.createCount() != before {
		t.Errorf("Expected no links for stray signals, got %d new", adapter.createCount()-before)
	}
}

func TestLinkSignalOutIsRelayed(t *testing.T) {
	r, adapter, relayed := newTestReconciler(t, "a")
	r.Apply(map[string]string{"a": "self", "b": "bob"})

	adapter.link("b").events.OnSignal(json.RawMessage(`{"type":"offer"}`))

	if len(*relayed) != 1 || (*relayed)[0] != "b" {
		t.Errorf("Expected one relayed payload to b, got %v", *relayed)
	}
}

func TestBroadcastOnlyOpenLinks(t *testing.T) {
	r, adapter, _ := newTestReconciler(t, "a")
	r.Apply(map[string]string{"a": "self", "b": "bob", "c": "carol"})

	adapter.link("b").events.OnOpen()

	sent := r.Broadcast([]byte(`{"sender":"self","text":"hi"}`))
	if sent != 1 {
		t.Fatalf("Expected 1 delivery, got %d", sent)
	}
	if len(adapter.link("b").sent) != 1 {
		t.Error("Expected the open link to receive the frame")
	}
	if len(adapter.link("c").sent) != 0 {
		t.Error("A link that never opened must not receive frames")
	}
}

func TestBroadcastAloneReturnsZero(t *testing.T) {
	r, _, _ := newTestReconciler(t, "a")
	r.Apply(map[string]string{"a": "self"})

	if sent := r.Broadcast([]byte("hi")); sent != 0 {
		t.Errorf("Expected 0 deliveries when alone, got %d", sent)
	}
}

func TestLinkCloseEventDropsLink(t *testing.T) {
	r, adapter, _ := newTestReconciler(t, "a")
	r.Apply(map[string]string{"a": "self", "b": "bob"})

	adapter.link("b").events.OnOpen()
	adapter.link("b").events.OnClose()

	if r.LinkCount() != 0 {
		t.Fatalf("Expected the closed link to be dropped, got %d", r.LinkCount())
	}
	if r.IsOpen("b") {
		t.Error("A dropped link must not stay marked open")
	}

	// The next pass rebuilds it.
	r.Apply(map[string]string{"a": "self", "b": "bob"})
	if r.LinkCount() != 1 {
		t.Errorf("Expected the link to be recreated, got %d", r.LinkCount())
	}
}

func TestResetClosesEverything(t *testing.T) {
	r, adapter, _ := newTestReconciler(t, "a")
	r.Apply(map[string]string{"a": "self", "b": "bob", "c": "carol"})

	r.Reset()

	if r.LinkCount() != 0 {
		t.Errorf("Expected no links after reset, got %d", r.LinkCount())
	}
	for _, id := range []string{"b", "c"} {
		if !adapter.link(id).closed {
			t.Errorf("Expected link to %s to be closed", id)
		}
	}
}

func TestDataHandlerReceivesPeerName(t *testing.T) {
	r, adapter, _ := newTestReconciler(t, "a")

	var gotPeer, gotName string
	var gotData []byte
	r.SetDataHandler(func(peerID, peerName string, data []byte) {
		gotPeer, gotName, gotData = peerID, peerName, data
	})

	r.Apply(map[string]string{"a": "self", "b": "bob"})
	adapter.link("b").events.OnData([]byte("hello"))

	if gotPeer != "b" || gotName != "bob" || string(gotData) != "hello" {
		t.Errorf("Unexpected data delivery: %s %s %s", gotPeer, gotName, gotData)
	}
}
