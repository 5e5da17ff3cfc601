package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/tphan267/meshtalk/pkg/logger"
)

const dataChannelLabel = "chat"

// sessionPayload is the negotiation envelope relayed between peers. Either
// Type/SDP is set (offer, answer) or Candidate is.
type sessionPayload struct {
	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// WebRTCTransport creates peer links backed by WebRTC data channels with
// trickle ICE.
type WebRTCTransport struct {
	config webrtc.Configuration
	log    *logger.Logger
}

// NewWebRTCTransport builds the transport. A default STUN server is used
// when the configuration names no ICE servers.
func NewWebRTCTransport(cfg webrtc.Configuration, log *logger.Logger) *WebRTCTransport {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	return &WebRTCTransport{config: cfg, log: log}
}

func (t *WebRTCTransport) CreateLink(peerID string, initiator bool, events LinkEvents) (Link, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	l := &webrtcLink{
		peerID:    peerID,
		initiator: initiator,
		pc:        pc,
		events:    events,
		log:       t.log,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		payload, err := json.Marshal(sessionPayload{Candidate: &init})
		if err != nil {
			return
		}
		if events.OnSignal != nil {
			events.OnSignal(payload)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log.Debug("peer %s connection state: %s", peerID, state)
		switch state {
		case webrtc.PeerConnectionStateConnecting:
			l.state.CompareAndSwap(int32(LinkSignaling), int32(LinkConnecting))
		case webrtc.PeerConnectionStateFailed:
			l.fail(errors.New("peer connection failed"))
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			l.shutdown()
		}
	})

	if initiator {
		dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("creating data channel: %w", err)
		}
		l.bindChannel(dc)
		go l.sendOffer()
	} else {
		pc.OnDataChannel(l.bindChannel)
	}

	return l, nil
}

type webrtcLink struct {
	peerID    string
	initiator bool
	pc        *webrtc.PeerConnection
	events    LinkEvents
	log       *logger.Logger

	state     atomic.Int32
	mu        sync.Mutex
	dc        *webrtc.DataChannel
	closeOnce sync.Once
}

func (l *webrtcLink) PeerID() string {
	return l.peerID
}

func (l *webrtcLink) Initiator() bool {
	return l.initiator
}

func (l *webrtcLink) State() LinkState {
	return LinkState(l.state.Load())
}

func (l *webrtcLink) Signal(payload json.RawMessage) error {
	if l.State() == LinkClosed {
		return errors.New("link closed")
	}

	var p sessionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid signal payload: %w", err)
	}

	switch {
	case p.Candidate != nil:
		return l.pc.AddICECandidate(*p.Candidate)
	case p.Type == "offer":
		return l.acceptOffer(p.SDP)
	case p.Type == "answer":
		return l.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  p.SDP,
		})
	default:
		return fmt.Errorf("unknown signal payload %q", p.Type)
	}
}

func (l *webrtcLink) Send(data []byte) error {
	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()

	if dc == nil || l.State() != LinkOpen {
		return errors.New("data channel not open")
	}
	return dc.Send(data)
}

func (l *webrtcLink) Close() error {
	l.closeOnce.Do(func() {
		l.state.Store(int32(LinkClosed))
		l.pc.Close()
	})
	return nil
}

// sendOffer runs the initiator side of negotiation.
func (l *webrtcLink) sendOffer() {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.fail(fmt.Errorf("creating offer: %w", err))
		return
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.fail(fmt.Errorf("setting local offer: %w", err))
		return
	}

	payload, err := json.Marshal(sessionPayload{Type: "offer", SDP: offer.SDP})
	if err != nil {
		l.fail(err)
		return
	}
	if l.events.OnSignal != nil {
		l.events.OnSignal(payload)
	}
}

// acceptOffer runs the answering side of negotiation.
func (l *webrtcLink) acceptOffer(sdp string) error {
	err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("setting remote offer: %w", err)
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local answer: %w", err)
	}

	payload, err := json.Marshal(sessionPayload{Type: "answer", SDP: answer.SDP})
	if err != nil {
		return err
	}
	if l.events.OnSignal != nil {
		l.events.OnSignal(payload)
	}
	return nil
}

func (l *webrtcLink) bindChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.state.Store(int32(LinkOpen))
		if l.events.OnOpen != nil {
			l.events.OnOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.events.OnData != nil {
			l.events.OnData(msg.Data)
		}
	})
	dc.OnClose(func() {
		l.shutdown()
	})
	dc.OnError(func(err error) {
		l.fail(err)
	})
}

// shutdown handles a remote-initiated close.
func (l *webrtcLink) shutdown() {
	l.closeOnce.Do(func() {
		l.state.Store(int32(LinkClosed))
		l.pc.Close()
		if l.events.OnClose != nil {
			l.events.OnClose()
		}
	})
}

// fail handles a fatal link error.
func (l *webrtcLink) fail(err error) {
	l.closeOnce.Do(func() {
		l.state.Store(int32(LinkClosed))
		l.pc.Close()
		if l.events.OnError != nil {
			l.events.OnError(err)
		}
	})
}

var _ TransportAdapter = (*WebRTCTransport)(nil)
var _ Link = (*webrtcLink)(nil)
