package webrtcconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
)

// peerConn holds one neighbor's connection state machine.
type peerConn struct {
	h           *Handler
	peerID      string
	isInitiator bool

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu    sync.Mutex
	state State

	disconnectTimer *time.Timer
	restartTimer    *time.Timer
}

func newPeerConn(h *Handler, peerID string, isInitiator bool) (*peerConn, error) {
	pc, err := webrtc.NewPeerConnection(h.webrtcConfig)
	if err != nil {
		return nil, fmt.Errorf("webrtcconn: creating peer connection for %q: %w", peerID, err)
	}

	p := &peerConn{h: h, peerID: peerID, isInitiator: isInitiator, pc: pc, state: StateNew}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := h.signaler.SendICECandidate(context.Background(), peerID, c.ToJSON().Candidate); err != nil {
			h.logger.WithError(err).WithField("peer", peerID).Warn("failed to send ICE candidate")
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.onConnectionStateChange(s)
	})

	if !isInitiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			p.setupDataChannel(dc)
		})
	}

	return p, nil
}

func (p *peerConn) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *peerConn) getState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *peerConn) startAsInitiator(ctx context.Context) error {
	p.setState(StateOffering)

	ordered := true
	maxRetransmits := p.h.config.RetransmitBudget
	dc, err := p.pc.CreateDataChannel("frames", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return fmt.Errorf("webrtcconn: creating data channel for %q: %w", p.peerID, err)
	}
	p.setupDataChannel(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("webrtcconn: creating offer for %q: %w", p.peerID, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("webrtcconn: setting local description for %q: %w", p.peerID, err)
	}
	if err := p.h.signaler.SendOffer(ctx, p.peerID, offer.SDP); err != nil {
		return fmt.Errorf("webrtcconn: sending offer to %q: %w", p.peerID, err)
	}

	p.setState(StateConnecting)
	return nil
}

func (p *peerConn) handleOffer(ctx context.Context, sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("webrtcconn: setting remote offer from %q: %w", p.peerID, err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("webrtcconn: creating answer for %q: %w", p.peerID, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("webrtcconn: setting local answer for %q: %w", p.peerID, err)
	}
	if err := p.h.signaler.SendAnswer(ctx, p.peerID, answer.SDP); err != nil {
		return fmt.Errorf("webrtcconn: sending answer to %q: %w", p.peerID, err)
	}

	p.setState(StateConnecting)
	return nil
}

func (p *peerConn) handleAnswer(sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("webrtcconn: setting remote answer from %q: %w", p.peerID, err)
	}
	return nil
}

func (p *peerConn) setupDataChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.setState(StateOpen)
		if p.h.events.OnChannelOpen != nil {
			p.h.events.OnChannelOpen(p.peerID)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.h.events.OnFrame != nil {
			p.h.events.OnFrame(p.peerID, msg.Data)
		}
	})

	dc.OnClose(func() {
		p.h.forget(p.peerID)
		if p.h.events.OnPeerDisconnected != nil {
			p.h.events.OnPeerDisconnected(p.peerID)
		}
	})
}

// onConnectionStateChange drives the NEW/OFFERING/CONNECTING/OPEN/
// DISCONNECTED/CLOSED machine spec.md §4.3 describes.
func (p *peerConn) onConnectionStateChange(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		p.mu.Lock()
		if p.disconnectTimer != nil {
			p.disconnectTimer.Stop()
			p.disconnectTimer = nil
		}
		if p.restartTimer != nil {
			p.restartTimer.Stop()
			p.restartTimer = nil
		}
		wasNew := p.state != StateOpen
		// Recovering from a transient disconnect or an ICE restart: the data
		// channel stayed open, so OnOpen will not fire again.
		if p.dc != nil && p.dc.ReadyState() == webrtc.DataChannelStateOpen {
			p.state = StateOpen
		}
		p.mu.Unlock()
		if wasNew && p.h.events.OnPeerConnected != nil {
			p.h.events.OnPeerConnected(p.peerID)
		}

	case webrtc.PeerConnectionStateDisconnected:
		// A transient disconnect must persist beyond the grace window
		// before the coordinator is notified (spec.md §4.3).
		p.setState(StateDisconnected)
		p.mu.Lock()
		p.disconnectTimer = time.AfterFunc(p.h.config.DisconnectGrace, func() {
			if p.getState() == StateDisconnected {
				p.declareDead()
			}
		})
		p.mu.Unlock()

	case webrtc.PeerConnectionStateFailed:
		if p.isInitiator {
			p.attemptICERestart()
			return
		}
		p.mu.Lock()
		p.restartTimer = time.AfterFunc(p.h.config.ICERestartGrace, func() {
			p.declareDead()
		})
		p.mu.Unlock()

	case webrtc.PeerConnectionStateClosed:
		p.declareDead()
	}
}

func (p *peerConn) attemptICERestart() {
	p.setState(StateConnecting)
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		p.h.logger.WithError(err).WithField("peer", p.peerID).Warn("ICE restart offer failed")
		p.declareDead()
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.h.logger.WithError(err).WithField("peer", p.peerID).Warn("ICE restart local description failed")
		p.declareDead()
		return
	}
	if err := p.h.signaler.SendOffer(context.Background(), p.peerID, offer.SDP); err != nil {
		p.h.logger.WithError(err).WithField("peer", p.peerID).Warn("ICE restart offer send failed")
	}

	p.mu.Lock()
	p.restartTimer = time.AfterFunc(p.h.config.ICERestartGrace, func() {
		if p.getState() != StateOpen {
			p.declareDead()
		}
	})
	p.mu.Unlock()
}

func (p *peerConn) declareDead() {
	p.setState(StateClosed)
	p.h.forget(p.peerID)
	if p.h.events.OnPeerDisconnected != nil {
		p.h.events.OnPeerDisconnected(p.peerID)
	}
	_ = p.pc.Close()
}

func (p *peerConn) send(data []byte) error {
	p.mu.Lock()
	dc := p.dc
	state := p.state
	p.mu.Unlock()

	if state != StateOpen || dc == nil {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (p *peerConn) close() error {
	p.mu.Lock()
	if p.disconnectTimer != nil {
		p.disconnectTimer.Stop()
	}
	if p.restartTimer != nil {
		p.restartTimer.Stop()
	}
	dc := p.dc
	p.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	return p.pc.Close()
}
