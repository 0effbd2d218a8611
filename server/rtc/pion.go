package rtc

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/visioncore/visioncore/server/config"
)

// pionPublisher implements Publisher on top of pion/webrtc.
type pionPublisher struct {
	pc         *webrtc.PeerConnection
	candidates chan []byte
	states     chan ConnState
}

// NewPionPublisher creates a Publisher backed by a real pion peer connection.
func NewPionPublisher(iceServers []config.ICEServer) (Publisher, error) {
	cfg := webrtc.Configuration{}
	for _, s := range iceServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	p := &pionPublisher{
		pc:         pc,
		candidates: make(chan []byte, 16),
		states:     make(chan ConnState, 8),
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// Gathering finished
			close(p.candidates)
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		select {
		case p.candidates <- payload:
		default:
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		select {
		case p.states <- mapConnState(state):
		default:
		}
	})
	return p, nil
}

func mapConnState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return ConnStateNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnStateFailed
	}
	return ConnStateClosed
}

func (p *pionPublisher) AddTrack(trackID string) (Track, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		trackID, trackID)
	if err != nil {
		return nil, err
	}
	_, err = p.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, err
	}
	return &pionTrack{track: track}, nil
}

func (p *pionPublisher) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *pionPublisher) SetAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *pionPublisher) AddRemoteCandidate(candidate []byte) error {
	init := webrtc.ICECandidateInit{}
	if err := json.Unmarshal(candidate, &init); err != nil {
		return err
	}
	if init.Candidate == "" {
		// End-of-candidates marker
		return nil
	}
	return p.pc.AddICECandidate(init)
}

func (p *pionPublisher) Candidates() <-chan []byte {
	return p.candidates
}

func (p *pionPublisher) States() <-chan ConnState {
	return p.states
}

func (p *pionPublisher) Close() {
	p.pc.Close()
}

type pionTrack struct {
	track *webrtc.TrackLocalStaticSample
}

func (t *pionTrack) WriteSample(data []byte, duration time.Duration) error {
	return t.track.WriteSample(media.Sample{Data: data, Duration: duration})
}
