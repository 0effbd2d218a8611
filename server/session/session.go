// Package session runs the outbound stream session: one WebRTC peer
// connection carrying a track per camera and per agent, negotiated through
// the signaling relay. The session is driven by a single retry loop: any
// failure tears the whole session down, and a fresh one starts after a
// fixed backoff.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/visioncore/visioncore/server/config"
	"github.com/visioncore/visioncore/server/configdb"
	"github.com/visioncore/visioncore/server/defs"
	"github.com/visioncore/visioncore/server/hub"
	"github.com/visioncore/visioncore/server/rtc"
	"github.com/visioncore/visioncore/server/signaling"
)

// Driver owns the session retry loop.
type Driver struct {
	ShutdownComplete chan bool // Closed when the run loop has exited

	log          logs.Log
	cfg          *config.Config
	db           *configdb.ConfigDB
	frameHub     *hub.Hub
	newPublisher rtc.PublisherFactory
	encoder      FrameEncoder
	shutdown     chan bool
}

// NewDriver creates the session driver. encoder may be nil, in which case
// only frames carrying pre-encoded payloads reach the tracks.
func NewDriver(log logs.Log, cfg *config.Config, db *configdb.ConfigDB, frameHub *hub.Hub, newPublisher rtc.PublisherFactory, encoder FrameEncoder) *Driver {
	return &Driver{
		ShutdownComplete: make(chan bool),
		log:              logs.NewPrefixLogger(log, "Session:"),
		cfg:              cfg,
		db:               db,
		frameHub:         frameHub,
		newPublisher:     newPublisher,
		encoder:          encoder,
		shutdown:         make(chan bool),
	}
}

// Start launches the run loop.
func (d *Driver) Start() {
	go d.run()
}

// Stop signals the run loop and waits for it to exit.
func (d *Driver) Stop() {
	close(d.shutdown)
	<-d.ShutdownComplete
}

func (d *Driver) run() {
	defer close(d.ShutdownComplete)
	for {
		if err := d.runSession(); err != nil {
			d.log.Warnf("Session ended: %v", err)
		}
		select {
		case <-d.shutdown:
			return
		case <-time.After(d.cfg.SessionRetry()):
		}
	}
}

// runSession builds one complete session and blocks until it dies.
// Track layout is fixed at session start: cameras or agents added later
// only appear in the next session.
func (d *Driver) runSession() error {
	userID, err := d.db.SingleUserID()
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	cameras, err := d.db.ListCameras(userID)
	if err != nil {
		return fmt.Errorf("list cameras: %w", err)
	}
	agents, err := d.db.ListAgents("", "")
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	if len(cameras) == 0 {
		return fmt.Errorf("no cameras registered")
	}

	pub, err := d.newPublisher(d.cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracks must all exist before the offer is created. Agent tracks are
	// added for every known agent, pending ones included, so a viewer's
	// session doesn't have to renegotiate when an agent starts running.
	for _, cam := range cameras {
		track, err := pub.AddTrack(defs.CameraChannel(cam.CameraID))
		if err != nil {
			return fmt.Errorf("add camera track %v: %w", cam.CameraID, err)
		}
		go runCameraPump(ctx, d.log, d.frameHub, cam.CameraID, track, d.encoder)
	}
	for _, agent := range agents {
		track, err := pub.AddTrack(defs.AgentChannel(agent.AgentID))
		if err != nil {
			return fmt.Errorf("add agent track %v: %w", agent.AgentID, err)
		}
		go runAgentPump(ctx, d.log, d.frameHub, agent.AgentID, track, d.encoder)
	}

	clientID := defs.PublisherClientID(userID)
	sc, err := dialSignaling(d.cfg.SignalingURL, clientID)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}
	defer sc.Close()

	offerSDP, err := pub.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := sc.Send(&signaling.Message{Type: signaling.MessageTypeOffer, SDP: offerSDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	d.log.Infof("Offer sent (%v cameras, %v agents)", len(cameras), len(agents))

	// Local ICE candidates flow out as they arrive. The empty candidate
	// that follows gathering tells the viewer we're done.
	go func() {
		for cand := range pub.Candidates() {
			if err := sc.Send(&signaling.Message{Type: signaling.MessageTypeICE, Candidate: cand}); err != nil {
				return
			}
		}
		sc.Send(&signaling.Message{Type: signaling.MessageTypeICEComplete})
	}()

	incoming := make(chan *signaling.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := sc.Receive()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case incoming <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(d.cfg.Heartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-d.shutdown:
			return nil
		case err := <-readErr:
			return fmt.Errorf("signaling read: %w", err)
		case <-heartbeat.C:
			if err := sc.Send(&signaling.Message{Type: signaling.MessageTypePing}); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case state := <-pub.States():
			d.log.Infof("Connection state %v", state)
			if state.Terminal() {
				return fmt.Errorf("peer connection %v", state)
			}
		case msg := <-incoming:
			if err := d.handleMessage(pub, msg); err != nil {
				return err
			}
		}
	}
}

func (d *Driver) handleMessage(pub rtc.Publisher, msg *signaling.Message) error {
	switch msg.Type {
	case signaling.MessageTypeAnswer:
		if err := pub.SetAnswer(msg.SDP); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		d.log.Infof("Answer applied from %v", msg.From)
	case signaling.MessageTypeICE:
		if len(msg.Candidate) != 0 {
			if err := pub.AddRemoteCandidate(msg.Candidate); err != nil {
				d.log.Warnf("Remote candidate rejected: %v", err)
			}
		}
	case signaling.MessageTypeICEComplete, signaling.MessageTypePong:
		// Nothing to do
	default:
		d.log.Warnf("Unexpected signaling message %q", msg.Type)
	}
	return nil
}
