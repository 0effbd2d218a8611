// Package signaling is a WebSocket message relay between stream publishers
// and viewers. It is deliberately dumb: it forwards SDP and ICE payloads
// between peers without interpreting them, and its only piece of state is
// the most recent offer of each publisher, which it replays to viewers
// that connect after the publisher has already offered.
package signaling

import (
	"encoding/json"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/visioncore/visioncore/server/defs"
)

const (
	MessageTypeOffer       = "offer"
	MessageTypeAnswer      = "answer"
	MessageTypeICE         = "ice"
	MessageTypeICEComplete = "ice-complete"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
)

// Message is the envelope for everything that crosses the relay.
// Candidate is kept raw so we never have to understand its shape.
type Message struct {
	Type      string          `json:"type"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type client struct {
	id        string
	conn      *websocket.Conn
	writeLock sync.Mutex

	// Most recent offer, publisher clients only
	lastOffer *Message
}

func (c *client) send(msg *Message) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.conn.WriteJSON(msg)
}

// Relay tracks connected clients and shuttles messages between them.
type Relay struct {
	log     logs.Log
	lock    sync.Mutex
	clients map[string]*client
}

func NewRelay(log logs.Log) *Relay {
	return &Relay{
		log:     logs.NewPrefixLogger(log, "Signaling:"),
		clients: make(map[string]*client),
	}
}

// NumClients returns the number of currently connected clients.
func (r *Relay) NumClients() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.clients)
}

// HandleWebSocket owns conn until the peer disconnects. clientID determines
// the role: ids with the publisher prefix may store offers, everything else
// is a viewer. A reconnect with the same id displaces the old connection.
func (r *Relay) HandleWebSocket(conn *websocket.Conn, clientID string) {
	c := &client{id: clientID, conn: conn}

	r.lock.Lock()
	if old, ok := r.clients[clientID]; ok {
		old.conn.Close()
	}
	r.clients[clientID] = c
	r.lock.Unlock()

	r.log.Infof("Client connected: %v", clientID)
	r.replayOfferTo(c)

	for {
		msg := Message{}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		msg.From = clientID
		r.dispatch(c, &msg)
	}

	r.lock.Lock()
	// Only remove our own registration. If a reconnect displaced us, the
	// map already points at the new connection.
	if cur, ok := r.clients[clientID]; ok && cur == c {
		delete(r.clients, clientID)
	}
	r.lock.Unlock()
	conn.Close()
	r.log.Infof("Client disconnected: %v", clientID)
}

// replayOfferTo sends the publisher's stored offer to a freshly connected
// viewer, so that viewers joining after the publisher still get a session.
func (r *Relay) replayOfferTo(viewer *client) {
	if defs.IsPublisher(viewer.id) {
		return
	}
	publisherID := defs.PublisherPeer(viewer.id)
	if publisherID == "" {
		return
	}

	r.lock.Lock()
	publisher := r.clients[publisherID]
	var offer *Message
	if publisher != nil && publisher.lastOffer != nil {
		copied := *publisher.lastOffer
		offer = &copied
	}
	r.lock.Unlock()

	if offer == nil {
		return
	}
	offer.From = publisherID
	offer.To = viewer.id
	if err := viewer.send(offer); err != nil {
		r.log.Warnf("Offer replay to %v failed: %v", viewer.id, err)
	}
}

func (r *Relay) dispatch(c *client, msg *Message) {
	switch msg.Type {
	case MessageTypeOffer:
		if !defs.IsPublisher(c.id) {
			r.log.Warnf("Ignoring offer from non-publisher %v", c.id)
			return
		}
		r.lock.Lock()
		copied := *msg
		c.lastOffer = &copied
		r.lock.Unlock()
		r.forward(msg)
	case MessageTypeAnswer:
		if defs.IsPublisher(c.id) {
			r.log.Warnf("Ignoring answer from publisher %v", c.id)
			return
		}
		r.forward(msg)
	case MessageTypeICE, MessageTypeICEComplete:
		// Forwarded verbatim. An empty candidate is a meaningful
		// end-of-candidates signal, so it goes through too.
		r.forward(msg)
	case MessageTypePing:
		if err := c.send(&Message{Type: MessageTypePong, To: c.id}); err != nil {
			r.log.Warnf("Pong to %v failed: %v", c.id, err)
		}
	default:
		r.log.Warnf("Dropping unknown message type %q from %v", msg.Type, c.id)
	}
}

// forward delivers msg to its target, or when To is empty, to every peer
// on the other side of the sender's channel. Delivery is best effort: a
// failed or missing recipient never affects the sender.
func (r *Relay) forward(msg *Message) {
	r.lock.Lock()
	var targets []*client
	if msg.To != "" {
		if t, ok := r.clients[msg.To]; ok {
			targets = append(targets, t)
		}
	} else if defs.IsPublisher(msg.From) {
		for id, t := range r.clients {
			if !defs.IsPublisher(id) && defs.PublisherPeer(id) == msg.From {
				targets = append(targets, t)
			}
		}
	} else {
		if t, ok := r.clients[defs.PublisherPeer(msg.From)]; ok {
			targets = append(targets, t)
		}
	}
	r.lock.Unlock()

	for _, t := range targets {
		if err := t.send(msg); err != nil {
			r.log.Warnf("Forward %v from %v to %v failed: %v", msg.Type, msg.From, t.id, err)
		}
	}
}
