package session

import (
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/visioncore/visioncore/server/signaling"
)

// signalClient is a thin WebSocket client for the signaling relay.
// Writes are serialized; reads happen from a single goroutine.
type signalClient struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
}

// dialSignaling connects to the relay as clientID. baseURL is the relay's
// WebSocket endpoint without the client path (eg "ws://host:8080/ws").
func dialSignaling(baseURL, clientID string) (*signalClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, clientID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &signalClient{conn: conn}, nil
}

func (c *signalClient) Send(msg *signaling.Message) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *signalClient) Receive() (*signaling.Message, error) {
	msg := &signaling.Message{}
	if err := c.conn.ReadJSON(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *signalClient) Close() {
	c.conn.Close()
}
