package session

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/visioncore/visioncore/server/config"
	"github.com/visioncore/visioncore/server/configdb"
	"github.com/visioncore/visioncore/server/defs"
	"github.com/visioncore/visioncore/server/hub"
	"github.com/visioncore/visioncore/server/rtc"
	"github.com/visioncore/visioncore/server/rules"
	"github.com/visioncore/visioncore/server/signaling"
)

type fakePublisher struct {
	lock       sync.Mutex
	trackIDs   []string
	answer     string
	remoteCand [][]byte
	closed     bool

	answered   chan bool
	candidates chan []byte
	states     chan rtc.ConnState
}

func newFakePublisher() *fakePublisher {
	p := &fakePublisher{
		answered:   make(chan bool, 1),
		candidates: make(chan []byte, 4),
		states:     make(chan rtc.ConnState, 4),
	}
	p.candidates <- []byte(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`)
	close(p.candidates)
	return p
}

func (p *fakePublisher) AddTrack(trackID string) (rtc.Track, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.trackIDs = append(p.trackIDs, trackID)
	return &fakeTrack{}, nil
}

func (p *fakePublisher) CreateOffer() (string, error) {
	return "v=0 fake offer", nil
}

func (p *fakePublisher) SetAnswer(sdp string) error {
	p.lock.Lock()
	p.answer = sdp
	p.lock.Unlock()
	select {
	case p.answered <- true:
	default:
	}
	return nil
}

func (p *fakePublisher) AddRemoteCandidate(candidate []byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.remoteCand = append(p.remoteCand, candidate)
	return nil
}

func (p *fakePublisher) Candidates() <-chan []byte    { return p.candidates }
func (p *fakePublisher) States() <-chan rtc.ConnState { return p.states }

func (p *fakePublisher) isClosed() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.closed
}

func (p *fakePublisher) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
}

func startRelayServer(t *testing.T) string {
	relay := signaling.NewRelay(logs.NewTestingLog(t))
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := strings.TrimPrefix(r.URL.Path, "/ws/")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go relay.HandleWebSocket(conn, clientID)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func setupSessionDB(t *testing.T) *configdb.ConfigDB {
	log := logs.NewTestingLog(t)
	db, err := configdb.NewConfigDB(log, filepath.Join(t.TempDir(), "session-test.sqlite"))
	require.NoError(t, err)
	require.NoError(t, db.UpsertCamera(&configdb.Camera{
		UserID:    "alice",
		CameraID:  "CAM-1",
		RtspURL:   "rtsp://example/stream",
		CreatedAt: dbh.MakeIntTime(time.Now()),
	}))
	models := dbh.JSONField[[]string]{}
	models.Data = []string{"yolov8n"}
	ruleList := dbh.JSONField[[]rules.Rule]{}
	require.NoError(t, db.UpsertAgent(&configdb.Agent{
		AgentID:   "agent-1",
		CameraID:  "CAM-1",
		ModelIDs:  &models,
		Rules:     &ruleList,
		RunMode:   defs.RunModeContinuous,
		Status:    defs.AgentStatusRunning,
		CreatedAt: dbh.MakeIntTime(time.Now()),
	}))
	return db
}

func TestSessionNegotiation(t *testing.T) {
	log := logs.NewTestingLog(t)
	db := setupSessionDB(t)
	frameHub := hub.NewHub(log)

	cfg := config.Default()
	cfg.SignalingURL = startRelayServer(t)
	cfg.SessionRetrySeconds = 1
	cfg.HeartbeatSeconds = 1

	var pubLock sync.Mutex
	var pub *fakePublisher
	factory := func(iceServers []config.ICEServer) (rtc.Publisher, error) {
		p := newFakePublisher()
		pubLock.Lock()
		pub = p
		pubLock.Unlock()
		return p, nil
	}

	driver := NewDriver(log, cfg, db, frameHub, factory, nil)
	driver.Start()
	defer driver.Stop()

	// The driver connects as camera:alice and offers. A viewer joining
	// afterwards gets the stored offer replayed.
	var viewer *websocket.Conn
	deadline := time.Now().Add(5 * time.Second)
	var offer *signaling.Message
	for offer == nil {
		require.True(t, time.Now().Before(deadline), "no offer arrived")
		conn, _, err := websocket.DefaultDialer.Dial(cfg.SignalingURL+"/viewer:alice", nil)
		require.NoError(t, err)
		conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		msg := &signaling.Message{}
		if err := conn.ReadJSON(msg); err == nil && msg.Type == signaling.MessageTypeOffer {
			offer = msg
			viewer = conn
		} else {
			conn.Close()
		}
	}
	defer viewer.Close()
	require.Equal(t, "camera:alice", offer.From)
	require.Equal(t, "v=0 fake offer", offer.SDP)

	// One track per camera, one per agent
	pubLock.Lock()
	p := pub
	pubLock.Unlock()
	require.ElementsMatch(t, []string{defs.CameraChannel("CAM-1"), defs.AgentChannel("agent-1")}, p.trackIDs)

	// Answer flows back to the publisher through the relay
	require.NoError(t, viewer.WriteJSON(&signaling.Message{
		Type: signaling.MessageTypeAnswer,
		To:   "camera:alice",
		SDP:  "v=0 fake answer",
	}))
	select {
	case <-p.answered:
	case <-time.After(5 * time.Second):
		t.Fatal("answer never reached the publisher")
	}
	p.lock.Lock()
	require.Equal(t, "v=0 fake answer", p.answer)
	p.lock.Unlock()

	// Viewer candidates reach the publisher too
	require.NoError(t, viewer.WriteJSON(&signaling.Message{
		Type:      signaling.MessageTypeICE,
		To:        "camera:alice",
		Candidate: []byte(`{"candidate":"candidate:9 1 udp 1 10.0.0.9 5000 typ host"}`),
	}))
	deadline = time.Now().Add(5 * time.Second)
	for {
		p.lock.Lock()
		n := len(p.remoteCand)
		p.lock.Unlock()
		if n > 0 {
			break
		}
		require.True(t, time.Now().Before(deadline), "candidate never reached the publisher")
		time.Sleep(time.Millisecond)
	}
}

func TestSessionRetriesAfterFailure(t *testing.T) {
	log := logs.NewTestingLog(t)
	db := setupSessionDB(t)
	frameHub := hub.NewHub(log)

	cfg := config.Default()
	cfg.SignalingURL = startRelayServer(t)
	cfg.SessionRetrySeconds = 1

	var pubLock sync.Mutex
	created := 0
	var first *fakePublisher
	factory := func(iceServers []config.ICEServer) (rtc.Publisher, error) {
		p := newFakePublisher()
		pubLock.Lock()
		created++
		if first == nil {
			first = p
		}
		pubLock.Unlock()
		return p, nil
	}

	driver := NewDriver(log, cfg, db, frameHub, factory, nil)
	driver.Start()
	defer driver.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		pubLock.Lock()
		p := first
		pubLock.Unlock()
		if p != nil {
			break
		}
		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond)
	}

	// A failed peer connection kills the session; the driver builds a new
	// publisher after the backoff
	first.states <- rtc.ConnStateFailed
	deadline = time.Now().Add(10 * time.Second)
	for {
		pubLock.Lock()
		n := created
		pubLock.Unlock()
		if n >= 2 {
			require.True(t, first.isClosed())
			break
		}
		require.True(t, time.Now().Before(deadline), "no second session attempt")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionRequiresCamera(t *testing.T) {
	log := logs.NewTestingLog(t)
	db, err := configdb.NewConfigDB(log, filepath.Join(t.TempDir(), "empty-test.sqlite"))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.SignalingURL = "ws://127.0.0.1:1/ws"
	d := NewDriver(log, cfg, db, hub.NewHub(log), func(iceServers []config.ICEServer) (rtc.Publisher, error) {
		t.Fatal("publisher must not be created without cameras")
		return nil, nil
	}, nil)
	require.Error(t, d.runSession())
}
