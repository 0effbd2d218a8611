// Package server wires the whole system together: config DB, frame hub,
// camera sources, agent scheduler, signaling relay, stream session, and
// the HTTP API that fronts all of it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/visioncore/visioncore/server/camera"
	"github.com/visioncore/visioncore/server/config"
	"github.com/visioncore/visioncore/server/configdb"
	"github.com/visioncore/visioncore/server/hub"
	"github.com/visioncore/visioncore/server/nnload"
	"github.com/visioncore/visioncore/server/rtc"
	"github.com/visioncore/visioncore/server/scheduler"
	"github.com/visioncore/visioncore/server/session"
	"github.com/visioncore/visioncore/server/signaling"
)

type Server struct {
	Log       logs.Log
	Config    *config.Config
	ConfigDB  *configdb.ConfigDB
	FrameHub  *hub.Hub
	Scheduler *scheduler.Scheduler

	relay      *signaling.Relay
	session    *session.Driver
	models     *nnload.ModelCache
	openSource camera.OpenFunc

	sourcesLock sync.Mutex
	sources     map[string]camera.FrameSource // keyed by camera ID

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
}

// NewServer builds the server but does not start any background work.
// loadModel and openSource abstract the pieces that need real hardware;
// newPublisher is normally rtc.NewPionPublisher.
func NewServer(logger logs.Log, cfg *config.Config, dbFilename string, loadModel nnload.LoadFunc, openSource camera.OpenFunc, newPublisher rtc.PublisherFactory) (*Server, error) {
	configDB, err := configdb.NewConfigDB(logger, dbFilename)
	if err != nil {
		return nil, err
	}
	if err := applyVariableFallbacks(logger, cfg, configDB); err != nil {
		return nil, err
	}
	frameHub := hub.NewHub(logger)
	models := nnload.NewModelCache(logger, loadModel)
	s := &Server{
		Log:        logger,
		Config:     cfg,
		ConfigDB:   configDB,
		FrameHub:   frameHub,
		Scheduler:  scheduler.NewScheduler(logger, configDB, frameHub, models, cfg.SweepInterval()),
		relay:      signaling.NewRelay(logger),
		session:    session.NewDriver(logger, cfg, configDB, frameHub, newPublisher, nil),
		models:     models,
		openSource: openSource,
		sources:    map[string]camera.FrameSource{},
	}
	s.setupHttpRoutes()
	return s, nil
}

// applyVariableFallbacks fills config gaps from the variable table, so a
// signaling URL or ICE set written at provisioning time survives an empty
// config file. The built-in STUN default applies last.
func applyVariableFallbacks(log logs.Log, cfg *config.Config, db *configdb.ConfigDB) error {
	if cfg.SignalingURL == "" {
		v, err := db.GetVariable(configdb.VarSignalingURL)
		if err != nil {
			return err
		}
		if v != "" {
			log.Infof("Signaling URL %v from variable table", v)
			cfg.SignalingURL = v
		}
	}
	if len(cfg.ICEServers) == 0 {
		raw, err := db.GetVariable(configdb.VarICEServers)
		if err != nil {
			return err
		}
		if raw != "" {
			servers := []config.ICEServer{}
			if err := json.Unmarshal([]byte(raw), &servers); err != nil {
				return fmt.Errorf("Error parsing variable %v: %w", configdb.VarICEServers, err)
			}
			cfg.ICEServers = servers
		}
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = config.DefaultICEServers()
	}
	return nil
}

// Start launches the scheduler, the stream session, and a frame source for
// every registered camera.
func (s *Server) Start() error {
	cameras, err := s.ConfigDB.ListCameras("")
	if err != nil {
		return err
	}
	for _, cam := range cameras {
		s.startCameraSource(&cam)
	}
	s.Scheduler.Start()
	s.session.Start()
	return nil
}

// startCameraSource opens the camera's frame source and starts pumping it
// into the hub. Already-open cameras are left alone. Failure to open is
// logged, not fatal: the camera record stays and a restart retries it.
func (s *Server) startCameraSource(cam *configdb.Camera) {
	s.sourcesLock.Lock()
	defer s.sourcesLock.Unlock()
	if s.sources[cam.CameraID] != nil {
		return
	}
	var src camera.FrameSource
	var err error
	if s.Config.SyntheticSources || s.openSource == nil {
		src = camera.NewSyntheticSource(cam.CameraName, s.Config.SourceFPS)
	} else {
		src, err = s.openSource(cam.RtspURL)
		if err != nil {
			s.Log.Errorf("Failed to open camera %v (%v): %v", cam.CameraID, cam.RtspURL, err)
			return
		}
	}
	s.sources[cam.CameraID] = src
	go camera.RunPump(s.Log, src, s.FrameHub, cam.CameraID)
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'", sig.String())
			s.Shutdown()
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	signal.Stop(s.signalIn)
	close(s.signalIn)

	s.session.Stop()
	s.Scheduler.Stop()

	s.sourcesLock.Lock()
	for id, src := range s.sources {
		src.Close()
		delete(s.sources, id)
	}
	s.sourcesLock.Unlock()

	s.models.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Log.Warnf("Shutdown complete, with error: %v", err)
	} else {
		s.Log.Infof("Shutdown complete")
	}
	s.Log.Close()
}
