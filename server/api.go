package server

import (
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	reg := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	reg("GET", "/api/ping", s.httpPing)

	reg("POST", "/api/cameras", s.httpCameraRegister)
	reg("GET", "/api/cameras", s.httpCameraList)

	reg("POST", "/api/agents", s.httpAgentRegister)
	reg("GET", "/api/agents", s.httpAgentList)
	reg("GET", "/api/agents/:agentID", s.httpAgentGet)

	reg("GET", "/api/webrtc-config", s.httpWebRTCConfig)

	reg("GET", "/ws/:clientID", s.httpSignalingWS)

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSONBool(w, true)
}

// httpSignalingWS upgrades the connection and hands it to the relay.
// The relay owns the socket from here on.
func (s *Server) httpSignalingWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	clientID := params.ByName("clientID")
	if clientID == "" {
		www.PanicBadRequestf("clientID is required")
	}
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("Signaling websocket upgrade failed: %v", err)
		return
	}
	s.relay.HandleWebSocket(c, clientID)
}
