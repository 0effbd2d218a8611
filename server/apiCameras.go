package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/visioncore/visioncore/server/config"
	"github.com/visioncore/visioncore/server/configdb"
)

// cameraPayload is the wire format for camera registration and listing.
type cameraPayload struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id"`
	Name        string `json:"name"`
	StreamURL   string `json:"stream_url"`
	DeviceID    string `json:"device_id,omitempty"`
}

func cameraToPayload(cam *configdb.Camera) *cameraPayload {
	return &cameraPayload{
		ID:          cam.CameraID,
		OwnerUserID: cam.UserID,
		Name:        cam.CameraName,
		StreamURL:   cam.RtspURL,
		DeviceID:    cam.DeviceID,
	}
}

// httpCameraRegister registers a camera, or updates it if the same owner
// already registered the same ID. The frame source is started immediately.
func (s *Server) httpCameraRegister(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	payload := cameraPayload{}
	www.ReadJSON(w, r, &payload, 1024*1024)
	if payload.ID == "" || payload.OwnerUserID == "" {
		www.PanicBadRequestf("id and owner_user_id are required")
	}
	if payload.StreamURL == "" {
		www.PanicBadRequestf("stream_url is required")
	}

	cam := &configdb.Camera{
		UserID:     payload.OwnerUserID,
		CameraID:   payload.ID,
		CameraName: payload.Name,
		RtspURL:    payload.StreamURL,
		DeviceID:   payload.DeviceID,
		CreatedAt:  dbh.MakeIntTime(time.Now()),
	}
	www.Check(s.ConfigDB.UpsertCamera(cam))
	s.startCameraSource(cam)
	s.Log.Infof("Camera %v registered for user %v", cam.CameraID, cam.UserID)
	www.SendJSON(w, cameraToPayload(cam))
}

// httpCameraList lists cameras, optionally filtered by ?user_id=
func (s *Server) httpCameraList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	userID := www.QueryValue(r, "user_id")
	cams, err := s.ConfigDB.ListCameras(userID)
	www.Check(err)
	payloads := make([]*cameraPayload, 0, len(cams))
	for i := range cams {
		payloads = append(payloads, cameraToPayload(&cams[i]))
	}
	www.SendJSON(w, payloads)
}

// httpWebRTCConfig tells viewers where the signaling relay lives and which
// ICE servers to use.
func (s *Server) httpWebRTCConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type webrtcConfig struct {
		SignalingURL string             `json:"signaling_url"`
		ICEServers   []config.ICEServer `json:"ice_servers"`
	}
	www.SendJSON(w, &webrtcConfig{
		SignalingURL: s.Config.SignalingURL,
		ICEServers:   s.Config.ICEServers,
	})
}
