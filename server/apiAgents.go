package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/visioncore/visioncore/server/configdb"
	"github.com/visioncore/visioncore/server/rules"
	"github.com/visioncore/visioncore/server/scheduler"
)

// agentPayload is the wire format for agent registration and listing.
// StartAt/EndAt are unix milliseconds.
type agentPayload struct {
	AgentID   string       `json:"agent_id"`
	TaskName  string       `json:"task_name"`
	TaskType  string       `json:"task_type"`
	CameraID  string       `json:"camera_id"`
	SourceURI string       `json:"source_uri,omitempty"`
	ModelIDs  []string     `json:"model_ids"`
	FPS       int          `json:"fps"`
	RunMode   string       `json:"run_mode"`
	Rules     []rules.Rule `json:"rules,omitempty"`
	Status    string       `json:"status,omitempty"`
	StartAt   int64        `json:"start_at,omitempty"`
	EndAt     int64        `json:"end_at,omitempty"`
}

func agentToPayload(agent *configdb.Agent) *agentPayload {
	p := &agentPayload{
		AgentID:   agent.AgentID,
		TaskName:  agent.TaskName,
		TaskType:  agent.TaskType,
		CameraID:  agent.CameraID,
		SourceURI: agent.SourceURI,
		ModelIDs:  agent.ModelIDList(),
		FPS:       agent.FPS,
		RunMode:   agent.RunMode,
		Rules:     agent.RuleList(),
		Status:    agent.Status,
	}
	if !agent.StartAt.IsZero() {
		p.StartAt = agent.StartAt.Get().UnixMilli()
	}
	if !agent.EndAt.IsZero() {
		p.EndAt = agent.EndAt.Get().UnixMilli()
	}
	return p
}

// httpAgentRegister creates or replaces an agent. The initial status is
// computed from the agent's window right here, so a caller that registers
// an already-active agent sees "running" in the response, and the woken
// scheduler starts the task without waiting for the next periodic sweep.
func (s *Server) httpAgentRegister(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	payload := agentPayload{}
	www.ReadJSON(w, r, &payload, 1024*1024)
	if payload.AgentID == "" || payload.CameraID == "" {
		www.PanicBadRequestf("agent_id and camera_id are required")
	}
	if !configdb.IsValidRunMode(payload.RunMode) {
		www.PanicBadRequestf("invalid run_mode %q", payload.RunMode)
	}
	if _, err := s.ConfigDB.GetCameraByCameraID(payload.CameraID); err != nil {
		if errors.Is(err, configdb.ErrNotFound) {
			www.PanicBadRequestf("camera %q is not registered", payload.CameraID)
		}
		www.Check(err)
	}

	modelIDs := dbh.JSONField[[]string]{}
	modelIDs.Data = payload.ModelIDs
	ruleList := dbh.JSONField[[]rules.Rule]{}
	ruleList.Data = payload.Rules

	agent := &configdb.Agent{
		AgentID:   payload.AgentID,
		TaskName:  payload.TaskName,
		TaskType:  payload.TaskType,
		CameraID:  payload.CameraID,
		SourceURI: payload.SourceURI,
		ModelIDs:  &modelIDs,
		FPS:       payload.FPS,
		RunMode:   payload.RunMode,
		Rules:     &ruleList,
		CreatedAt: dbh.MakeIntTime(time.Now()),
	}
	if payload.StartAt != 0 {
		agent.StartAt = dbh.MakeIntTime(time.UnixMilli(payload.StartAt))
	}
	if payload.EndAt != 0 {
		agent.EndAt = dbh.MakeIntTime(time.UnixMilli(payload.EndAt))
	}
	agent.Status = scheduler.ComputeStatus(agent.RunMode, time.Now(), agent.StartAt.Get(), agent.EndAt.Get())

	www.Check(s.ConfigDB.UpsertAgent(agent))
	s.Scheduler.Wake()
	s.Log.Infof("Agent %v registered on camera %v (%v)", agent.AgentID, agent.CameraID, agent.Status)
	www.SendJSON(w, agentToPayload(agent))
}

// httpAgentList lists agents, optionally filtered by ?camera_id= and ?status=
func (s *Server) httpAgentList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cameraID := www.QueryValue(r, "camera_id")
	status := www.QueryValue(r, "status")
	agents, err := s.ConfigDB.ListAgents(cameraID, status)
	www.Check(err)
	payloads := make([]*agentPayload, 0, len(agents))
	for i := range agents {
		payloads = append(payloads, agentToPayload(&agents[i]))
	}
	www.SendJSON(w, payloads)
}

func (s *Server) httpAgentGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	agent, err := s.ConfigDB.GetAgent(params.ByName("agentID"))
	if errors.Is(err, configdb.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	www.SendJSON(w, agentToPayload(agent))
}
