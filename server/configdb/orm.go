package configdb

import (
	"github.com/cyclopcam/dbh"
	"github.com/visioncore/visioncore/server/defs"
	"github.com/visioncore/visioncore/server/rules"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Camera is a registered camera. Records are written by the external
// registration backend through our HTTP API; we only read them thereafter.
// (user_id, camera_id) is unique.
type Camera struct {
	BaseModel
	UserID     string      `json:"user_id"`
	CameraID   string      `json:"camera_id"`             // eg "CAM-43C1E6AFB726"
	CameraName string      `json:"camera_name"`           // Friendly name, eg "Front Door"
	RtspURL    string      `json:"rtsp_url"`              // Where the raw stream comes from
	DeviceID   string      `json:"device_id,omitempty" gorm:"default:null"` // Optional hardware ID
	CreatedAt  dbh.IntTime `json:"created_at"`
}

// Agent is a time-scoped automation unit: a camera, a detection model, and a
// set of rules. The registration API creates and updates agents; after that,
// the only field we mutate is Status, and only from the scheduler.
type Agent struct {
	BaseModel
	AgentID   string                       `json:"agent_id"`
	TaskName  string                       `json:"task_name"`
	TaskType  string                       `json:"task_type"`
	CameraID  string                       `json:"camera_id"`
	SourceURI string                       `json:"source_uri"`
	ModelIDs  *dbh.JSONField[[]string]     `json:"model_ids"` // Must be non-empty for the agent to be runnable
	FPS       int                          `json:"fps" gorm:"column:fps"`
	RunMode   string                       `json:"run_mode"` // defs.RunModeScheduled or defs.RunModeContinuous
	Rules     *dbh.JSONField[[]rules.Rule] `json:"rules"`
	Status    string                       `json:"status"` // defs.AgentStatusPending/Running/Terminated
	StartAt   dbh.IntTime                  `json:"start_at"`
	EndAt     dbh.IntTime                  `json:"end_at"`
	CreatedAt dbh.IntTime                  `json:"created_at"`
}

// ModelIDList returns the agent's model IDs, tolerating a null column.
func (a *Agent) ModelIDList() []string {
	if a.ModelIDs == nil {
		return nil
	}
	return a.ModelIDs.Data
}

// RuleList returns the agent's rules, tolerating a null column.
func (a *Agent) RuleList() []rules.Rule {
	if a.Rules == nil {
		return nil
	}
	return a.Rules.Data
}

func IsValidRunMode(m string) bool {
	return m == defs.RunModeScheduled || m == defs.RunModeContinuous
}

type Variable struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `json:"value"`
}
