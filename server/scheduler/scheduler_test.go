package scheduler

import (
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
	"github.com/visioncore/visioncore/server/configdb"
	"github.com/visioncore/visioncore/server/defs"
	"github.com/visioncore/visioncore/server/hub"
	"github.com/visioncore/visioncore/server/nn"
	"github.com/visioncore/visioncore/server/nnload"
	"github.com/visioncore/visioncore/server/rules"
)

type fixture struct {
	db        *configdb.ConfigDB
	frameHub  *hub.Hub
	detector  *nn.ScriptedDetector
	scheduler *Scheduler
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	log := logs.NewTestingLog(t)
	db, err := configdb.NewConfigDB(log, filepath.Join(t.TempDir(), "scheduler-test.sqlite"))
	require.NoError(t, err)
	f := &fixture{
		db:       db,
		frameHub: hub.NewHub(log),
		detector: nn.NewScriptedDetector(),
		now:      time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}
	models := nnload.NewModelCache(log, func(modelID string) (nn.ObjectDetector, error) {
		return f.detector, nil
	})
	// A long sweep interval, because the tests drive Sweep directly
	f.scheduler = NewScheduler(log, db, f.frameHub, models, time.Hour)
	f.scheduler.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addCamera(t *testing.T, cameraID string) {
	require.NoError(t, f.db.UpsertCamera(&configdb.Camera{
		UserID:    "alice",
		CameraID:  cameraID,
		RtspURL:   "rtsp://example/stream",
		CreatedAt: dbh.MakeIntTime(f.now),
	}))
}

func (f *fixture) addAgent(t *testing.T, agentID, cameraID, runMode string, startAt, endAt time.Time, modelIDs []string) {
	models := dbh.JSONField[[]string]{}
	models.Data = modelIDs
	ruleList := dbh.JSONField[[]rules.Rule]{}
	ruleList.Data = []rules.Rule{
		{Type: rules.KindClassPresence, TargetClass: "person", Label: "person present"},
	}
	agent := &configdb.Agent{
		AgentID:   agentID,
		TaskType:  "object_detection",
		CameraID:  cameraID,
		ModelIDs:  &models,
		FPS:       100,
		RunMode:   runMode,
		Rules:     &ruleList,
		Status:    defs.AgentStatusPending,
		CreatedAt: dbh.MakeIntTime(f.now),
	}
	if !startAt.IsZero() {
		agent.StartAt = dbh.MakeIntTime(startAt)
	}
	if !endAt.IsZero() {
		agent.EndAt = dbh.MakeIntTime(endAt)
	}
	require.NoError(t, f.db.UpsertAgent(agent))
}

func (f *fixture) agentStatus(t *testing.T, agentID string) string {
	agent, err := f.db.GetAgent(agentID)
	require.NoError(t, err)
	return agent.Status
}

func TestComputeStatus(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Minute)
	end := now.Add(time.Hour)

	require.Equal(t, defs.AgentStatusRunning, ComputeStatus(defs.RunModeContinuous, now, time.Time{}, time.Time{}))
	require.Equal(t, defs.AgentStatusPending, ComputeStatus(defs.RunModeScheduled, now, start, end))
	require.Equal(t, defs.AgentStatusRunning, ComputeStatus(defs.RunModeScheduled, start, start, end))
	require.Equal(t, defs.AgentStatusRunning, ComputeStatus(defs.RunModeScheduled, end.Add(-time.Second), start, end))
	require.Equal(t, defs.AgentStatusTerminated, ComputeStatus(defs.RunModeScheduled, end, start, end))
	require.Equal(t, defs.AgentStatusTerminated, ComputeStatus(defs.RunModeScheduled, end.Add(time.Hour), start, end))
}

func TestScheduledAgentLifecycle(t *testing.T) {
	f := newFixture(t)
	f.addCamera(t, "CAM-1")
	start := f.now.Add(time.Minute)
	end := f.now.Add(time.Hour)
	f.addAgent(t, "agent-1", "CAM-1", defs.RunModeScheduled, start, end, []string{"yolov8n"})

	// Before the window: pending, no task
	f.scheduler.Sweep()
	require.Equal(t, defs.AgentStatusPending, f.agentStatus(t, "agent-1"))
	require.Empty(t, f.scheduler.tasks)

	// Window opens: running, task starts
	f.now = start
	f.scheduler.Sweep()
	require.Equal(t, defs.AgentStatusRunning, f.agentStatus(t, "agent-1"))
	require.Len(t, f.scheduler.tasks, 1)

	// Still inside the window: no churn
	f.now = start.Add(time.Minute)
	f.scheduler.Sweep()
	require.Len(t, f.scheduler.tasks, 1)

	// Window closes: terminated, task stops
	f.now = end.Add(time.Second)
	f.scheduler.Sweep()
	require.Equal(t, defs.AgentStatusTerminated, f.agentStatus(t, "agent-1"))
	require.Empty(t, f.scheduler.tasks)

	// Terminated agents stay terminated, even if the clock runs backwards
	f.now = start
	f.scheduler.Sweep()
	require.Equal(t, defs.AgentStatusTerminated, f.agentStatus(t, "agent-1"))
	require.Empty(t, f.scheduler.tasks)
}

func TestContinuousAgent(t *testing.T) {
	f := newFixture(t)
	f.addCamera(t, "CAM-1")
	f.addAgent(t, "agent-1", "CAM-1", defs.RunModeContinuous, time.Time{}, time.Time{}, []string{"yolov8n"})

	f.scheduler.Sweep()
	require.Equal(t, defs.AgentStatusRunning, f.agentStatus(t, "agent-1"))
	require.Len(t, f.scheduler.tasks, 1)

	// Continuous agents never terminate on their own
	f.now = f.now.Add(24 * time.Hour)
	f.scheduler.Sweep()
	require.Equal(t, defs.AgentStatusRunning, f.agentStatus(t, "agent-1"))
	require.Len(t, f.scheduler.tasks, 1)

	f.scheduler.shutdownTasksForTest()
}

func TestAgentWithoutModelsDoesNotStart(t *testing.T) {
	f := newFixture(t)
	f.addCamera(t, "CAM-1")
	f.addAgent(t, "agent-1", "CAM-1", defs.RunModeContinuous, time.Time{}, time.Time{}, nil)

	f.scheduler.Sweep()
	// The status transition happens, but no task runs
	require.Equal(t, defs.AgentStatusRunning, f.agentStatus(t, "agent-1"))
	require.Empty(t, f.scheduler.tasks)
}

func TestAgentWithMissingCameraDoesNotStart(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, "agent-1", "CAM-404", defs.RunModeContinuous, time.Time{}, time.Time{}, []string{"yolov8n"})

	f.scheduler.Sweep()
	require.Empty(t, f.scheduler.tasks)
}

func TestDeletedAgentTaskStops(t *testing.T) {
	f := newFixture(t)
	f.addCamera(t, "CAM-1")
	f.addAgent(t, "agent-1", "CAM-1", defs.RunModeContinuous, time.Time{}, time.Time{}, []string{"yolov8n"})

	f.scheduler.Sweep()
	require.Len(t, f.scheduler.tasks, 1)

	require.NoError(t, f.db.DB.Where("agent_id = ?", "agent-1").Delete(&configdb.Agent{}).Error)
	f.scheduler.Sweep()
	require.Empty(t, f.scheduler.tasks)
}

func TestAgentTaskPublishesOnMatch(t *testing.T) {
	f := newFixture(t)
	log := logs.NewTestingLog(t)
	f.detector.Static = []nn.ObjectDetection{
		{Class: "person", Confidence: 0.92, Box: nn.Rect{X: 10, Y: 10, Width: 40, Height: 80}},
	}

	rt := &agentRuntime{
		log:       log,
		frameHub:  f.frameHub,
		agentID:   "agent-1",
		cameraID:  "CAM-1",
		fps:       100,
		detectors: []nn.ObjectDetector{f.detector},
		rules: []rules.Rule{
			{Type: rules.KindClassPresence, TargetClass: "person", Label: "person present"},
		},
	}

	// No frame on the camera yet: nothing happens
	rt.tick()
	require.Equal(t, 0, f.detector.NumCalls())

	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	f.frameHub.Publish(defs.CameraChannel("CAM-1"), &defs.Frame{
		Image:    img,
		PTS:      time.Second,
		Captured: time.Now(),
	})

	rt.tick()
	require.Equal(t, 1, f.detector.NumCalls())
	out := f.frameHub.Latest(defs.AgentChannel("agent-1"))
	require.NotNil(t, out)
	require.NotNil(t, out.Image)
	require.Equal(t, time.Second, out.PTS)

	// Same frame again: suppressed, no second detection
	rt.tick()
	require.Equal(t, 1, f.detector.NumCalls())
}

func TestAgentTaskNoPublishWithoutMatch(t *testing.T) {
	f := newFixture(t)
	log := logs.NewTestingLog(t)
	f.detector.Static = []nn.ObjectDetection{{Class: "car", Confidence: 0.9}}

	rt := &agentRuntime{
		log:       log,
		frameHub:  f.frameHub,
		agentID:   "agent-1",
		cameraID:  "CAM-1",
		detectors: []nn.ObjectDetector{f.detector},
		rules: []rules.Rule{
			{Type: rules.KindClassPresence, TargetClass: "person", Label: "person present"},
		},
	}

	f.frameHub.Publish(defs.CameraChannel("CAM-1"), &defs.Frame{
		Image: image.NewRGBA(image.Rect(0, 0, 32, 32)),
		PTS:   time.Second,
	})
	rt.tick()
	require.Equal(t, 1, f.detector.NumCalls())
	require.Nil(t, f.frameHub.Latest(defs.AgentChannel("agent-1")))
}

// shutdownTasksForTest cancels running tasks without going through the
// full Stop path, which requires a started run loop.
func (s *Scheduler) shutdownTasksForTest() {
	for agentID, task := range s.tasks {
		s.stopTask(agentID, task)
		delete(s.tasks, agentID)
	}
}
