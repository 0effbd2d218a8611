// Package scheduler keeps agent status in sync with each agent's time
// window, and starts or stops agent analysis tasks to match. All state
// transitions happen on a single goroutine that sweeps periodically, or
// immediately when woken.
package scheduler

import (
	"context"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/visioncore/visioncore/server/configdb"
	"github.com/visioncore/visioncore/server/defs"
	"github.com/visioncore/visioncore/server/hub"
	"github.com/visioncore/visioncore/server/nn"
	"github.com/visioncore/visioncore/server/nnload"
)

type runningTask struct {
	cancel context.CancelFunc
	done   chan bool
}

// Scheduler owns the sweep loop. The tasks map is touched only by the run
// thread, so it needs no lock.
type Scheduler struct {
	ShutdownComplete chan bool // Closed when the run loop has exited

	log           logs.Log
	db            *configdb.ConfigDB
	frameHub      *hub.Hub
	models        *nnload.ModelCache
	sweepInterval time.Duration
	wake          chan bool
	shutdown      chan bool
	tasks         map[string]*runningTask // keyed by agent ID

	// Overridable for tests
	now func() time.Time
}

func NewScheduler(log logs.Log, db *configdb.ConfigDB, frameHub *hub.Hub, models *nnload.ModelCache, sweepInterval time.Duration) *Scheduler {
	return &Scheduler{
		ShutdownComplete: make(chan bool),
		log:              logs.NewPrefixLogger(log, "Scheduler:"),
		db:               db,
		frameHub:         frameHub,
		models:           models,
		sweepInterval:    sweepInterval,
		wake:             make(chan bool, 1),
		shutdown:         make(chan bool),
		tasks:            map[string]*runningTask{},
		now:              time.Now,
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop signals the run loop, waits for it to exit, and tears down all tasks.
func (s *Scheduler) Stop() {
	close(s.shutdown)
	<-s.ShutdownComplete
}

// Wake triggers an immediate sweep. Never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- true:
	default:
	}
}

func (s *Scheduler) run() {
	for exit := false; !exit; {
		select {
		case <-time.After(s.sweepInterval):
		case <-s.wake:
		case <-s.shutdown:
			exit = true
		}
		if !exit {
			s.Sweep()
		}
	}
	for agentID, task := range s.tasks {
		s.stopTask(agentID, task)
	}
	close(s.ShutdownComplete)
}

// ComputeStatus derives an agent's status from its run mode and time
// window. Continuous agents are always running. Terminated is a one-way
// street, which the sweep enforces by never revisiting terminated agents.
func ComputeStatus(runMode string, now time.Time, startAt, endAt time.Time) string {
	if runMode == defs.RunModeContinuous {
		return defs.AgentStatusRunning
	}
	switch {
	case now.Before(startAt):
		return defs.AgentStatusPending
	case now.Before(endAt):
		return defs.AgentStatusRunning
	default:
		return defs.AgentStatusTerminated
	}
}

// Sweep recomputes every non-terminated agent's status, persists changes,
// and reconciles the running task set against the agents that should be
// running. Exported so tests can drive the clock directly.
func (s *Scheduler) Sweep() {
	// Drain wake, so a wakeup during the sweep triggers another sweep
	select {
	case <-s.wake:
	default:
	}

	agents, err := s.db.NonTerminatedAgents()
	if err != nil {
		s.log.Errorf("Failed to read agents: %v", err)
		return
	}

	now := s.now()
	shouldRun := map[string]bool{}
	for i := range agents {
		agent := &agents[i]
		status := ComputeStatus(agent.RunMode, now, agent.StartAt.Get(), agent.EndAt.Get())
		if status != agent.Status {
			if err := s.db.SetAgentStatus(agent.AgentID, status); err != nil {
				s.log.Errorf("Failed to persist status of %v: %v", agent.AgentID, err)
				continue
			}
			s.log.Infof("Agent %v: %v -> %v", agent.AgentID, agent.Status, status)
			agent.Status = status
		}
		if status == defs.AgentStatusRunning {
			shouldRun[agent.AgentID] = true
			if s.tasks[agent.AgentID] == nil {
				s.startTask(agent)
			}
		}
	}

	// Stop tasks for agents that left the running state, or vanished entirely
	for agentID, task := range s.tasks {
		if !shouldRun[agentID] {
			s.stopTask(agentID, task)
			delete(s.tasks, agentID)
		}
	}
}

func (s *Scheduler) startTask(agent *configdb.Agent) {
	rt, err := s.buildRuntime(agent)
	if err != nil {
		s.log.Warnf("Agent %v not started: %v", agent.AgentID, err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &runningTask{cancel: cancel, done: make(chan bool)}
	s.tasks[agent.AgentID] = task
	go func() {
		rt.run(ctx)
		close(task.done)
	}()
	s.log.Infof("Agent %v started on camera %v", agent.AgentID, agent.CameraID)
}

func (s *Scheduler) stopTask(agentID string, task *runningTask) {
	task.cancel()
	<-task.done
	s.log.Infof("Agent %v stopped", agentID)
}

func (s *Scheduler) buildRuntime(agent *configdb.Agent) (*agentRuntime, error) {
	modelIDs := agent.ModelIDList()
	if len(modelIDs) == 0 {
		return nil, errNoModels
	}
	if _, err := s.db.GetCameraByCameraID(agent.CameraID); err != nil {
		return nil, err
	}
	detectors := make([]nn.ObjectDetector, 0, len(modelIDs))
	for _, id := range modelIDs {
		det, err := s.models.Get(id)
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, det)
	}
	return &agentRuntime{
		log:       s.log,
		frameHub:  s.frameHub,
		agentID:   agent.AgentID,
		cameraID:  agent.CameraID,
		fps:       agent.FPS,
		detectors: detectors,
		rules:     agent.RuleList(),
	}, nil
}
