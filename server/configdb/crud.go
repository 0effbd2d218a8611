package configdb

import (
	"errors"
	"fmt"

	"github.com/visioncore/visioncore/server/defs"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// UpsertCamera inserts the camera, or updates the existing record with the
// same (user_id, camera_id).
func (c *ConfigDB) UpsertCamera(cam *Camera) error {
	existing := Camera{}
	err := c.DB.Where("user_id = ? AND camera_id = ?", cam.UserID, cam.CameraID).First(&existing).Error
	if err == nil {
		cam.ID = existing.ID
		cam.CreatedAt = existing.CreatedAt
		return c.DB.Save(cam).Error
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.DB.Create(cam).Error
	}
	return err
}

// GetCameraByCameraID returns the camera with the given camera_id, or ErrNotFound.
func (c *ConfigDB) GetCameraByCameraID(cameraID string) (*Camera, error) {
	cam := Camera{}
	err := c.DB.Where("camera_id = ?", cameraID).First(&cam).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &cam, nil
}

// ListCameras returns all cameras, or only those of one user if userID is not empty.
func (c *ConfigDB) ListCameras(userID string) ([]Camera, error) {
	cams := []Camera{}
	q := c.DB.Order("camera_id")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&cams).Error; err != nil {
		return nil, err
	}
	return cams, nil
}

// SingleUserID resolves the one user that this deployment serves, from the
// camera records. It is an error to have cameras from more than one user:
// an edge box publishes for exactly one user.
func (c *ConfigDB) SingleUserID() (string, error) {
	userIDs := []string{}
	if err := c.DB.Model(&Camera{}).Distinct("user_id").Pluck("user_id", &userIDs).Error; err != nil {
		return "", err
	}
	if len(userIDs) == 0 {
		return "", errors.New("no cameras registered yet")
	}
	if len(userIDs) > 1 {
		return "", fmt.Errorf("cameras belong to %v different users, expected exactly one", len(userIDs))
	}
	return userIDs[0], nil
}

// UpsertAgent inserts the agent, or replaces the existing record with the same agent_id.
func (c *ConfigDB) UpsertAgent(agent *Agent) error {
	existing := Agent{}
	err := c.DB.Where("agent_id = ?", agent.AgentID).First(&existing).Error
	if err == nil {
		agent.ID = existing.ID
		if agent.CreatedAt.IsZero() {
			agent.CreatedAt = existing.CreatedAt
		}
		return c.DB.Save(agent).Error
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.DB.Create(agent).Error
	}
	return err
}

// GetAgent returns the agent with the given agent_id, or ErrNotFound.
func (c *ConfigDB) GetAgent(agentID string) (*Agent, error) {
	agent := Agent{}
	err := c.DB.Where("agent_id = ?", agentID).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents returns agents, optionally filtered by camera_id and/or status.
func (c *ConfigDB) ListAgents(cameraID, status string) ([]Agent, error) {
	agents := []Agent{}
	q := c.DB.Order("agent_id")
	if cameraID != "" {
		q = q.Where("camera_id = ?", cameraID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// NonTerminatedAgents returns every agent that the scheduler still cares about.
// Terminated agents never come back to life, so the sweep skips them.
func (c *ConfigDB) NonTerminatedAgents() ([]Agent, error) {
	agents := []Agent{}
	if err := c.DB.Where("status <> ?", defs.AgentStatusTerminated).Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// SetAgentStatus persists a status change computed by the scheduler.
func (c *ConfigDB) SetAgentStatus(agentID, status string) error {
	return c.DB.Model(&Agent{}).Where("agent_id = ?", agentID).Update("status", status).Error
}
