// Package nnload loads detection models and caches them by model ID.
package nnload

import (
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/visioncore/visioncore/server/nn"
)

// LoadFunc loads the model with the given ID (eg a filename or registry name).
type LoadFunc func(modelID string) (nn.ObjectDetector, error)

// DefaultLoader is used when no detection backend is linked into the
// binary. Every model "loads" as a detector that finds nothing, which
// keeps agents running end to end on machines without an NN accelerator.
func DefaultLoader(modelID string) (nn.ObjectDetector, error) {
	return nn.NewScriptedDetector(), nil
}

// ModelCache hands out detectors, loading each model at most once.
// After the first load, a model is shared read-only by every agent that names
// it, so loads are serialized but lookups after load are cheap.
type ModelCache struct {
	log  logs.Log
	load LoadFunc

	lock   sync.Mutex
	models map[string]nn.ObjectDetector
}

func NewModelCache(log logs.Log, load LoadFunc) *ModelCache {
	return &ModelCache{
		log:    log,
		load:   load,
		models: map[string]nn.ObjectDetector{},
	}
}

// Get returns the detector for modelID, loading it on first use.
func (c *ModelCache) Get(modelID string) (nn.ObjectDetector, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if m, ok := c.models[modelID]; ok {
		return m, nil
	}
	c.log.Infof("Loading model '%v'", modelID)
	m, err := c.load(modelID)
	if err != nil {
		return nil, fmt.Errorf("Failed to load model '%v': %w", modelID, err)
	}
	c.models[modelID] = m
	return m, nil
}

// Close closes every loaded model.
func (c *ModelCache) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for id, m := range c.models {
		m.Close()
		delete(c.models, id)
	}
}
