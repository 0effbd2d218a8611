// Package config is the runtime configuration that doesn't belong in the
// database: where the signaling server lives, which ICE servers to hand out,
// and the various loop intervals.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ICEServer is one STUN or TURN server handed to the WebRTC stack and to viewers.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type Config struct {
	// SignalingURL is the websocket base URL of the signaling relay,
	// eg "ws://127.0.0.1:8080/ws". The publisher and viewers append their
	// client ID to this. If the config file leaves it empty, the variable
	// table's signalingURL row applies.
	SignalingURL string `json:"signalingURL"`

	// ICEServers handed to the WebRTC stack and to viewers. If empty, the
	// variable table and then the built-in STUN default apply.
	ICEServers []ICEServer `json:"iceServers"`

	// SyntheticSources replaces the per-camera media pipeline with generated
	// test frames. Useful on a dev box with no cameras.
	SyntheticSources bool `json:"syntheticSources"`

	SweepIntervalSeconds int `json:"sweepIntervalSeconds"` // Agent scheduler sweep period
	SessionRetrySeconds  int `json:"sessionRetrySeconds"`  // Backoff between publish session attempts
	HeartbeatSeconds     int `json:"heartbeatSeconds"`     // Signaling keep-alive ping period
	SourceFPS            int `json:"sourceFPS"`            // Frame rate of synthetic sources
}

// Default public STUN, same as the viewers get if nothing is configured.
const defaultStunURL = "stun:stun.l.google.com:19302"

// DefaultICEServers is the ICE set used when neither the config file nor the
// variable table names any.
func DefaultICEServers() []ICEServer {
	return []ICEServer{{URLs: []string{defaultStunURL}}}
}

func Default() *Config {
	return &Config{
		SweepIntervalSeconds: 5,
		SessionRetrySeconds:  5,
		HeartbeatSeconds:     10,
		SourceFPS:            15,
	}
}

// Load reads the JSON config file. An empty filename returns the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error parsing config file %v: %w", filename, err)
	}
	if cfg.SweepIntervalSeconds <= 0 {
		cfg.SweepIntervalSeconds = 5
	}
	if cfg.SessionRetrySeconds <= 0 {
		cfg.SessionRetrySeconds = 5
	}
	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = 10
	}
	if cfg.SourceFPS <= 0 {
		cfg.SourceFPS = 15
	}
	return cfg, nil
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) SessionRetry() time.Duration {
	return time.Duration(c.SessionRetrySeconds) * time.Second
}

func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}
