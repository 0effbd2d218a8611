// Package rules evaluates an agent's declarative detection rules against the
// detections produced for a single frame.
package rules

import (
	"github.com/cyclopcam/logs"
	"github.com/visioncore/visioncore/server/nn"
)

// Wire names of the built-in rule kinds.
const (
	KindClassPresence = "class_presence"
	KindClassCount    = "class_count"
)

// Rule is one condition on an agent. Rules are stored on the agent record and
// evaluated in declaration order.
type Rule struct {
	Type        string `json:"type"`                // Rule kind (eg "class_presence")
	TargetClass string `json:"class"`               // Object class the rule looks for (eg "person")
	Label       string `json:"label"`               // Human readable name, used in logs
	MinCount    int    `json:"min_count,omitempty"` // class_count only. Zero means 1.
	Action      string `json:"action,omitempty"`    // Opaque downstream hint, not interpreted here
}

// RuleFunc evaluates one rule against a frame's detections, returning whether
// the rule matched, and the detections that constitute the evidence.
type RuleFunc func(rule *Rule, detections []nn.ObjectDetection) (bool, []nn.ObjectDetection)

// Closed registry of rule kinds, built once at startup. A rule whose Type is
// not in here is skipped with a diagnostic, never an error.
var registry = map[string]RuleFunc{
	KindClassPresence: classPresence,
	KindClassCount:    classCount,
}

// classPresence matches if any detection has the target class.
// Evidence is every detection of the target class.
func classPresence(rule *Rule, detections []nn.ObjectDetection) (bool, []nn.ObjectDetection) {
	filtered := filterClass(rule.TargetClass, detections)
	return len(filtered) != 0, filtered
}

// classCount matches if at least MinCount detections have the target class.
// Evidence is every detection of the target class, returned whether or not the
// threshold was met. Downstream consumers rely on seeing the full filtered set.
func classCount(rule *Rule, detections []nn.ObjectDetection) (bool, []nn.ObjectDetection) {
	filtered := filterClass(rule.TargetClass, detections)
	minCount := rule.MinCount
	if minCount < 1 {
		minCount = 1
	}
	return len(filtered) >= minCount, filtered
}

func filterClass(class string, detections []nn.ObjectDetection) []nn.ObjectDetection {
	filtered := []nn.ObjectDetection{}
	for _, d := range detections {
		if d.Class == class {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// Evaluate runs a single rule. An unknown rule kind returns (false, nil, false),
// where the final result reports whether the kind was recognized.
func Evaluate(rule *Rule, detections []nn.ObjectDetection) (matched bool, evidence []nn.ObjectDetection, known bool) {
	fn := registry[rule.Type]
	if fn == nil {
		return false, nil, false
	}
	matched, evidence = fn(rule, detections)
	return matched, evidence, true
}

// Run evaluates all of an agent's rules, in declaration order.
// anyMatched is true if at least one rule matched. kept accumulates the
// evidence of every matched rule, rule order first, detection order within a
// rule second. Evidence is not de-duplicated across rules.
func Run(log logs.Log, agentID string, ruleList []Rule, detections []nn.ObjectDetection) (anyMatched bool, kept []nn.ObjectDetection) {
	for i := range ruleList {
		rule := &ruleList[i]
		matched, evidence, known := Evaluate(rule, detections)
		if !known {
			log.Warnf("Agent %v: unknown rule type '%v' (rule '%v'), skipping", agentID, rule.Type, rule.Label)
			continue
		}
		if matched {
			anyMatched = true
			kept = append(kept, evidence...)
		}
	}
	return anyMatched, kept
}
