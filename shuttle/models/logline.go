package models

import "time"

type LogLineKind string

const (
	LogLineKindData    LogLineKind = "data"
	LogLineKindControl LogLineKind = "control"
)

// LogLine is one entry in a workflow's JSON-lines log. Data lines
// carry captured step output; control lines mark step transitions.
type LogLine struct {
	Kind LogLineKind `json:"kind"`
	Step int         `json:"step"`
	Time time.Time   `json:"time"`

	// data lines
	Stream string `json:"stream,omitempty"`
	Data   string `json:"data,omitempty"`

	// control lines
	StepName string     `json:"step_name,omitempty"`
	Status   StatusKind `json:"status,omitempty"`
}

func NewDataLogLine(idx int, data, stream string) LogLine {
	return LogLine{
		Kind:   LogLineKindData,
		Step:   idx,
		Time:   time.Now(),
		Stream: stream,
		Data:   data,
	}
}

func NewControlLogLine(idx int, step Step, status StatusKind) LogLine {
	return LogLine{
		Kind:     LogLineKindControl,
		Step:     idx,
		Time:     time.Now(),
		StepName: step.Name,
		Status:   status,
	}
}
