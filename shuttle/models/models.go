package models

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	re = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
)

type PipelineId string

func NewPipelineId() PipelineId {
	return PipelineId(uuid.NewString())
}

type WorkflowId struct {
	PipelineId PipelineId
	Name       string
}

// String renders an id safe for filesystem paths and container names.
func (wid WorkflowId) String() string {
	return fmt.Sprintf("%s-%s", wid.PipelineId, normalize(wid.Name))
}

func normalize(name string) string {
	normalized := re.ReplaceAllString(name, "-")
	return normalized
}

type StatusKind string

const (
	StatusKindPending   StatusKind = "pending"
	StatusKindRunning   StatusKind = "running"
	StatusKindFailed    StatusKind = "failed"
	StatusKindTimeout   StatusKind = "timeout"
	StatusKindCancelled StatusKind = "cancelled"
	StatusKindSuccess   StatusKind = "success"
)

type StepKind int

const (
	// steps injected by the CI runner
	StepKindSystem StepKind = iota
	// steps defined by the user in the original pipeline
	StepKindUser
)

type Step struct {
	Name        string
	Command     string
	Kind        StepKind
	Environment map[string]string
}

type Workflow struct {
	Name  string
	Image string
	Steps []Step

	Environment map[string]string

	// engine-private payload, set by InitWorkflow
	Data any
}
