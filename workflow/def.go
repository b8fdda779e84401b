package workflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing"
	"gopkg.in/yaml.v3"
)

// - when a repo is modified, the forge hook posts a trigger, which
//   results in a "Pipeline"
// - a repo could consist of several workflow files
//   * .shuttle/workflows/test.yml
//   * .shuttle/workflows/lint.yml
// - therefore a pipeline consists of several workflows, these execute in parallel
// - each workflow consists of some execution steps, these execute serially

type (
	Pipeline []Workflow

	// this is simply a structural representation of the workflow file
	Workflow struct {
		Name        string            `yaml:"-"` // name of the workflow file
		When        []Constraint      `yaml:"when"`
		Image       string            `yaml:"image"`
		Steps       []Step            `yaml:"steps"`
		Environment map[string]string `yaml:"environment"`
		CloneOpts   CloneOpts         `yaml:"clone"`
	}

	Constraint struct {
		Event  StringList `yaml:"event"`
		Branch StringList `yaml:"branch"` // this is optional, and only applied on "push" events
		Paths  PathFilter `yaml:"paths"`
	}

	// PathFilter suppresses a run when every changed path matches an
	// ignore glob. A change set with at least one non-ignored path
	// still runs.
	PathFilter struct {
		Ignore []string `yaml:"ignore"`
	}

	CloneOpts struct {
		Skip              bool `yaml:"skip"`
		Depth             int  `yaml:"depth"`
		IncludeSubmodules bool `yaml:"submodules"`
	}

	Step struct {
		Name        string            `yaml:"name"`
		Uses        string            `yaml:"uses"`
		With        map[string]string `yaml:"with"`
		Run         string            `yaml:"run"`
		Environment map[string]string `yaml:"environment"`
	}

	StringList []string
)

const (
	TriggerKindPush        string = "push"
	TriggerKindPullRequest string = "pull_request"
	TriggerKindManual      string = "manual"
)

func FromFile(name string, contents []byte) (Workflow, error) {
	var wf Workflow

	err := yaml.Unmarshal(contents, &wf)
	if err != nil {
		return wf, err
	}

	wf.Name = name

	return wf, nil
}

// if any of the constraints on a workflow is true, return true
func (w *Workflow) Match(trigger Trigger) bool {
	// manual triggers always run the workflow
	if trigger.Manual != nil {
		return true
	}

	// if not manual, run through the constraint list and see if any one matches
	for _, c := range w.When {
		if c.Match(trigger) {
			return true
		}
	}

	// no constraints, always run this workflow
	if len(w.When) == 0 {
		return true
	}

	return false
}

// PathsSuppressed reports whether the workflow was held back only by
// its path filters: some constraint matched the trigger's event and
// branch, but every changed path was ignored.
func (w *Workflow) PathsSuppressed(trigger Trigger) bool {
	if trigger.Manual != nil {
		return false
	}

	for _, c := range w.When {
		if c.matchEventAndBranch(trigger) && c.Paths.Suppresses(trigger.ChangedFiles()) {
			return true
		}
	}

	return false
}

func (c *Constraint) Match(trigger Trigger) bool {
	// manual triggers always pass this constraint
	if trigger.Manual != nil {
		return true
	}

	if !c.matchEventAndBranch(trigger) {
		return false
	}

	return !c.Paths.Suppresses(trigger.ChangedFiles())
}

func (c *Constraint) matchEventAndBranch(trigger Trigger) bool {
	match := c.MatchEvent(trigger.Kind)

	// apply branch constraints for PRs
	if trigger.PullRequest != nil && len(c.Branch) > 0 {
		match = match && c.MatchBranch(trigger.PullRequest.TargetBranch)
	}

	// apply ref constraints for pushes
	if trigger.Push != nil && len(c.Branch) > 0 {
		match = match && c.MatchRef(trigger.Push.Ref)
	}

	return match
}

func (c *Constraint) MatchBranch(branch string) bool {
	return slices.Contains(c.Branch, branch)
}

func (c *Constraint) MatchRef(ref string) bool {
	refName := plumbing.ReferenceName(ref)
	if refName.IsBranch() {
		return slices.Contains(c.Branch, refName.Short())
	}
	return false
}

func (c *Constraint) MatchEvent(event string) bool {
	return slices.Contains(c.Event, event)
}

// Suppresses reports whether every path in the change set is covered
// by an ignore glob. Empty filters and empty change sets never
// suppress a run.
func (f *PathFilter) Suppresses(changed []string) bool {
	if len(f.Ignore) == 0 || len(changed) == 0 {
		return false
	}

	for _, path := range changed {
		ignored := false
		for _, pattern := range f.Ignore {
			if doublestar.MatchUnvalidated(pattern, path) {
				ignored = true
				break
			}
		}
		if !ignored {
			return false
		}
	}

	return true
}

// Custom unmarshaller for StringList
func (s *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var stringType string
	if err := unmarshal(&stringType); err == nil {
		*s = []string{stringType}
		return nil
	}

	var sliceType []any
	if err := unmarshal(&sliceType); err == nil {

		if sliceType == nil {
			*s = nil
			return nil
		}

		parts := make([]string, len(sliceType))
		for k, v := range sliceType {
			if sv, ok := v.(string); ok {
				parts[k] = sv
			} else {
				return fmt.Errorf("cannot unmarshal '%v' of type %T into a string value", v, v)
			}
		}

		*s = parts
		return nil
	}

	return errors.New("failed to unmarshal StringOrSlice")
}
