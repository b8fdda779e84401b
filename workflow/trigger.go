package workflow

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

// Trigger is the payload that starts a pipeline. It is posted by the
// forge hook (or assembled locally by the CLI) alongside the raw
// workflow files of the repository.
type Trigger struct {
	Kind        string            `json:"kind"`
	Repo        Repo              `json:"repo"`
	Push        *PushEvent        `json:"push,omitempty"`
	PullRequest *PullRequestEvent `json:"pull_request,omitempty"`
	Manual      *ManualEvent      `json:"manual,omitempty"`
}

type Repo struct {
	Name          string `json:"name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
}

type PushEvent struct {
	Ref          string   `json:"ref"`
	OldSha       string   `json:"old_sha"`
	NewSha       string   `json:"new_sha"`
	ChangedFiles []string `json:"changed_files"`
}

type PullRequestEvent struct {
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	ChangedFiles []string `json:"changed_files"`
}

type ManualEvent struct{}

// ChangedFiles returns the change set carried by the trigger, if any.
func (t *Trigger) ChangedFiles() []string {
	switch {
	case t.Push != nil:
		return t.Push.ChangedFiles
	case t.PullRequest != nil:
		return t.PullRequest.ChangedFiles
	}
	return nil
}

// Branch returns the short branch name behind Ref. Plain branch
// names pass through; non-branch refs (tags, raw shas) yield "".
func (t *Trigger) Branch() string {
	ref := t.Ref()
	refName := plumbing.ReferenceName(ref)
	switch {
	case refName.IsBranch():
		return refName.Short()
	case strings.HasPrefix(ref, "refs/"):
		return ""
	}
	return ref
}

// Ref returns the ref a workflow run should check out for this trigger.
func (t *Trigger) Ref() string {
	switch t.Kind {
	case TriggerKindPush:
		if t.Push != nil {
			return t.Push.Ref
		}
	case TriggerKindPullRequest:
		if t.PullRequest != nil {
			return t.PullRequest.TargetBranch
		}
	}
	return t.Repo.DefaultBranch
}
