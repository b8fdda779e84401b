package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnmarshalWorkflow(t *testing.T) {
	yamlData := `
when:
  - event: ["push", "pull_request"]
    branch: ["main", "develop"]
image: python:3.12`

	wf, err := FromFile("test.yml", []byte(yamlData))
	assert.NoError(t, err, "YAML should unmarshal without error")

	assert.Len(t, wf.When, 1, "Should have one constraint")
	assert.ElementsMatch(t, []string{"main", "develop"}, wf.When[0].Branch)
	assert.ElementsMatch(t, []string{"push", "pull_request"}, wf.When[0].Event)
	assert.Equal(t, "python:3.12", wf.Image)

	assert.False(t, wf.CloneOpts.Skip, "Skip should default to false")
}

func TestUnmarshalPathFilter(t *testing.T) {
	yamlData := `
when:
  - event: push
    paths:
      ignore:
        - "**/*.lock"
        - "**/*.toml"
        - "**/README.md"
`

	wf, err := FromFile("test.yml", []byte(yamlData))
	assert.NoError(t, err)

	assert.ElementsMatch(t, []string{"push"}, wf.When[0].Event)
	assert.Len(t, wf.When[0].Paths.Ignore, 3)
}

func TestUnmarshalSteps(t *testing.T) {
	yamlData := `
steps:
  - uses: setup-runtime
    with:
      version: "3.12"
      cache: poetry
  - name: install
    run: poetry install
`

	wf, err := FromFile("test.yml", []byte(yamlData))
	assert.NoError(t, err)

	assert.Len(t, wf.Steps, 2)
	assert.Equal(t, "setup-runtime", wf.Steps[0].Uses)
	assert.Equal(t, "3.12", wf.Steps[0].With["version"])
	assert.Equal(t, "poetry install", wf.Steps[1].Run)
}

func TestUnmarshalCloneSkip(t *testing.T) {
	yamlData := `
when:
  - event: pull_request

clone:
  skip: true
`

	wf, err := FromFile("test.yml", []byte(yamlData))
	assert.NoError(t, err)

	assert.ElementsMatch(t, []string{"pull_request"}, wf.When[0].Event)
	assert.True(t, wf.CloneOpts.Skip)
}

func pushTrigger(changed ...string) Trigger {
	return Trigger{
		Kind: TriggerKindPush,
		Repo: Repo{Name: "acme/app", DefaultBranch: "main"},
		Push: &PushEvent{
			Ref:          "refs/heads/main",
			OldSha:       strings.Repeat("0", 40),
			NewSha:       strings.Repeat("f", 40),
			ChangedFiles: changed,
		},
	}
}

func TestMatchEventAndBranch(t *testing.T) {
	wf := Workflow{
		When: []Constraint{
			{Event: StringList{"push"}, Branch: StringList{"main"}},
		},
	}

	assert.True(t, wf.Match(pushTrigger("app.py")))

	other := pushTrigger("app.py")
	other.Push.Ref = "refs/heads/feature"
	assert.False(t, wf.Match(other))

	tag := pushTrigger("app.py")
	tag.Push.Ref = "refs/tags/v1.0.0"
	assert.False(t, wf.Match(tag), "tag pushes should not match branch constraints")
}

func TestMatchNoConstraints(t *testing.T) {
	wf := Workflow{}
	assert.True(t, wf.Match(pushTrigger("app.py")))
}

func TestMatchManualAlwaysRuns(t *testing.T) {
	wf := Workflow{
		When: []Constraint{
			{Event: StringList{"push"}, Branch: StringList{"release"}},
		},
	}

	trigger := Trigger{Kind: TriggerKindManual, Manual: &ManualEvent{}}
	assert.True(t, wf.Match(trigger))
}

func TestPathFilterSuppresses(t *testing.T) {
	filter := PathFilter{Ignore: []string{"**/*.lock", "**/*.toml", "**/README.md"}}

	tests := []struct {
		name     string
		changed  []string
		suppress bool
	}{
		{"only readme", []string{"README.md"}, true},
		{"nested readme", []string{"docs/README.md"}, true},
		{"source file", []string{"app.py"}, false},
		{"mixed set", []string{"app.py", "poetry.lock"}, false},
		{"all excluded", []string{"poetry.lock", "pyproject.toml"}, true},
		{"empty change set", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.suppress, filter.Suppresses(tt.changed))
		})
	}
}

func TestMatchPathFilters(t *testing.T) {
	wf := Workflow{
		When: []Constraint{
			{
				Event: StringList{"push"},
				Paths: PathFilter{Ignore: []string{"**/*.lock", "**/README.md"}},
			},
		},
	}

	assert.False(t, wf.Match(pushTrigger("README.md")))
	assert.True(t, wf.PathsSuppressed(pushTrigger("README.md")))

	assert.True(t, wf.Match(pushTrigger("app.py")))
	assert.True(t, wf.Match(pushTrigger("app.py", "poetry.lock")))
	assert.False(t, wf.PathsSuppressed(pushTrigger("app.py")))
}

func TestStringListScalar(t *testing.T) {
	yamlData := `
when:
  - event: push
`

	wf, err := FromFile("test.yml", []byte(yamlData))
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"push"}, wf.When[0].Event)
}
