package workflow

import (
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

type RawWorkflow struct {
	Name     string `json:"name"`
	Contents string `json:"contents"`
}

type RawPipeline = []RawWorkflow

// Compiled is the pipeline shape runners accept: every step is a
// plain named shell command, all `uses:` references expanded and all
// non-matching workflows dropped.
type Compiled struct {
	Trigger   Trigger
	Workflows []CompiledWorkflow
}

type CompiledWorkflow struct {
	Name        string
	Image       string
	Clone       CloneOpts
	Environment map[string]string
	Steps       []CompiledStep
}

type CompiledStep struct {
	Name        string
	Command     string
	Environment map[string]string
}

type Compiler struct {
	Trigger      Trigger
	DefaultImage string
	Diagnostics  Diagnostics
}

type Diagnostics struct {
	Errors   []Error
	Warnings []Warning
}

func (d *Diagnostics) IsEmpty() bool {
	return len(d.Errors) == 0 && len(d.Warnings) == 0
}

func (d *Diagnostics) Combine(o Diagnostics) {
	d.Errors = append(d.Errors, o.Errors...)
	d.Warnings = append(d.Warnings, o.Warnings...)
}

func (d *Diagnostics) AddWarning(path string, kind WarningKind, reason string) {
	d.Warnings = append(d.Warnings, Warning{path, kind, reason})
}

func (d *Diagnostics) AddError(path string, err error) {
	d.Errors = append(d.Errors, Error{path, err})
}

func (d Diagnostics) IsErr() bool {
	return len(d.Errors) != 0
}

type Error struct {
	Path  string `json:"path"`
	Error error  `json:"error"`
}

func (e Error) String() string {
	return fmt.Sprintf("error: %s: %s", e.Path, e.Error.Error())
}

type Warning struct {
	Path   string      `json:"path"`
	Type   WarningKind `json:"type"`
	Reason string      `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("warning: %s: %s: %s", w.Path, w.Type, w.Reason)
}

var (
	MissingImage error = errors.New("missing image")
	EmptyStep    error = errors.New("step has neither a command nor an action")
)

type WarningKind string

var (
	WorkflowSkipped      WarningKind = "workflow skipped"
	InvalidConfiguration WarningKind = "invalid configuration"
)

func (compiler *Compiler) Parse(p RawPipeline) Pipeline {
	var pp Pipeline

	for _, w := range p {
		wf, err := FromFile(w.Name, []byte(w.Contents))
		if err != nil {
			compiler.Diagnostics.AddError(w.Name, err)
			continue
		}

		pp = append(pp, wf)
	}

	return pp
}

// convert a repositories' workflow files into a fully compiled pipeline that runners accept
func (compiler *Compiler) Compile(p Pipeline) Compiled {
	cp := Compiled{
		Trigger: compiler.Trigger,
	}

	for _, wf := range p {
		cw := compiler.compileWorkflow(wf)

		if cw == nil {
			continue
		}

		cp.Workflows = append(cp.Workflows, *cw)
	}

	return cp
}

func (compiler *Compiler) compileWorkflow(w Workflow) *CompiledWorkflow {
	compiler.analyzePathFilters(w)

	if !w.Match(compiler.Trigger) {
		reason := fmt.Sprintf("did not match trigger %s", compiler.Trigger.Kind)
		if w.PathsSuppressed(compiler.Trigger) {
			reason = "all changed paths excluded by path filters"
		}
		compiler.Diagnostics.AddWarning(w.Name, WorkflowSkipped, reason)
		return nil
	}

	// validate clone options
	compiler.analyzeCloneOptions(w)

	cw := &CompiledWorkflow{
		Name:        w.Name,
		Clone:       w.CloneOpts,
		Environment: w.Environment,
	}

	cw.Image = w.Image
	if cw.Image == "" {
		cw.Image = compiler.DefaultImage
	}
	if cw.Image == "" {
		compiler.Diagnostics.AddError(w.Name, MissingImage)
		return nil
	}

	for _, s := range w.Steps {
		if s.Run == "" && s.Uses == "" {
			compiler.Diagnostics.AddError(w.Name, EmptyStep)
			return nil
		}

		expanded, err := ExpandStep(s, compiler.Trigger)
		if err != nil {
			compiler.Diagnostics.AddError(w.Name, err)
			return nil
		}

		name := expanded.Name
		if name == "" {
			name = expanded.Run
		}

		cw.Steps = append(cw.Steps, CompiledStep{
			Name:        name,
			Command:     expanded.Run,
			Environment: expanded.Environment,
		})
	}

	return cw
}

func (compiler *Compiler) analyzeCloneOptions(w Workflow) {
	if w.CloneOpts.Skip && w.CloneOpts.IncludeSubmodules {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.submodules`",
		)
	}

	if w.CloneOpts.Skip && w.CloneOpts.Depth > 0 {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.depth`",
		)
	}
}

func (compiler *Compiler) analyzePathFilters(w Workflow) {
	for _, c := range w.When {
		for _, pattern := range c.Paths.Ignore {
			if !doublestar.ValidatePattern(pattern) {
				compiler.Diagnostics.AddWarning(
					w.Name,
					InvalidConfiguration,
					fmt.Sprintf("invalid ignore pattern %q", pattern),
				)
			}
		}
	}
}
