package dockerfile

import (
	"fmt"
	"strings"
)

// Instruction is one rendered Dockerfile instruction inside a stage.
type Instruction interface {
	Render() string
}

// Stage is an isolated build-time filesystem: a base image plus an ordered
// list of instructions. Only the terminal stage's filesystem ships.
type Stage struct {
	Alias string
	From  string

	instructions []Instruction
}

func (s *Stage) Add(in ...Instruction) *Stage {
	s.instructions = append(s.instructions, in...)
	return s
}

func (s *Stage) Instructions() []Instruction {
	out := make([]Instruction, len(s.instructions))
	copy(out, s.instructions)
	return out
}

type Env struct {
	Key   string
	Value string
}

func (e Env) Render() string { return fmt.Sprintf("ENV %s=%s", e.Key, e.Value) }

type Workdir struct {
	Path string
}

func (w Workdir) Render() string { return "WORKDIR " + w.Path }

// Run is an exec-form RUN step.
type Run struct {
	Argv []string
}

func (r Run) Render() string { return "RUN " + jsonExec(r.Argv) }

// RunShell is a shell-form RUN step for commands that need && chaining.
type RunShell struct {
	Script string
}

func (r RunShell) Render() string { return "RUN " + r.Script }

// Copy transplants files into the stage. FromStage, when set, names another
// stage's alias and turns this into an artifact transplant. Payload marks the
// application source copy, which the cache-ordering lint keys on.
type Copy struct {
	FromStage string
	Sources   []string
	Dest      string
	Payload   bool
}

func (c Copy) Render() string {
	parts := []string{"COPY"}
	if c.FromStage != "" {
		parts = append(parts, "--from="+c.FromStage)
	}
	parts = append(parts, c.Sources...)
	parts = append(parts, c.Dest)
	return strings.Join(parts, " ")
}

type Expose struct {
	Port int
}

func (e Expose) Render() string { return fmt.Sprintf("EXPOSE %d", e.Port) }

type Entrypoint struct {
	Argv []string
}

func (e Entrypoint) Render() string { return "ENTRYPOINT " + jsonExec(e.Argv) }

type Cmd struct {
	Argv []string
}

func (c Cmd) Render() string { return "CMD " + jsonExec(c.Argv) }

type Label struct {
	Key   string
	Value string
}

func (l Label) Render() string { return fmt.Sprintf("LABEL %s=%q", l.Key, l.Value) }
