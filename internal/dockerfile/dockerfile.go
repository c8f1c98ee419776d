// Package dockerfile models a multi-stage build as an ordered list of stages
// and renders it into Dockerfile text. Rendering is deterministic: the same
// plan always produces the same lines, which the image cache relies on.
package dockerfile

import (
	"encoding/json"
	"fmt"
)

type Dockerfile []string

func (df Dockerfile) String() string {
	out := ""
	for _, line := range df {
		out += line + "\n"
	}
	return out
}

const sectionRule = "# ───────────────────────────────────────────"

func section(lines Dockerfile, title string) Dockerfile {
	if len(lines) > 0 {
		lines = append(lines, "")
	}
	lines = append(lines, sectionRule)
	lines = append(lines, "# "+title)
	return lines
}

// jsonExec renders argv as a JSON array for exec-form RUN/ENTRYPOINT/CMD.
func jsonExec(argv []string) string {
	b, _ := json.Marshal(argv)
	return string(b)
}

func fromLine(s *Stage) string {
	if s.Alias == "" {
		return fmt.Sprintf("FROM %s", s.From)
	}
	return fmt.Sprintf("FROM %s AS %s", s.From, s.Alias)
}
