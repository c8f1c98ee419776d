package dockerfile

// Plan is a directed chain of build stages. Stages are appended in build
// order; the last one is terminal and produces the shippable image.
type Plan struct {
	stages []*Stage
	labels []Label
}

func NewPlan() *Plan {
	return &Plan{}
}

// AddStage appends a stage. An empty alias is only valid for the terminal
// stage since COPY --from cannot reference it.
func (p *Plan) AddStage(alias, from string) *Stage {
	s := &Stage{Alias: alias, From: from}
	p.stages = append(p.stages, s)
	return s
}

func (p *Plan) Stages() []*Stage {
	out := make([]*Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Terminal returns the stage whose filesystem persists as the image.
func (p *Plan) Terminal() *Stage {
	if len(p.stages) == 0 {
		return nil
	}
	return p.stages[len(p.stages)-1]
}

// AddLabel attaches an image label rendered at the end of the terminal stage.
func (p *Plan) AddLabel(key, value string) {
	p.labels = append(p.labels, Label{Key: key, Value: value})
}

// Render validates the plan and produces Dockerfile lines. Any lint violation
// aborts rendering: a broken plan must never become a partial Dockerfile.
func (p *Plan) Render() (Dockerfile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	lines := Dockerfile{}
	for i, stage := range p.stages {
		title := "STAGE " + stage.Alias
		if stage.Alias == "" {
			title = "TERMINAL STAGE"
		} else if i == len(p.stages)-1 {
			title = "TERMINAL STAGE " + stage.Alias
		}
		lines = section(lines, title)
		lines = append(lines, fromLine(stage))
		for _, in := range stage.Instructions() {
			lines = append(lines, in.Render())
		}
	}

	for _, l := range p.labels {
		lines = append(lines, l.Render())
	}

	return lines, nil
}
