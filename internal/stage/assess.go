package stage

import (
	"context"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/document"
)

// Assess reviews extraction confidence for one section and records
// alerts for attributes below threshold. Sections with alerts are later
// flagged for human review by the reducer.
type Assess struct {
	runner *Runner
	body   Assessor
}

// NewAssess creates the assessment stage.
func NewAssess(runner *Runner, body Assessor) *Assess {
	return &Assess{runner: runner, body: body}
}

// Run executes assessment for one section of the document carried by the
// envelope.
func (s *Assess) Run(ctx context.Context, env codec.Envelope, sectionID string) Outcome {
	return s.runner.runSection(ctx, env, sectionID, sectionSpec{
		name:   "assess",
		status: document.StatusAssessing,
		done: func(sec *document.Section) bool {
			return sec.Assessed
		},
		execute: s.execute,
	})
}

func (s *Assess) execute(ctx context.Context, view *document.Document, sec *document.Section) (document.Metering, error) {
	alerts, metering, err := s.body.AssessSection(ctx, view, sec)
	if err != nil {
		return nil, err
	}

	sec.Assessed = true
	sec.Alerts = alerts

	if metering == nil {
		metering = make(document.Metering)
	}
	metering.Add("assess", "sections", 1)
	return metering, nil
}
