package stage

import (
	"context"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/document"
)

// Validate applies business rules to one section's extracted attributes.
type Validate struct {
	runner *Runner
	body   Validator
}

// NewValidate creates the rule-validation stage.
func NewValidate(runner *Runner, body Validator) *Validate {
	return &Validate{runner: runner, body: body}
}

// Run executes rule validation for one section of the document carried
// by the envelope.
func (s *Validate) Run(ctx context.Context, env codec.Envelope, sectionID string) Outcome {
	return s.runner.runSection(ctx, env, sectionID, sectionSpec{
		name:   "validate",
		status: document.StatusValidating,
		done: func(sec *document.Section) bool {
			return sec.Validation != nil
		},
		execute: s.execute,
	})
}

func (s *Validate) execute(ctx context.Context, view *document.Document, sec *document.Section) (document.Metering, error) {
	result, metering, err := s.body.ValidateSection(ctx, view, sec)
	if err != nil {
		return nil, err
	}

	sec.Validation = result

	if metering == nil {
		metering = make(document.Metering)
	}
	metering.Add("validate", "sections", 1)
	return metering, nil
}
