package stage

import (
	"context"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/document"
)

// Evaluate scores the completed document. The scoring engine itself is a
// pluggable body; this stage only coordinates its invocation.
type Evaluate struct {
	runner *Runner
	body   Evaluator
}

// NewEvaluate creates the evaluation stage.
func NewEvaluate(runner *Runner, body Evaluator) *Evaluate {
	return &Evaluate{runner: runner, body: body}
}

// Run executes evaluation for the document carried by the envelope.
func (s *Evaluate) Run(ctx context.Context, env codec.Envelope) Outcome {
	return s.runner.runDocument(ctx, env, documentSpec{
		name:   "evaluate",
		status: document.StatusEvaluating,
		done: func(doc *document.Document) bool {
			return doc.Evaluation != ""
		},
		execute: s.execute,
	})
}

func (s *Evaluate) execute(ctx context.Context, doc *document.Document) (document.Metering, error) {
	evaluation, metering, err := s.body.Evaluate(ctx, doc)
	if err != nil {
		return nil, err
	}

	doc.Evaluation = evaluation

	if metering == nil {
		metering = make(document.Metering)
	}
	metering.Add("evaluate", "documents", 1)
	return metering, nil
}
