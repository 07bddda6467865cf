package stage

import (
	"context"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/document"
)

// Summarize produces the document-level summary after review completes.
type Summarize struct {
	runner *Runner
	body   Summarizer
}

// NewSummarize creates the summarization stage.
func NewSummarize(runner *Runner, body Summarizer) *Summarize {
	return &Summarize{runner: runner, body: body}
}

// Run executes summarization for the document carried by the envelope.
func (s *Summarize) Run(ctx context.Context, env codec.Envelope) Outcome {
	return s.runner.runDocument(ctx, env, documentSpec{
		name:   "summarize",
		status: document.StatusSummarizing,
		done: func(doc *document.Document) bool {
			return doc.Summary != ""
		},
		execute: s.execute,
	})
}

func (s *Summarize) execute(ctx context.Context, doc *document.Document) (document.Metering, error) {
	summary, metering, err := s.body.Summarize(ctx, doc)
	if err != nil {
		return nil, err
	}

	doc.Summary = summary

	if metering == nil {
		metering = make(document.Metering)
	}
	metering.Add("summarize", "documents", 1)
	return metering, nil
}
