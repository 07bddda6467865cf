package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/document"
)

// Extract derives structured attributes for one section and persists the
// extraction artifact to blob storage.
type Extract struct {
	runner *Runner
	body   Extractor
}

// NewExtract creates the extraction stage.
func NewExtract(runner *Runner, body Extractor) *Extract {
	return &Extract{runner: runner, body: body}
}

// Run executes extraction for one section of the document carried by the
// envelope.
func (s *Extract) Run(ctx context.Context, env codec.Envelope, sectionID string) Outcome {
	return s.runner.runSection(ctx, env, sectionID, sectionSpec{
		name:    "extract",
		status:  document.StatusExtracting,
		done:    (*document.Section).Extracted,
		execute: s.execute,
	})
}

func (s *Extract) execute(ctx context.Context, view *document.Document, sec *document.Section) (document.Metering, error) {
	result, metering, err := s.body.ExtractSection(ctx, view, sec)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction result for section %s: %w", sec.ID, err)
	}

	key := ResultKey(view, sec.ID)
	if err := s.runner.uploadArtifact(ctx, key, data, "application/json"); err != nil {
		return nil, err
	}

	sec.ResultKey = key
	sec.Attributes = result.Attributes

	if metering == nil {
		metering = make(document.Metering)
	}
	metering.Add("extract", "sections", 1)
	return metering, nil
}

// ResultKey returns the deterministic blob key for a section's extraction
// artifact under the document's output prefix.
func ResultKey(doc *document.Document, sectionID string) string {
	prefix := strings.TrimSuffix(doc.OutputPrefix, "/")
	return fmt.Sprintf("%s/sections/%s/extraction.json", prefix, sectionID)
}
