package stage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/reduce"
)

// Classify assigns a classification label to every page and partitions
// the pages into sections. It runs document-scoped: before classification
// completes, the document carries only the empty placeholder section, so
// there is no narrower scope to restrict to.
type Classify struct {
	runner  *Runner
	body    Classifier
	limited bool
}

// NewClassify creates the classification stage. In limited mode the
// entire document receives the single dominant label instead of per-page
// labels, trading precision for one cheap pass.
func NewClassify(runner *Runner, body Classifier, limited bool) *Classify {
	return &Classify{
		runner:  runner,
		body:    body,
		limited: limited,
	}
}

// Run executes classification for the document carried by the envelope.
func (s *Classify) Run(ctx context.Context, env codec.Envelope) Outcome {
	return s.runner.runDocument(ctx, env, documentSpec{
		name:    "classify",
		status:  document.StatusClassifying,
		done:    classified,
		execute: s.execute,
	})
}

func (s *Classify) execute(ctx context.Context, doc *document.Document) (document.Metering, error) {
	labels, metering, err := s.body.ClassifyPages(ctx, doc)
	if err != nil {
		return nil, err
	}

	pageIDs := doc.PageIDs()
	for _, id := range pageIDs {
		if _, ok := labels[id]; !ok {
			return nil, fmt.Errorf("classifier returned no label for page %d of %s", id, doc.ID)
		}
	}

	if s.limited {
		ordered := make([]string, len(pageIDs))
		for i, id := range pageIDs {
			ordered[i] = labels[id]
		}
		dominant := reduce.DominantLabel(ordered)
		for _, id := range pageIDs {
			labels[id] = dominant
		}
	}

	for _, id := range pageIDs {
		page := doc.Pages[id]
		page.Classification = labels[id]
		doc.Pages[id] = page
	}

	doc.Sections = BuildSections(doc)
	if metering == nil {
		metering = make(document.Metering)
	}
	metering.Add("classify", "pages", int64(len(pageIDs)))
	return metering, nil
}

// classified reports whether classification already completed: every page
// labeled and the sections partitioning the pages.
func classified(doc *document.Document) bool {
	if len(doc.Pages) == 0 {
		return false
	}
	for _, page := range doc.Pages {
		if page.Classification == "" {
			return false
		}
	}
	for i := range doc.Sections {
		if len(doc.Sections[i].PageIDs) == 0 {
			return false
		}
	}
	return len(doc.Sections) > 0
}

// BuildSections partitions the document's pages into sections: one
// section per contiguous run of pages sharing a classification, in page
// order, with section ids numbered from one.
func BuildSections(doc *document.Document) []document.Section {
	pageIDs := doc.PageIDs()
	if len(pageIDs) == 0 {
		return []document.Section{{ID: "1"}}
	}

	var sections []document.Section
	var current *document.Section

	for _, id := range pageIDs {
		label := doc.Pages[id].Classification
		if current == nil || current.Classification != label {
			sections = append(sections, document.Section{
				ID:             strconv.Itoa(len(sections) + 1),
				Classification: label,
			})
			current = &sections[len(sections)-1]
		}
		current.PageIDs = append(current.PageIDs, id)
	}

	return sections
}
