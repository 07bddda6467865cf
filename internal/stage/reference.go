package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/pkg/storage"
)

// Reference stage bodies: deterministic implementations used for local
// runs and tests. Model-backed bodies replace these behind the same
// interfaces in deployed configurations.

// KeywordRule maps a keyword found in page text to a classification label.
// Rules are evaluated in order; the first match wins.
type KeywordRule struct {
	Keyword string `toml:"keyword"`
	Label   string `toml:"label"`
}

// KeywordClassifier labels pages by keyword match against their extracted
// text artifacts.
type KeywordClassifier struct {
	storage  storage.System
	rules    []KeywordRule
	fallback string
}

// NewKeywordClassifier creates a keyword classifier. Pages with no text
// artifact or no matching rule receive the fallback label.
func NewKeywordClassifier(store storage.System, rules []KeywordRule, fallback string) *KeywordClassifier {
	if fallback == "" {
		fallback = "Unclassified"
	}
	return &KeywordClassifier{
		storage:  store,
		rules:    rules,
		fallback: fallback,
	}
}

func (c *KeywordClassifier) ClassifyPages(ctx context.Context, doc *document.Document) (map[int]string, document.Metering, error) {
	labels := make(map[int]string, len(doc.Pages))
	metering := make(document.Metering)

	var scanned int64
	for _, id := range doc.PageIDs() {
		page := doc.Pages[id]
		if page.TextKey == "" {
			labels[id] = c.fallback
			continue
		}

		text, err := storage.DownloadBytes(ctx, c.storage, page.TextKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				labels[id] = c.fallback
				continue
			}
			return nil, nil, fmt.Errorf("%w: page %d text: %v", ErrTransient, id, err)
		}

		scanned += int64(len(text))
		labels[id] = c.match(string(text))
	}

	metering.Add("classify/keyword", "bytes_scanned", scanned)
	return labels, metering, nil
}

func (c *KeywordClassifier) match(text string) string {
	lowered := strings.ToLower(text)
	for _, rule := range c.rules {
		if strings.Contains(lowered, strings.ToLower(rule.Keyword)) {
			return rule.Label
		}
	}
	return c.fallback
}

// TemplateExtractor derives attributes from the section's structure.
// Every attribute is extracted with full confidence except empty values,
// which score zero so the assessment stage can exercise its thresholds.
type TemplateExtractor struct{}

func (TemplateExtractor) ExtractSection(_ context.Context, view *document.Document, sec *document.Section) (*ExtractionResult, document.Metering, error) {
	attrs := map[string]string{
		"doc_type":   sec.Classification,
		"page_count": strconv.Itoa(len(sec.PageIDs)),
		"source":     view.ID,
	}
	if len(sec.PageIDs) > 0 {
		attrs["first_page"] = strconv.Itoa(sec.PageIDs[0])
	}

	confidences := make(map[string]float64, len(attrs))
	for name, value := range attrs {
		if value == "" {
			confidences[name] = 0
		} else {
			confidences[name] = 1
		}
	}

	metering := make(document.Metering)
	metering.Add("extract/template", "attributes", int64(len(attrs)))

	return &ExtractionResult{
		Attributes:  attrs,
		Confidences: confidences,
	}, metering, nil
}

// ThresholdAssessor compares extraction confidences against configured
// thresholds and alerts on every attribute that falls below.
type ThresholdAssessor struct {
	storage    storage.System
	thresholds map[string]float64
	fallback   float64
}

// NewThresholdAssessor creates an assessor with per-attribute threshold
// overrides and a fallback threshold for unlisted attributes.
func NewThresholdAssessor(store storage.System, thresholds map[string]float64, fallback float64) *ThresholdAssessor {
	return &ThresholdAssessor{
		storage:    store,
		thresholds: thresholds,
		fallback:   fallback,
	}
}

func (a *ThresholdAssessor) AssessSection(ctx context.Context, _ *document.Document, sec *document.Section) ([]document.ConfidenceAlert, document.Metering, error) {
	if sec.ResultKey == "" {
		return nil, nil, fmt.Errorf("section %s has no extraction result to assess", sec.ID)
	}

	data, err := storage.DownloadBytes(ctx, a.storage, sec.ResultKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("extraction result %s missing: %w", sec.ResultKey, err)
		}
		return nil, nil, fmt.Errorf("%w: fetch extraction result: %v", ErrTransient, err)
	}

	var result ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, nil, fmt.Errorf("unmarshal extraction result %s: %w", sec.ResultKey, err)
	}

	var alerts []document.ConfidenceAlert
	for _, name := range sortedKeys(result.Confidences) {
		threshold, ok := a.thresholds[name]
		if !ok {
			threshold = a.fallback
		}
		if result.Confidences[name] < threshold {
			alerts = append(alerts, document.ConfidenceAlert{
				Attribute:  name,
				Confidence: result.Confidences[name],
				Threshold:  threshold,
			})
		}
	}

	metering := make(document.Metering)
	metering.Add("assess/threshold", "attributes", int64(len(result.Confidences)))
	return alerts, metering, nil
}

// RequiredAttributesValidator checks that every required attribute was
// extracted with a non-empty value.
type RequiredAttributesValidator struct {
	Required []string
}

func (v RequiredAttributesValidator) ValidateSection(_ context.Context, _ *document.Document, sec *document.Section) (*document.ValidationResult, document.Metering, error) {
	result := &document.ValidationResult{Passed: true}

	for _, name := range v.Required {
		rule := document.RuleResult{
			Rule:   "required:" + name,
			Passed: true,
		}
		if sec.Attributes[name] == "" {
			rule.Passed = false
			rule.Detail = fmt.Sprintf("attribute %q missing or empty", name)
			result.Passed = false
		}
		result.Rules = append(result.Rules, rule)
	}

	metering := make(document.Metering)
	metering.Add("validate/required", "rules", int64(len(v.Required)))
	return result, metering, nil
}

// OutlineSummarizer renders a deterministic section outline as the
// document summary.
type OutlineSummarizer struct{}

func (OutlineSummarizer) Summarize(_ context.Context, doc *document.Document) (string, document.Metering, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d sections across %d pages", len(doc.Sections), len(doc.Pages))

	for i := range doc.Sections {
		sec := &doc.Sections[i]
		fmt.Fprintf(&b, "; %s: %s (%d pages)", sec.ID, sec.Classification, len(sec.PageIDs))
	}

	metering := make(document.Metering)
	metering.Add("summarize/outline", "sections", int64(len(doc.Sections)))
	return b.String(), metering, nil
}

// CoverageEvaluator scores the document by extraction and validation
// coverage across its sections.
type CoverageEvaluator struct{}

func (CoverageEvaluator) Evaluate(_ context.Context, doc *document.Document) (string, document.Metering, error) {
	total := len(doc.Sections)
	if total == 0 {
		return "score=0.00 sections=0", make(document.Metering), nil
	}

	var extracted, validated int
	for i := range doc.Sections {
		if doc.Sections[i].Extracted() {
			extracted++
		}
		if doc.Sections[i].Validation != nil && doc.Sections[i].Validation.Passed {
			validated++
		}
	}

	score := (float64(extracted) + float64(validated)) / float64(2*total)
	report := fmt.Sprintf(
		"score=%.2f sections=%d extracted=%d validated=%d",
		score, total, extracted, validated,
	)

	metering := make(document.Metering)
	metering.Add("evaluate/coverage", "sections", int64(total))
	return report, metering, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
