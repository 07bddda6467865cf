package stage_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/stage"
)

func TestKeywordClassifier(t *testing.T) {
	blob := newMemoryStorage()
	blob.blobs["documents/doc-1/text/1.txt"] = []byte("INVOICE NO. 4417, amount due on receipt of statement")
	blob.blobs["documents/doc-1/text/2.txt"] = []byte("thank you for your purchase, receipt enclosed")
	blob.blobs["documents/doc-1/text/3.txt"] = []byte("nothing recognizable here")

	rules := []stage.KeywordRule{
		{Keyword: "invoice", Label: "Invoice"},
		{Keyword: "receipt", Label: "Receipt"},
	}
	classifier := stage.NewKeywordClassifier(blob, rules, "Other")

	doc := &document.Document{
		ID: "doc-1",
		Pages: map[int]document.Page{
			1: {ID: 1, TextKey: "documents/doc-1/text/1.txt"},
			2: {ID: 2, TextKey: "documents/doc-1/text/2.txt"},
			3: {ID: 3, TextKey: "documents/doc-1/text/3.txt"},
			4: {ID: 4},
			5: {ID: 5, TextKey: "documents/doc-1/text/missing.txt"},
		},
	}

	labels, metering, err := classifier.ClassifyPages(context.Background(), doc)
	if err != nil {
		t.Fatalf("ClassifyPages returned error: %v", err)
	}

	want := map[int]string{
		1: "Invoice",
		2: "Receipt",
		3: "Other",
		4: "Other",
		5: "Other",
	}
	for id, label := range want {
		if labels[id] != label {
			t.Errorf("page %d label = %q, want %q", id, labels[id], label)
		}
	}
	if metering["classify/keyword"]["bytes_scanned"] == 0 {
		t.Error("bytes_scanned = 0, want scanned text accounted")
	}
}

func TestKeywordClassifierFallbackDefault(t *testing.T) {
	classifier := stage.NewKeywordClassifier(newMemoryStorage(), nil, "")
	doc := &document.Document{
		ID:    "doc-1",
		Pages: map[int]document.Page{1: {ID: 1}},
	}

	labels, _, err := classifier.ClassifyPages(context.Background(), doc)
	if err != nil {
		t.Fatalf("ClassifyPages returned error: %v", err)
	}
	if labels[1] != "Unclassified" {
		t.Errorf("label = %q, want default Unclassified", labels[1])
	}
}

func TestTemplateExtractor(t *testing.T) {
	doc := &document.Document{ID: "doc-1"}
	sec := &document.Section{ID: "1", Classification: "Invoice", PageIDs: []int{4, 5}}

	result, _, err := stage.TemplateExtractor{}.ExtractSection(context.Background(), doc, sec)
	if err != nil {
		t.Fatalf("ExtractSection returned error: %v", err)
	}

	if result.Attributes["doc_type"] != "Invoice" {
		t.Errorf("doc_type = %q, want Invoice", result.Attributes["doc_type"])
	}
	if result.Attributes["page_count"] != "2" {
		t.Errorf("page_count = %q, want 2", result.Attributes["page_count"])
	}
	if result.Attributes["first_page"] != "4" {
		t.Errorf("first_page = %q, want 4", result.Attributes["first_page"])
	}
	if result.Confidences["doc_type"] != 1 {
		t.Errorf("doc_type confidence = %v, want 1", result.Confidences["doc_type"])
	}
}

func TestTemplateExtractorEmptyValueScoresZero(t *testing.T) {
	doc := &document.Document{ID: "doc-1"}
	sec := &document.Section{ID: "1", PageIDs: []int{1}}

	result, _, err := stage.TemplateExtractor{}.ExtractSection(context.Background(), doc, sec)
	if err != nil {
		t.Fatalf("ExtractSection returned error: %v", err)
	}
	if result.Confidences["doc_type"] != 0 {
		t.Errorf("empty doc_type confidence = %v, want 0", result.Confidences["doc_type"])
	}
}

func TestThresholdAssessor(t *testing.T) {
	blob := newMemoryStorage()
	result := stage.ExtractionResult{
		Attributes: map[string]string{"doc_type": "Invoice", "total": "", "vendor": "Acme"},
		Confidences: map[string]float64{
			"doc_type": 0.95,
			"total":    0.3,
			"vendor":   0.7,
		},
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	blob.blobs["documents/doc-1/sections/1/extraction.json"] = data

	assessor := stage.NewThresholdAssessor(blob, map[string]float64{"vendor": 0.6}, 0.8)
	sec := &document.Section{ID: "1", ResultKey: "documents/doc-1/sections/1/extraction.json"}

	alerts, _, err := assessor.AssessSection(context.Background(), nil, sec)
	if err != nil {
		t.Fatalf("AssessSection returned error: %v", err)
	}

	// doc_type clears the fallback, vendor clears its override; only total alerts.
	if len(alerts) != 1 {
		t.Fatalf("alert count = %d, want 1: %+v", len(alerts), alerts)
	}
	if alerts[0].Attribute != "total" || alerts[0].Threshold != 0.8 {
		t.Errorf("alert = %+v, want total below fallback 0.8", alerts[0])
	}
}

func TestThresholdAssessorDeterministicOrder(t *testing.T) {
	blob := newMemoryStorage()
	result := stage.ExtractionResult{
		Confidences: map[string]float64{"zeta": 0.1, "alpha": 0.1, "mid": 0.1},
	}
	data, _ := json.Marshal(result)
	blob.blobs["k"] = data

	assessor := stage.NewThresholdAssessor(blob, nil, 0.8)
	sec := &document.Section{ID: "1", ResultKey: "k"}

	alerts, _, err := assessor.AssessSection(context.Background(), nil, sec)
	if err != nil {
		t.Fatalf("AssessSection returned error: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("alert count = %d, want 3", len(alerts))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, alert := range alerts {
		if alert.Attribute != want[i] {
			t.Errorf("alerts[%d] = %q, want %q", i, alert.Attribute, want[i])
		}
	}
}

func TestThresholdAssessorRequiresResult(t *testing.T) {
	assessor := stage.NewThresholdAssessor(newMemoryStorage(), nil, 0.8)
	sec := &document.Section{ID: "1"}
	if _, _, err := assessor.AssessSection(context.Background(), nil, sec); err == nil {
		t.Error("AssessSection accepted a section without extraction result")
	}
}

func TestRequiredAttributesValidator(t *testing.T) {
	validator := stage.RequiredAttributesValidator{Required: []string{"doc_type", "total"}}
	sec := &document.Section{
		ID:         "1",
		Attributes: map[string]string{"doc_type": "Invoice"},
	}

	result, _, err := validator.ValidateSection(context.Background(), nil, sec)
	if err != nil {
		t.Fatalf("ValidateSection returned error: %v", err)
	}

	if result.Passed {
		t.Error("Passed = true with a missing required attribute")
	}
	if len(result.Rules) != 2 {
		t.Fatalf("rule count = %d, want 2", len(result.Rules))
	}
	if result.Rules[0].Rule != "required:doc_type" || !result.Rules[0].Passed {
		t.Errorf("doc_type rule = %+v, want passed", result.Rules[0])
	}
	if result.Rules[1].Rule != "required:total" || result.Rules[1].Passed {
		t.Errorf("total rule = %+v, want failed", result.Rules[1])
	}
}

func TestOutlineSummarizer(t *testing.T) {
	doc := &document.Document{
		ID: "doc-1",
		Pages: map[int]document.Page{
			1: {ID: 1}, 2: {ID: 2}, 3: {ID: 3},
		},
		Sections: []document.Section{
			{ID: "1", Classification: "Invoice", PageIDs: []int{1, 2}},
			{ID: "2", Classification: "Receipt", PageIDs: []int{3}},
		},
	}

	summary, _, err := stage.OutlineSummarizer{}.Summarize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}

	if !strings.HasPrefix(summary, "2 sections across 3 pages") {
		t.Errorf("summary = %q, want outline header", summary)
	}
	if !strings.Contains(summary, "1: Invoice (2 pages)") || !strings.Contains(summary, "2: Receipt (1 pages)") {
		t.Errorf("summary = %q, want per-section outline entries", summary)
	}
}

func TestCoverageEvaluator(t *testing.T) {
	tests := []struct {
		name     string
		sections []document.Section
		want     string
	}{
		{
			name:     "empty document",
			sections: nil,
			want:     "score=0.00 sections=0",
		},
		{
			name: "full coverage",
			sections: []document.Section{
				{ID: "1", ResultKey: "k1", Validation: &document.ValidationResult{Passed: true}},
				{ID: "2", ResultKey: "k2", Validation: &document.ValidationResult{Passed: true}},
			},
			want: "score=1.00 sections=2 extracted=2 validated=2",
		},
		{
			name: "partial coverage",
			sections: []document.Section{
				{ID: "1", ResultKey: "k1", Validation: &document.ValidationResult{Passed: false}},
				{ID: "2"},
			},
			want: "score=0.25 sections=2 extracted=1 validated=0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &document.Document{ID: "doc-1", Sections: tt.sections}
			report, _, err := stage.CoverageEvaluator{}.Evaluate(context.Background(), doc)
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if report != tt.want {
				t.Errorf("Evaluate = %q, want %q", report, tt.want)
			}
		})
	}
}
