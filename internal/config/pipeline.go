package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/stage"
	"github.com/JaimeStill/conveyor/pkg/formatting"
)

const (
	EnvPipelineMaxConcurrent         = "CONVEYOR_PIPELINE_MAX_CONCURRENT"
	EnvPipelineExternalizeThreshold  = "CONVEYOR_PIPELINE_EXTERNALIZE_THRESHOLD"
	EnvPipelineLimitedClassification = "CONVEYOR_PIPELINE_LIMITED_CLASSIFICATION"
	EnvPipelineReviewTTL             = "CONVEYOR_PIPELINE_REVIEW_TTL"
)

// PipelineConfig holds pipeline coordination parameters: the admission
// bound, the state externalization threshold, classification behavior,
// and the reference stage body settings.
type PipelineConfig struct {
	MaxConcurrent         int     `toml:"max_concurrent"`
	ExternalizeThreshold  string  `toml:"externalize_threshold"`
	LimitedClassification bool    `toml:"limited_classification"`
	ReviewTTL             string  `toml:"review_ttl"`
	FallbackLabel         string  `toml:"fallback_label"`
	ConfidenceThreshold   float64 `toml:"confidence_threshold"`

	// TerminalReviewStatuses lists the review statuses reprocessing must
	// never reset. Empty uses the built-in default.
	TerminalReviewStatuses []string `toml:"terminal_review_statuses"`

	KeywordRules         []stage.KeywordRule `toml:"keyword_rules"`
	ConfidenceThresholds map[string]float64  `toml:"confidence_thresholds"`
	RequiredAttributes   []string            `toml:"required_attributes"`
}

// ExternalizeThresholdBytes returns the externalization threshold in bytes.
func (c *PipelineConfig) ExternalizeThresholdBytes() int64 {
	size, err := formatting.ParseBytes(c.ExternalizeThreshold)
	if err != nil {
		return 0
	}
	return size
}

// ReviewTTLDuration returns ReviewTTL as a time.Duration.
func (c *PipelineConfig) ReviewTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.ReviewTTL)
	return d
}

// TerminalReview returns the configured terminal review allow-list, or
// nil for the built-in default.
func (c *PipelineConfig) TerminalReview() []document.HitlStatus {
	if len(c.TerminalReviewStatuses) == 0 {
		return nil
	}
	statuses := make([]document.HitlStatus, len(c.TerminalReviewStatuses))
	for i, s := range c.TerminalReviewStatuses {
		statuses[i] = document.HitlStatus(s)
	}
	return statuses
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *PipelineConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *PipelineConfig) Merge(overlay *PipelineConfig) {
	if overlay.MaxConcurrent != 0 {
		c.MaxConcurrent = overlay.MaxConcurrent
	}
	if overlay.ExternalizeThreshold != "" {
		c.ExternalizeThreshold = overlay.ExternalizeThreshold
	}
	if overlay.LimitedClassification {
		c.LimitedClassification = true
	}
	if overlay.ReviewTTL != "" {
		c.ReviewTTL = overlay.ReviewTTL
	}
	if overlay.FallbackLabel != "" {
		c.FallbackLabel = overlay.FallbackLabel
	}
	if overlay.ConfidenceThreshold != 0 {
		c.ConfidenceThreshold = overlay.ConfidenceThreshold
	}
	if len(overlay.TerminalReviewStatuses) > 0 {
		c.TerminalReviewStatuses = overlay.TerminalReviewStatuses
	}
	if len(overlay.KeywordRules) > 0 {
		c.KeywordRules = overlay.KeywordRules
	}
	if len(overlay.ConfidenceThresholds) > 0 {
		c.ConfidenceThresholds = overlay.ConfidenceThresholds
	}
	if len(overlay.RequiredAttributes) > 0 {
		c.RequiredAttributes = overlay.RequiredAttributes
	}
}

func (c *PipelineConfig) loadDefaults() {
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 8
	}
	if c.ExternalizeThreshold == "" {
		// Externalize by default: inline state is an optimization that
		// must be opted into with a positive threshold.
		c.ExternalizeThreshold = "0B"
	}
	if c.ReviewTTL == "" {
		c.ReviewTTL = "168h"
	}
	if c.FallbackLabel == "" {
		c.FallbackLabel = "Unclassified"
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.8
	}
}

func (c *PipelineConfig) loadEnv() {
	if v := os.Getenv(EnvPipelineMaxConcurrent); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrent = n
		}
	}
	if v := os.Getenv(EnvPipelineExternalizeThreshold); v != "" {
		c.ExternalizeThreshold = v
	}
	if v := os.Getenv(EnvPipelineLimitedClassification); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LimitedClassification = b
		}
	}
	if v := os.Getenv(EnvPipelineReviewTTL); v != "" {
		c.ReviewTTL = v
	}
}

func (c *PipelineConfig) validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if _, err := formatting.ParseBytes(c.ExternalizeThreshold); err != nil {
		return fmt.Errorf("invalid externalize_threshold: %w", err)
	}
	if _, err := time.ParseDuration(c.ReviewTTL); err != nil {
		return fmt.Errorf("invalid review_ttl: %w", err)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0, 1]")
	}
	return nil
}
