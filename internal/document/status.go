package document

// Status is the lifecycle state of a Document as it moves through the
// pipeline. Stage coordination statuses are set by the stage runners;
// terminal statuses are never advanced past.
type Status string

const (
	StatusQueued        Status = "QUEUED"
	StatusRunning       Status = "RUNNING"
	StatusClassifying   Status = "CLASSIFYING"
	StatusExtracting    Status = "EXTRACTING"
	StatusAssessing     Status = "ASSESSING"
	StatusValidating    Status = "VALIDATING"
	StatusSummarizing   Status = "SUMMARIZING"
	StatusEvaluating    Status = "EVALUATING"
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusCompleted     Status = "COMPLETED"
	StatusFailed        Status = "FAILED"
	StatusAborted       Status = "ABORTED"
)

// Terminal reports whether the status is a terminal lifecycle state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// HitlStatus tracks the human review state of a Document independently of
// its lifecycle status, so reruns can preserve completed reviews.
type HitlStatus string

const (
	HitlNone          HitlStatus = ""
	HitlPendingReview HitlStatus = "PendingReview"
	HitlCompleted     HitlStatus = "Completed"
	HitlSkipped       HitlStatus = "Skipped"
)
