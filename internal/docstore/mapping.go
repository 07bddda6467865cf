package docstore

import (
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/pkg/query"
	"github.com/JaimeStill/conveyor/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "documents", "d").
	Project("id", "ID").
	Project("status", "Status").
	Project("hitl_status", "HitlStatus").
	Project("execution_id", "ExecutionID").
	Project("page_count", "PageCount").
	Project("section_count", "SectionCount").
	Project("queued_at", "QueuedAt").
	Project("started_at", "StartedAt").
	Project("completed_at", "CompletedAt")

var defaultSort = query.SortField{Field: "QueuedAt", Descending: true}

func scanRecord(s repository.Scanner) (Record, error) {
	var (
		rec        Record
		status     string
		hitlStatus string
	)

	err := s.Scan(
		&rec.ID,
		&status,
		&hitlStatus,
		&rec.ExecutionID,
		&rec.PageCount,
		&rec.SectionCount,
		&rec.QueuedAt,
		&rec.StartedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		return Record{}, err
	}

	rec.Status = document.Status(status)
	rec.HitlStatus = document.HitlStatus(hitlStatus)
	return rec, nil
}
