package docstore

import (
	"net/url"
	"time"

	"github.com/JaimeStill/conveyor/pkg/query"
)

// Filters narrows document listing queries.
type Filters struct {
	Status     *string    `json:"status,omitempty"`
	HitlStatus *string    `json:"hitl_status,omitempty"`
	QueuedFrom *time.Time `json:"queued_from,omitempty"`
	QueuedTo   *time.Time `json:"queued_to,omitempty"`
}

// FiltersFromQuery parses listing filters from URL query values.
// Supported parameters: status, hitl_status, queued_from, queued_to
// (RFC 3339 timestamps).
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if v := values.Get("status"); v != "" {
		f.Status = &v
	}
	if v := values.Get("hitl_status"); v != "" {
		f.HitlStatus = &v
	}
	if v := values.Get("queued_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.QueuedFrom = &t
		}
	}
	if v := values.Get("queued_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.QueuedTo = &t
		}
	}

	return f
}

// Apply adds the filter conditions to a query builder.
func (f Filters) Apply(qb *query.Builder) {
	qb.WhereEquals("Status", f.Status).
		WhereEquals("HitlStatus", f.HitlStatus).
		WhereGte("QueuedAt", f.QueuedFrom).
		WhereLte("QueuedAt", f.QueuedTo)
}
