package audit

import (
	"time"

	"github.com/potatospin/potatospin/internal/shared"
)

// TimelineFilters narrows the audit timeline. Party matches a record naming the
// identity in any role.
type TimelineFilters struct {
	Kind     Kind
	Party    *shared.Identity
	Since    time.Time
	Until    time.Time
	AfterSeq uint64
	Page     int
	PageSize int
}

// PagingInfo describes where a page sits in the timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result is one timeline page.
type Result struct {
	Rows   []Record   `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

// Matches reports whether rec passes the filters. Paging fields are ignored.
func (f TimelineFilters) Matches(rec Record) bool {
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if rec.Seq <= f.AfterSeq {
		return false
	}
	if !f.Since.IsZero() && rec.At.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.At.Before(f.Until) {
		return false
	}
	if f.Party != nil {
		id := *f.Party
		if rec.Actor != id && rec.Account != id && rec.From != id && rec.To != id {
			return false
		}
	}
	return true
}

func window(records []Record, filters TimelineFilters, offset, limit int) []Record {
	out := make([]Record, 0, limit)
	skipped := 0
	for _, rec := range records {
		if !filters.Matches(rec) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out
}
