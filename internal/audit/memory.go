package audit

import (
	"context"
	"iter"
	"sync"
)

// MemorySink keeps records in process. It doubles as an outbox for tests.
type MemorySink struct {
	mu        sync.RWMutex
	records   []Record
	published map[uint64]bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{published: make(map[uint64]bool)}
}

func (s *MemorySink) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemorySink) Load(context.Context) ([]Record, error) {
	return s.Records(), nil
}

// Records returns a copy of everything appended so far.
func (s *MemorySink) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// All iterates the records present when iteration starts.
func (s *MemorySink) All() iter.Seq[Record] {
	return Sequence(s.Records())
}

func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemorySink) Window(_ context.Context, filters TimelineFilters, offset, limit int) ([]Record, error) {
	return window(s.Records(), filters, offset, limit), nil
}

func (s *MemorySink) Pending(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if s.published[rec.Seq] {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemorySink) MarkPublished(_ context.Context, seqs []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range seqs {
		s.published[seq] = true
	}
	return nil
}
