package logstore

import (
	"context"
	"sort"
	"sync"

	"bastionwaf/waf"
)

// MemoryStore is an in-process, bounded log store. It is the default
// backend when no database is configured and the queryable store tests
// run against.
type MemoryStore struct {
	mu       sync.Mutex
	logs     []waf.WAFLog
	capacity int
}

// NewMemoryStore creates a store retaining at most capacity records;
// oldest records are discarded first.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 100000
	}
	return &MemoryStore{capacity: capacity}
}

// Store appends a record.
func (s *MemoryStore) Store(l waf.WAFLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	if len(s.logs) > s.capacity {
		s.logs = s.logs[len(s.logs)-s.capacity:]
	}
	return nil
}

// Count returns how many records are retained.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

// FindLogs returns a page of records matching the filter, newest first.
func (s *MemoryStore) FindLogs(ctx context.Context, filter waf.LogFilter, page, pageSize int) (*waf.LogPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	s.mu.Lock()
	matched := make([]waf.WAFLog, 0)
	for _, l := range s.logs {
		if filter.Match(l) {
			matched = append(matched, l)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	return &waf.LogPage{
		Results:     matched[start:end],
		TotalCount:  total,
		PageSize:    pageSize,
		CurrentPage: page,
		TotalPages:  waf.TotalPages(total, pageSize),
	}, nil
}
