package waf

import (
	"context"
	"time"
)

// LogSink consumes WAFLogs emitted by the inspection pipeline. Store must
// not block the caller; implementations buffer internally and shed load
// rather than stall the request path.
type LogSink interface {
	Store(WAFLog) error
}

// LogFilter narrows a log query. Zero-valued fields are ignored; set
// fields are ANDed together.
type LogFilter struct {
	RuleID          int       `json:"ruleId,omitempty"`
	RequestID       string    `json:"requestId,omitempty"`
	Domain          string    `json:"domain,omitempty"`
	ClientIPAddress string    `json:"clientIpAddress,omitempty"`
	ServerIPAddress string    `json:"serverIpAddress,omitempty"`
	ClientPort      int       `json:"srcPort,omitempty"`
	ServerPort      int       `json:"dstPort,omitempty"`
	StartTime       time.Time `json:"startTime,omitempty"`
	EndTime         time.Time `json:"endTime,omitempty"`
}

// Match reports whether a log record satisfies every set filter field.
func (f LogFilter) Match(l WAFLog) bool {
	if f.RuleID > 0 && l.RuleID != f.RuleID {
		return false
	}
	if f.RequestID != "" && l.RequestID != f.RequestID {
		return false
	}
	if f.Domain != "" && l.Domain != f.Domain {
		return false
	}
	if f.ClientIPAddress != "" && l.ClientIPAddress != f.ClientIPAddress {
		return false
	}
	if f.ServerIPAddress != "" && l.ServerIPAddress != f.ServerIPAddress {
		return false
	}
	if f.ClientPort > 0 && l.ClientPort != f.ClientPort {
		return false
	}
	if f.ServerPort > 0 && l.ServerPort != f.ServerPort {
		return false
	}
	if !f.StartTime.IsZero() && l.CreatedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && l.CreatedAt.After(f.EndTime) {
		return false
	}
	return true
}

// LogPage is the pagination envelope the console expects for log queries.
type LogPage struct {
	Results     []WAFLog `json:"results"`
	TotalCount  int64    `json:"totalCount"`
	PageSize    int      `json:"pageSize"`
	CurrentPage int      `json:"currentPage"`
	TotalPages  int      `json:"totalPages"`
}

// LogQuerier serves paginated log queries for the admin console.
type LogQuerier interface {
	FindLogs(ctx context.Context, filter LogFilter, page, pageSize int) (*LogPage, error)
}

// TotalPages computes the page count for a result set.
func TotalPages(totalCount int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int((totalCount + int64(pageSize) - 1) / int64(pageSize))
}
