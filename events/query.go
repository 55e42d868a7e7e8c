package events

import (
	"sort"
	"time"

	"bastionwaf/waf"
)

// AggregateResult is the console-facing shape of one attack event.
type AggregateResult struct {
	ClientIPAddress   string    `json:"clientIpAddress"`
	Domain            string    `json:"domain"`
	DstPort           int       `json:"dstPort,omitempty"`
	Count             int       `json:"count"`
	FirstAttackTime   time.Time `json:"firstAttackTime"`
	LastAttackTime    time.Time `json:"lastAttackTime"`
	DurationInMinutes float64   `json:"durationInMinutes"`
	IsOngoing         bool      `json:"isOngoing"`
}

// Filter narrows an event query. Zero-valued fields are ignored; set
// fields are ANDed together. The time range selects events whose activity
// window overlaps it.
type Filter struct {
	ClientIPAddress string    `json:"clientIpAddress,omitempty"`
	Domain          string    `json:"domain,omitempty"`
	DstPort         int       `json:"dstPort,omitempty"`
	StartTime       time.Time `json:"startTime,omitempty"`
	EndTime         time.Time `json:"endTime,omitempty"`
}

func (f Filter) match(ev *event) bool {
	if f.ClientIPAddress != "" && ev.key.ClientIPAddress != f.ClientIPAddress {
		return false
	}
	if f.Domain != "" && ev.key.Domain != f.Domain {
		return false
	}
	if f.DstPort > 0 && ev.key.DstPort != f.DstPort {
		return false
	}
	if !f.StartTime.IsZero() && ev.lastAttackTime.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && ev.firstAttackTime.After(f.EndTime) {
		return false
	}
	return true
}

// Page is the pagination envelope the console expects for event queries.
type Page struct {
	Results     []AggregateResult `json:"results"`
	TotalCount  int64             `json:"totalCount"`
	PageSize    int               `json:"pageSize"`
	CurrentPage int               `json:"currentPage"`
	TotalPages  int               `json:"totalPages"`
}

// Query returns a page of events matching the filter, most recent
// activity first. Ongoing durations are computed at read time.
func (a *Aggregator) Query(filter Filter, page, pageSize int) *Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	now := a.clock()
	matched := a.snapshot(filter)

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].lastAttackTime.After(matched[j].lastAttackTime)
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

	results := make([]AggregateResult, 0, end-start)
	for _, ev := range matched[start:end] {
		results = append(results, a.result(ev, now))
	}

	return &Page{
		Results:     results,
		TotalCount:  total,
		PageSize:    pageSize,
		CurrentPage: page,
		TotalPages:  waf.TotalPages(total, pageSize),
	}
}

// snapshot copies the matching events out from under the shard locks so
// sorting and pagination run without holding them.
func (a *Aggregator) snapshot(filter Filter) []*event {
	var matched []*event

	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		for _, ev := range s.open {
			if filter.match(ev) {
				cp := *ev
				matched = append(matched, &cp)
			}
		}
		s.mu.Unlock()
	}

	a.closedMu.Lock()
	for _, ev := range a.closed {
		if filter.match(ev) {
			matched = append(matched, ev)
		}
	}
	a.closedMu.Unlock()

	return matched
}

func (a *Aggregator) result(ev *event, now time.Time) AggregateResult {
	duration := ev.frozenMinutes
	if ev.ongoing {
		duration = now.Sub(ev.firstAttackTime).Minutes()
	}
	return AggregateResult{
		ClientIPAddress:   ev.key.ClientIPAddress,
		Domain:            ev.key.Domain,
		DstPort:           ev.key.DstPort,
		Count:             ev.count,
		FirstAttackTime:   ev.firstAttackTime,
		LastAttackTime:    ev.lastAttackTime,
		DurationInMinutes: duration,
		IsOngoing:         ev.ongoing,
	}
}
