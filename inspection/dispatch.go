package inspection

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"bastionwaf/waf"
)

// Dispatcher hands match records off to the aggregation and persistence
// sinks without letting their latency reach the request path. Emit is
// non-blocking: when the buffer is full the record is dropped and
// counted, which is preferable to stalling an inspection.
type Dispatcher struct {
	logger  zerolog.Logger
	ch      chan waf.WAFLog
	sinks   []waf.LogSink
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher with the given buffer size.
func NewDispatcher(logger zerolog.Logger, buffer int, sinks ...waf.LogSink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1000
	}
	return &Dispatcher{
		logger: logger.With().Str("component", "dispatcher").Logger(),
		ch:     make(chan waf.WAFLog, buffer),
		sinks:  sinks,
	}
}

// Emit queues a match record for delivery. Never blocks.
func (d *Dispatcher) Emit(l waf.WAFLog) {
	select {
	case d.ch <- l:
	default:
		d.dropped.Add(1)
		d.logger.Warn().Int("ruleId", l.RuleID).Msg("log buffer full, dropping match record")
	}
}

// Dropped is the number of records shed because the buffer was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers queued records to the sinks until ctx is cancelled, then
// flushes whatever is still buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case l := <-d.ch:
			d.deliver(l)
		case <-ctx.Done():
			d.flush()
			return nil
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case l := <-d.ch:
			d.deliver(l)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(l waf.WAFLog) {
	for _, s := range d.sinks {
		if err := s.Store(l); err != nil {
			// A failing sink must not affect the verdict already
			// returned, nor the other sinks.
			d.logger.Error().Err(err).Int("ruleId", l.RuleID).Msg("log sink write failed")
		}
	}
}
