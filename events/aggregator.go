package events

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bastionwaf/waf"
)

// Key identifies one attacker-against-domain cluster. DstPort is part of
// the identity only when the aggregator is configured to include it; it
// stays zero otherwise so both wire shapes serialize the same way.
type Key struct {
	Domain          string
	ClientIPAddress string
	DstPort         int
}

// event is the mutable aggregate behind one key. Guarded by its shard's
// mutex while open; closed events are immutable.
type event struct {
	key             Key
	count           int
	firstAttackTime time.Time
	lastAttackTime  time.Time
	ongoing         bool
	frozenMinutes   float64
}

const shardCount = 32

type shard struct {
	mu   sync.Mutex
	open map[Key]*event
}

// Options tune the aggregator.
type Options struct {
	// IdleTimeout is the gap after which a quiet attacker's event is
	// considered ended. Default 30 minutes.
	IdleTimeout time.Duration

	// SweepInterval is how often the background sweep closes idle events
	// absent new traffic. Default 1 minute.
	SweepInterval time.Duration

	// IncludeDstPort adds the destination port to the event key.
	IncludeDstPort bool

	// MaxClosed bounds how many ended events are retained for queries.
	// Default 10000; oldest are discarded first.
	MaxClosed int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Aggregator groups raw match records into attacker-centric events.
// Ingest is called concurrently from the dispatch path; access to each
// key is serialized through its shard lock, and queries see a snapshot
// that may trail ingestion by a moment.
type Aggregator struct {
	logger         zerolog.Logger
	idleTimeout    time.Duration
	sweepInterval  time.Duration
	includeDstPort bool
	maxClosed      int
	clock          func() time.Time

	shards [shardCount]shard

	closedMu sync.Mutex
	closed   []*event
}

// NewAggregator creates an aggregator.
func NewAggregator(logger zerolog.Logger, opts Options) *Aggregator {
	a := &Aggregator{
		logger:         logger.With().Str("component", "events").Logger(),
		idleTimeout:    opts.IdleTimeout,
		sweepInterval:  opts.SweepInterval,
		includeDstPort: opts.IncludeDstPort,
		maxClosed:      opts.MaxClosed,
		clock:          opts.Clock,
	}
	if a.idleTimeout <= 0 {
		a.idleTimeout = 30 * time.Minute
	}
	if a.sweepInterval <= 0 {
		a.sweepInterval = time.Minute
	}
	if a.maxClosed <= 0 {
		a.maxClosed = 10000
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	for i := range a.shards {
		a.shards[i].open = make(map[Key]*event)
	}
	return a
}

// Store makes the aggregator usable as a log sink.
func (a *Aggregator) Store(l waf.WAFLog) error {
	a.Ingest(l)
	return nil
}

// Ingest folds one match record into its event. A record arriving after
// the key's event has gone idle closes the old event and starts a new one
// with a fresh identity rather than resurrecting the old one.
func (a *Aggregator) Ingest(l waf.WAFLog) {
	key := Key{Domain: l.Domain, ClientIPAddress: l.ClientIPAddress}
	if a.includeDstPort {
		key.DstPort = l.ServerPort
	}

	now := l.CreatedAt
	if now.IsZero() {
		now = a.clock()
	}

	s := a.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.open[key]; ok {
		if now.Sub(ev.lastAttackTime) <= a.idleTimeout {
			ev.count++
			if now.After(ev.lastAttackTime) {
				ev.lastAttackTime = now
			}
			return
		}
		a.closeEvent(ev)
		delete(s.open, key)
	}

	s.open[key] = &event{
		key:             key,
		count:           1,
		firstAttackTime: now,
		lastAttackTime:  now,
		ongoing:         true,
	}
}

// Run sweeps idle events periodically until ctx is cancelled, so
// isOngoing reflects reality without a read having to trigger the
// transition.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := a.Sweep(); n > 0 {
				a.logger.Debug().Int("closed", n).Msg("swept idle attack events")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep closes every open event whose last activity is older than the
// idle timeout and returns how many were closed.
func (a *Aggregator) Sweep() (n int) {
	now := a.clock()
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		for key, ev := range s.open {
			if now.Sub(ev.lastAttackTime) > a.idleTimeout {
				a.closeEvent(ev)
				delete(s.open, key)
				n++
			}
		}
		s.mu.Unlock()
	}
	return
}

// closeEvent freezes an event's duration and moves it to the bounded
// closed list. Caller holds the shard lock for the event.
func (a *Aggregator) closeEvent(ev *event) {
	ev.ongoing = false
	ev.frozenMinutes = ev.lastAttackTime.Sub(ev.firstAttackTime).Minutes()

	a.closedMu.Lock()
	a.closed = append(a.closed, ev)
	if len(a.closed) > a.maxClosed {
		a.closed = a.closed[len(a.closed)-a.maxClosed:]
	}
	a.closedMu.Unlock()
}

func (a *Aggregator) shard(key Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.Domain))
	h.Write([]byte{0})
	h.Write([]byte(key.ClientIPAddress))
	h.Write([]byte{0, byte(key.DstPort), byte(key.DstPort >> 8)})
	return &a.shards[h.Sum32()%shardCount]
}
