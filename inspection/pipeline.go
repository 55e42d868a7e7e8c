package inspection

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bastionwaf/rules"
	"bastionwaf/waf"
)

// ErrNotAccepting is returned for requests arriving while the engine is
// not running.
var ErrNotAccepting = errors.New("engine is not accepting requests")

const requestExcerptLimit = 2048

// Options tune the pipeline.
type Options struct {
	// EvalTimeout bounds a single request's inspection so one pathological
	// request cannot stall a worker.
	EvalTimeout time.Duration

	// FailClosed makes timed-out or force-cancelled inspections of
	// protection-mode requests block instead of allow.
	FailClosed bool
}

// Pipeline inspects requests against the live rule-set snapshot. It is
// invoked concurrently, once per inbound request; all shared state is the
// immutable snapshot behind the handle.
type Pipeline struct {
	logger      zerolog.Logger
	handle      *rules.Handle
	dispatcher  *Dispatcher
	evalTimeout time.Duration
	failClosed  bool

	accepting atomic.Bool
	aborted   atomic.Bool
	inflight  atomic.Int64

	timeouts atomic.Int64
	rejected atomic.Int64
}

// NewPipeline creates a pipeline. It starts out not accepting requests;
// the lifecycle controller flips that on start.
func NewPipeline(logger zerolog.Logger, handle *rules.Handle, dispatcher *Dispatcher, opts Options) *Pipeline {
	timeout := opts.EvalTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Pipeline{
		logger:      logger.With().Str("component", "inspection").Logger(),
		handle:      handle,
		dispatcher:  dispatcher,
		evalTimeout: timeout,
		failClosed:  opts.FailClosed,
	}
}

// SetAccepting opens or closes the pipeline for new inspections. Opening
// also clears a previous abort.
func (p *Pipeline) SetAccepting(on bool) {
	if on {
		p.aborted.Store(false)
	}
	p.accepting.Store(on)
}

// Abort makes in-flight inspections bail out with the fail-safe verdict
// at the next rule boundary. Used by force stop.
func (p *Pipeline) Abort() {
	p.accepting.Store(false)
	p.aborted.Store(true)
}

// Drain blocks until all in-flight inspections finish or ctx expires.
func (p *Pipeline) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.inflight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Timeouts is the number of inspections that hit the evaluation time
// budget or were force-cancelled.
func (p *Pipeline) Timeouts() int64 { return p.timeouts.Load() }

// Rejected is the number of requests turned away while not running.
func (p *Pipeline) Rejected() int64 { return p.rejected.Load() }

// Inspect evaluates one request and returns the verdict. Every rule match
// emits a WAFLog to the dispatcher regardless of the verdict; inspection
// latency never depends on downstream aggregation or persistence.
func (p *Pipeline) Inspect(ctx context.Context, req waf.HTTPRequest) (verdict waf.Verdict, err error) {
	verdict.Decision = waf.Allow

	// Register as in-flight before checking the gate: a concurrent Stop
	// either sees this inspection in the drain count and waits for it, or
	// the check below observes the gate already closed.
	p.inflight.Add(1)
	defer p.inflight.Add(-1)

	if !p.accepting.Load() {
		p.rejected.Add(1)
		err = ErrNotAccepting
		return
	}

	txid := req.TransactionID()
	if txid == "" {
		txid = uuid.NewString()
	}
	logger := p.logger.With().Str("txid", txid).Logger()

	logger.Debug().Str("uri", req.URI()).Msg("WAF got request")
	startTime := time.Now()
	defer func() {
		logger.Debug().Dur("timeTaken", time.Since(startTime)).Str("decision", verdict.Decision.String()).Msg("WAF completed request")
	}()

	// The snapshot handle is fetched once; this inspection runs entirely
	// against it even if a reload swaps in a new one meanwhile.
	snapshot := p.handle.Current()
	if snapshot == nil {
		return
	}

	facts := ExtractFacts(req)
	siteRules := snapshot.RulesFor(facts.Domain)
	if siteRules == nil || len(siteRules.Rules) == 0 {
		return
	}

	site := siteRules.Site
	enforce := site.WAFMode == waf.WAFModeProtection && site.ActiveStatus
	deadline := startTime.Add(p.evalTimeout)

	for _, rule := range siteRules.Rules {
		if p.aborted.Load() {
			verdict.Decision = p.failSafe(logger, enforce, "inspection force-cancelled")
			return
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			verdict.Decision = p.failSafe(logger, enforce, "inspection exceeded time budget")
			return
		}

		if !rule.Match(facts) {
			continue
		}

		record := p.newMatchRecord(txid, req, facts, rule)
		verdict.Matches = append(verdict.Matches, waf.RuleMatch{RuleID: rule.ID, Log: record})
		p.dispatcher.Emit(record)

		// A block match halts evaluation only when it will actually be
		// enforced. Log matches and observation-mode matches keep going,
		// allowing multiple matches per request.
		if rule.Action == waf.ActionBlock && enforce {
			verdict.Decision = waf.Block
			logger.Info().Int("ruleId", rule.ID).Str("domain", site.Domain).Msg("request blocked")
			return
		}
	}

	return
}

// failSafe resolves the verdict for cancelled or timed-out inspections.
// Observation-mode requests are always allowed; for protection mode the
// policy is configurable and defaults to allow, so a stall never turns
// into silently rejected legitimate traffic.
func (p *Pipeline) failSafe(logger zerolog.Logger, enforce bool, reason string) waf.Decision {
	p.timeouts.Add(1)
	logger.Warn().Bool("failClosed", p.failClosed).Msg(reason)
	if enforce && p.failClosed {
		return waf.Block
	}
	return waf.Allow
}

func (p *Pipeline) newMatchRecord(txid string, req waf.HTTPRequest, facts *rules.Facts, rule *rules.Rule) waf.WAFLog {
	now := time.Now()
	msg := rule.Message
	if msg == "" {
		msg = fmt.Sprintf("rule %d (%s) matched", rule.ID, rule.Name)
	}

	return waf.WAFLog{
		RuleID:          rule.ID,
		RequestID:       txid,
		Severity:        rule.Severity,
		Phase:           1,
		Accuracy:        rule.Accuracy,
		Payload:         facts.Method + " " + facts.URI,
		URI:             facts.URI,
		ClientIPAddress: addrString(facts.SourceIP),
		ClientPort:      facts.SourcePort,
		ServerIPAddress: addrString(facts.DestinationIP),
		ServerPort:      facts.DestinationPort,
		Domain:          facts.Domain,
		Message:         msg,
		Request:         requestExcerpt(req),
		CreatedAt:       now,
		Logs: []waf.Log{{
			Message:  msg,
			Payload:  facts.Method + " " + facts.URI,
			RuleID:   rule.ID,
			Severity: rule.Severity,
			Phase:    1,
			Accuracy: rule.Accuracy,
		}},
	}
}

func addrString(a netip.Addr) string {
	if a.IsValid() {
		return a.String()
	}
	return ""
}

// requestExcerpt captures the request line and headers, capped so a huge
// header block cannot bloat log records.
func requestExcerpt(req waf.HTTPRequest) string {
	var b strings.Builder
	b.WriteString(req.Method())
	b.WriteString(" ")
	b.WriteString(req.URI())
	b.WriteString(" ")
	b.WriteString(req.Protocol())
	b.WriteString("\r\n")
	for _, h := range req.Headers() {
		if b.Len() > requestExcerptLimit {
			b.WriteString("...")
			break
		}
		b.WriteString(h.Key())
		b.WriteString(": ")
		b.WriteString(h.Value())
		b.WriteString("\r\n")
	}
	return b.String()
}
