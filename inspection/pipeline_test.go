package inspection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bastionwaf/rules"
	"bastionwaf/testutils"
	"bastionwaf/waf"
)

type collectSink struct {
	mu   sync.Mutex
	logs []waf.WAFLog
}

func (s *collectSink) Store(l waf.WAFLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}

func (s *collectSink) all() []waf.WAFLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]waf.WAFLog(nil), s.logs...)
}

func testSites() []waf.Site {
	return []waf.Site{
		{Name: "protected", Domain: "a.com", WAFEnabled: true, WAFMode: waf.WAFModeProtection, ActiveStatus: true},
		{Name: "observed", Domain: "b.com", WAFEnabled: true, WAFMode: waf.WAFModeObservation, ActiveStatus: true},
	}
}

func testDefs() []rules.RuleDef {
	return []rules.RuleDef{
		{
			ID: 100, Name: "bad source", Domain: "a.com", Enabled: true, Priority: 1, Action: "block", Severity: 3, Accuracy: 8,
			Condition: rules.Condition{Type: rules.ConditionSimple, Target: rules.TargetSourceIP, MatchType: rules.MatchEqual, MatchValue: "1.2.3.4"},
		},
		{
			ID: 150, Name: "curl client", Domain: "a.com", Enabled: true, Priority: 2, Action: "log", Severity: 1, Accuracy: 5,
			Condition: rules.Condition{Type: rules.ConditionSimple, Target: rules.TargetUserAgent, MatchType: rules.MatchContains, MatchValue: "curl"},
		},
		{
			ID: 200, Name: "admin probe", Domain: "a.com", Enabled: true, Priority: 3, Action: "log", Severity: 2, Accuracy: 7,
			Condition: rules.Condition{Type: rules.ConditionSimple, Target: rules.TargetURI, MatchType: rules.MatchContains, MatchValue: "/admin"},
		},
		{
			ID: 300, Name: "bad source", Domain: "b.com", Enabled: true, Priority: 1, Action: "block", Severity: 3, Accuracy: 8,
			Condition: rules.Condition{Type: rules.ConditionSimple, Target: rules.TargetSourceIP, MatchType: rules.MatchEqual, MatchValue: "1.2.3.4"},
		},
	}
}

func newTestPipeline(t *testing.T, opts Options) (*Pipeline, *Dispatcher, *collectSink) {
	t.Helper()
	snapshot, err := rules.Build(testDefs(), testSites(), rules.BuildOptions{})
	require.NoError(t, err)
	handle := rules.NewHandle()
	handle.Publish(snapshot)

	sink := &collectSink{}
	logger := testutils.NewTestLogger(t)
	dispatcher := NewDispatcher(logger, 100, sink)
	p := NewPipeline(logger, handle, dispatcher, opts)
	p.SetAccepting(true)
	return p, dispatcher, sink
}

func TestInspectBlocksInProtectionMode(t *testing.T) {
	// Arrange
	p, d, sink := newTestPipeline(t, Options{})
	req := newMockRequest("1.2.3.4", "/")

	// Act
	verdict, err := p.Inspect(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Block, verdict.Decision)
	require.Len(t, verdict.Matches, 1)
	assert.Equal(t, 100, verdict.Matches[0].RuleID)

	d.flush()
	logs := sink.all()
	require.Len(t, logs, 1)
	assert.Equal(t, 100, logs[0].RuleID)
	assert.Equal(t, "1.2.3.4", logs[0].ClientIPAddress)
	assert.Equal(t, "a.com", logs[0].Domain)
	assert.NotEmpty(t, logs[0].RequestID)
}

func TestInspectAllowsWhenNothingMatches(t *testing.T) {
	// Arrange
	p, d, sink := newTestPipeline(t, Options{})
	req := newMockRequest("5.6.7.8", "/")
	req.headers = []waf.HeaderPair{mockHeader{"Host", "a.com"}}

	// Act
	verdict, err := p.Inspect(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Allow, verdict.Decision)
	assert.Empty(t, verdict.Matches)

	d.flush()
	assert.Empty(t, sink.all())
}

func TestInspectObservationModeLogsButNeverBlocks(t *testing.T) {
	// Arrange
	p, d, sink := newTestPipeline(t, Options{})
	req := newMockRequest("1.2.3.4", "/")
	req.host = "b.com"

	// Act
	verdict, err := p.Inspect(context.Background(), req)

	// Assert. The block rule matched but the site is in observation mode.
	require.NoError(t, err)
	assert.Equal(t, waf.Allow, verdict.Decision)
	require.Len(t, verdict.Matches, 1)
	assert.Equal(t, 300, verdict.Matches[0].RuleID)

	d.flush()
	require.Len(t, sink.all(), 1)
}

func TestInspectCollectsMultipleLogMatches(t *testing.T) {
	// Arrange. curl UA matches rule 150, URI matches rule 200.
	p, d, sink := newTestPipeline(t, Options{})
	req := newMockRequest("5.6.7.8", "/admin/users")

	// Act
	verdict, err := p.Inspect(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Allow, verdict.Decision)
	require.Len(t, verdict.Matches, 2)
	assert.Equal(t, 150, verdict.Matches[0].RuleID)
	assert.Equal(t, 200, verdict.Matches[1].RuleID)

	d.flush()
	assert.Len(t, sink.all(), 2)
}

func TestInspectEnforcedBlockHaltsEvaluation(t *testing.T) {
	// Arrange. The request would also match rules 150 and 200, but the
	// block rule has the lowest priority value and ends the evaluation.
	p, _, _ := newTestPipeline(t, Options{})
	req := newMockRequest("1.2.3.4", "/admin/users")

	// Act
	verdict, err := p.Inspect(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Block, verdict.Decision)
	require.Len(t, verdict.Matches, 1)
	assert.Equal(t, 100, verdict.Matches[0].RuleID)
}

func TestInspectRejectsWhenNotAccepting(t *testing.T) {
	// Arrange
	p, _, _ := newTestPipeline(t, Options{})
	p.SetAccepting(false)

	// Act
	verdict, err := p.Inspect(context.Background(), newMockRequest("1.2.3.4", "/"))

	// Assert
	assert.ErrorIs(t, err, ErrNotAccepting)
	assert.Equal(t, waf.Allow, verdict.Decision)
	assert.Equal(t, int64(1), p.Rejected())
}

func TestInspectAllowsUnknownDomain(t *testing.T) {
	// Arrange
	p, _, _ := newTestPipeline(t, Options{})
	req := newMockRequest("1.2.3.4", "/")
	req.host = "c.com"

	// Act
	verdict, err := p.Inspect(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Allow, verdict.Decision)
	assert.Empty(t, verdict.Matches)
}

func TestInspectAllowsBeforeFirstPublish(t *testing.T) {
	// Arrange. Empty handle: no snapshot published yet.
	logger := testutils.NewTestLogger(t)
	d := NewDispatcher(logger, 100)
	p := NewPipeline(logger, rules.NewHandle(), d, Options{})
	p.SetAccepting(true)

	// Act
	verdict, err := p.Inspect(context.Background(), newMockRequest("1.2.3.4", "/"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Allow, verdict.Decision)
}

func TestInspectTimeoutFailsOpenByDefault(t *testing.T) {
	// Arrange. A one-nanosecond budget is exhausted before the first rule.
	p, _, _ := newTestPipeline(t, Options{EvalTimeout: time.Nanosecond})
	req := newMockRequest("1.2.3.4", "/")

	// Act
	verdict, err := p.Inspect(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Allow, verdict.Decision)
	assert.Empty(t, verdict.Matches)
	assert.Equal(t, int64(1), p.Timeouts())
}

func TestInspectTimeoutFailClosedBlocksEnforcedSites(t *testing.T) {
	// Arrange
	p, _, _ := newTestPipeline(t, Options{EvalTimeout: time.Nanosecond, FailClosed: true})

	// Act
	verdict, err := p.Inspect(context.Background(), newMockRequest("1.2.3.4", "/"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Block, verdict.Decision)
	assert.Equal(t, int64(1), p.Timeouts())
}

func TestInspectTimeoutFailClosedSparesObservationSites(t *testing.T) {
	// Arrange
	p, _, _ := newTestPipeline(t, Options{EvalTimeout: time.Nanosecond, FailClosed: true})
	req := newMockRequest("1.2.3.4", "/")
	req.host = "b.com"

	// Act
	verdict, err := p.Inspect(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Allow, verdict.Decision)
}

func TestInspectCancelledContextFailsSafe(t *testing.T) {
	// Arrange
	p, _, _ := newTestPipeline(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	verdict, err := p.Inspect(ctx, newMockRequest("1.2.3.4", "/"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, waf.Allow, verdict.Decision)
	assert.Equal(t, int64(1), p.Timeouts())
}

func TestInspectGeneratesTransactionID(t *testing.T) {
	// Arrange
	p, d, sink := newTestPipeline(t, Options{})
	req := newMockRequest("1.2.3.4", "/")
	req.txid = ""

	// Act
	_, err := p.Inspect(context.Background(), req)

	// Assert
	require.NoError(t, err)
	d.flush()
	logs := sink.all()
	require.Len(t, logs, 1)
	assert.NotEmpty(t, logs[0].RequestID)
}

func TestDrainCoversConcurrentInspections(t *testing.T) {
	// Arrange
	p, _, _ := newTestPipeline(t, Options{})
	req := newMockRequest("5.6.7.8", "/")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// Once the gate closes, every call must be turned away; a
				// call that got through is covered by the drain below.
				_, err := p.Inspect(context.Background(), req)
				if err != nil {
					assert.ErrorIs(t, err, ErrNotAccepting)
				}
			}
		}()
	}

	// Act. Close the gate and drain while inspections are racing in.
	p.SetAccepting(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Drain(ctx)
	close(stop)
	wg.Wait()

	// Assert
	assert.NoError(t, err)
}

func TestDrainWaitsForInflightInspections(t *testing.T) {
	// Arrange. Nothing in flight, so drain returns immediately.
	p, _, _ := newTestPipeline(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Act & Assert
	assert.NoError(t, p.Drain(ctx))
}
