package inspection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bastionwaf/testutils"
	"bastionwaf/waf"
)

type failingSink struct{}

func (failingSink) Store(waf.WAFLog) error { return errors.New("sink down") }

func TestDispatcherEmitNeverBlocks(t *testing.T) {
	// Arrange. Buffer of two, no consumer running.
	d := NewDispatcher(testutils.NewTestLogger(t), 2)

	// Act
	d.Emit(waf.WAFLog{RuleID: 1})
	d.Emit(waf.WAFLog{RuleID: 2})
	d.Emit(waf.WAFLog{RuleID: 3})
	d.Emit(waf.WAFLog{RuleID: 4})

	// Assert. The overflow is shed and counted.
	assert.Equal(t, int64(2), d.Dropped())
}

func TestDispatcherRunFlushesOnShutdown(t *testing.T) {
	// Arrange
	sink := &collectSink{}
	d := NewDispatcher(testutils.NewTestLogger(t), 10, sink)
	d.Emit(waf.WAFLog{RuleID: 1})
	d.Emit(waf.WAFLog{RuleID: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act. Run sees the cancelled context and drains the buffer.
	err := d.Run(ctx)

	// Assert
	require.NoError(t, err)
	logs := sink.all()
	require.Len(t, logs, 2)
	assert.Equal(t, 1, logs[0].RuleID)
	assert.Equal(t, 2, logs[1].RuleID)
}

func TestDispatcherFailingSinkDoesNotStopOthers(t *testing.T) {
	// Arrange
	sink := &collectSink{}
	d := NewDispatcher(testutils.NewTestLogger(t), 10, failingSink{}, sink)
	d.Emit(waf.WAFLog{RuleID: 7})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	require.NoError(t, d.Run(ctx))

	// Assert
	require.Len(t, sink.all(), 1)
	assert.Equal(t, 7, sink.all()[0].RuleID)
}
