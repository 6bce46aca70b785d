package signals

import (
	"os"
	"os/signal"
	"sync/atomic"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/taskexec/pkg/core"
	"github.com/fluxorio/taskexec/pkg/observability/prometheus"
)

const waitFor = 2 * time.Second

func newTestManager(t *testing.T) (*Manager, *prometheus.Metrics) {
	t.Helper()
	metrics := prometheus.NewMetrics(promclient.NewRegistry())
	return NewManager(WithLogger(core.NewNopLogger()), WithMetrics(metrics)), metrics
}

func waitDone(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("dispatch loop did not exit")
	}
}

func TestManager_BindRejectsReservedAndUnknown(t *testing.T) {
	m, _ := newTestManager(t)
	noop := func(Kind) {}

	assert.ErrorIs(t, m.Bind(KindWake, noop), ErrReservedKind)
	assert.ErrorIs(t, m.Bind(Kind(0), noop), ErrUnknownKind)
	assert.ErrorIs(t, m.Bind(Kind(100), noop), ErrUnknownKind)
	assert.ErrorIs(t, m.Raise(KindWake), ErrReservedKind)
	assert.NoError(t, m.Bind(KindUser1, noop))
	assert.NoError(t, m.Unbind(KindUser1))
}

func TestManager_TerminateCallbackEndsLoop(t *testing.T) {
	m, _ := newTestManager(t)

	var called atomic.Bool
	var runningDuringCallback atomic.Bool
	require.NoError(t, m.Bind(KindTerminate, func(Kind) {
		runningDuringCallback.Store(m.Running())
		called.Store(true)
	}))
	require.NoError(t, m.Start())
	assert.True(t, m.Running())

	require.NoError(t, m.Raise(KindTerminate))
	waitDone(t, m)

	assert.True(t, called.Load())
	assert.False(t, runningDuringCallback.Load(), "running flag is cleared before the terminate callback")
	assert.False(t, m.Running())

	assert.NoError(t, m.Destroy())
	assert.ErrorIs(t, m.Destroy(), ErrDestroyed)
}

func TestManager_TerminateWithoutHandler(t *testing.T) {
	m, metrics := newTestManager(t)
	require.NoError(t, m.Start())

	require.NoError(t, m.Raise(KindTerminate))
	waitDone(t, m)
	require.NoError(t, m.Destroy())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignalsReceivedTotal.WithLabelValues("SIGTERM", "false")))
}

func TestManager_ReleasesSignalsAfterTerminate(t *testing.T) {
	m, _ := newTestManager(t)
	var user1 atomic.Int32
	require.NoError(t, m.Bind(KindUser1, func(Kind) { user1.Add(1) }))
	require.NoError(t, m.Start())

	require.NoError(t, m.Raise(KindTerminate))
	waitDone(t, m)

	// Keeps SIGUSR1 from killing the test binary once the manager lets go of it
	other := make(chan os.Signal, 1)
	signal.Notify(other, KindUser1.Signal())
	defer signal.Stop(other)

	require.NoError(t, m.Raise(KindUser1))
	select {
	case <-other:
	case <-time.After(waitFor):
		t.Fatal("SIGUSR1 was not delivered after the dispatch loop ended")
	}
	assert.Zero(t, len(m.sigCh), "no signal may be buffered for a stopped manager")
	assert.Zero(t, user1.Load())
	require.NoError(t, m.Destroy())
}

func TestManager_DispatchesUserSignals(t *testing.T) {
	m, metrics := newTestManager(t)
	got := make(chan Kind, 4)
	require.NoError(t, m.Bind(KindUser1, func(k Kind) { got <- k }))
	require.NoError(t, m.Bind(KindUser2, func(Kind) { panic("handler bug") }))
	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrAlreadyStarted)

	// unbound and panicking handlers must not end the loop
	require.NoError(t, m.Raise(KindHangup))
	require.NoError(t, m.Raise(KindUser2))
	require.NoError(t, m.Raise(KindUser1))

	select {
	case k := <-got:
		assert.Equal(t, KindUser1, k)
	case <-time.After(waitFor):
		t.Fatal("user1 handler was not called")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.SignalsReceivedTotal.WithLabelValues("SIGHUP", "false")) == 1 &&
			testutil.ToFloat64(metrics.SignalsReceivedTotal.WithLabelValues("SIGUSR2", "true")) == 1
	}, waitFor, 5*time.Millisecond)
	assert.True(t, m.Running())

	require.NoError(t, m.Stop())
	waitDone(t, m)
	assert.False(t, m.Running())
	assert.ErrorIs(t, m.Destroy(), ErrDestroyed)
	assert.ErrorIs(t, m.Bind(KindUser1, func(Kind) {}), ErrDestroyed)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignalsReceivedTotal.WithLabelValues("SIGUSR1", "true")))
}

func TestManager_StopBeforeStart(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Stop())
	waitDone(t, m)
	assert.ErrorIs(t, m.Start(), ErrDestroyed)
}
