// Package signals turns process signals into ordinary callbacks run on a
// single dispatch goroutine.
package signals

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/fluxorio/taskexec/pkg/core"
	"github.com/fluxorio/taskexec/pkg/observability/prometheus"
)

var (
	// ErrReservedKind is returned when binding or raising KindWake
	ErrReservedKind = errors.New("signals: kind is reserved")

	// ErrUnknownKind is returned for kinds outside the supported set
	ErrUnknownKind = errors.New("signals: unknown kind")

	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("signals: manager already started")

	// ErrDestroyed is returned by operations on a destroyed manager
	ErrDestroyed = errors.New("signals: manager destroyed")
)

// Handler is called on the dispatch goroutine for each delivered signal
type Handler func(kind Kind)

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used for unhandled signals and handler panics
func WithLogger(logger core.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets where delivered signals are counted
func WithMetrics(metrics *prometheus.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager owns process signal delivery. All signals it subscribes to are
// received by one goroutine and dispatched to at most one Handler per Kind.
//
// KindTerminate always ends the dispatch loop, whether or not a handler is
// bound. The running flag is cleared before the terminate handler runs.
type Manager struct {
	logger  core.Logger
	metrics *prometheus.Metrics

	mu        sync.Mutex
	handlers  map[Kind]Handler
	started   bool
	destroyed bool

	running atomic.Bool
	sigCh   chan os.Signal
	wake    chan struct{}
	done    chan struct{}
}

// NewManager creates a stopped manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		handlers: make(map[Kind]Handler),
		sigCh:    make(chan os.Signal, 16),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = core.NewComponentLogger("signals")
	}
	if m.metrics == nil {
		m.metrics = prometheus.GetMetrics()
	}
	return m
}

func checkKind(kind Kind) error {
	if kind == KindWake {
		return ErrReservedKind
	}
	if !kind.Valid() {
		return ErrUnknownKind
	}
	return nil
}

// Bind sets the handler for kind, replacing any previous one.
// A nil handler unbinds.
func (m *Manager) Bind(kind Kind, h Handler) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	if h == nil {
		delete(m.handlers, kind)
		return nil
	}
	m.handlers[kind] = h
	return nil
}

// Unbind removes the handler for kind
func (m *Manager) Unbind(kind Kind) error {
	return m.Bind(kind, nil)
}

func (m *Manager) handler(kind Kind) Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[kind]
}

// Start subscribes to every supported signal and starts the dispatch goroutine
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	sigs := make([]os.Signal, 0, len(kindInfo))
	for _, k := range Kinds() {
		sigs = append(sigs, k.Signal())
	}
	signal.Notify(m.sigCh, sigs...)

	m.running.Store(true)
	go m.loop()
	return nil
}

// Running reports whether the dispatch loop is active
func (m *Manager) Running() bool {
	return m.running.Load()
}

// Done returns a channel closed when the dispatch loop has exited
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// loop dispatches until the running flag is cleared. On exit it gives the
// signals back to the runtime so their default actions apply again.
func (m *Manager) loop() {
	defer close(m.done)
	defer signal.Stop(m.sigCh)

	for m.running.Load() {
		select {
		case sig := <-m.sigCh:
			kind := KindOf(sig)
			if kind == KindTerminate {
				m.running.Store(false)
			}
			m.dispatch(kind, sig)
		case <-m.wake:
		}
	}
}

func (m *Manager) dispatch(kind Kind, sig os.Signal) {
	h := m.handler(kind)
	m.metrics.RecordSignal(kind.SignalName(), h != nil)
	if h == nil {
		if kind == KindTerminate {
			m.logger.Infof("received %v, stopping signal dispatch", sig)
			return
		}
		m.logger.Warnf("received %v with no handler bound, ignoring", sig)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("handler for %s panicked: %v", kind, r)
		}
	}()
	m.logger.Debugf("dispatching %v to %s handler", sig, kind)
	h(kind)
}

// Stop clears the running flag, wakes the dispatch loop and destroys the manager
func (m *Manager) Stop() error {
	m.running.Store(false)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return m.Destroy()
}

// Destroy waits for the dispatch loop to exit.
// It blocks until the loop ends, so it is normally reached through Stop or
// after a terminate signal. A second call returns ErrDestroyed.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	m.destroyed = true
	started := m.started
	m.mu.Unlock()

	if !started {
		close(m.done)
		return nil
	}
	<-m.done
	return nil
}

// Raise sends the signal for kind to the current process
func (m *Manager) Raise(kind Kind) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	return unix.Kill(os.Getpid(), kindInfo[kind].signal)
}
