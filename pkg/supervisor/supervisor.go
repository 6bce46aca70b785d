// Package supervisor runs an executor built from a config file together
// with its signal bindings and scheduled tasks.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/taskexec/pkg/config"
	"github.com/fluxorio/taskexec/pkg/core"
	"github.com/fluxorio/taskexec/pkg/core/concurrency"
	"github.com/fluxorio/taskexec/pkg/observability/prometheus"
	"github.com/fluxorio/taskexec/pkg/queue"
	"github.com/fluxorio/taskexec/pkg/signals"
)

var (
	ErrAlreadyStarted = errors.New("supervisor has already been started")
	ErrGraceExpired   = errors.New("executor did not terminate within the grace period")
)

const (
	stateIdle uint32 = iota
	stateRunning
	stateStopped
)

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLogger sets the logger shared by the supervisor, executor and signal manager
func WithLogger(logger core.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithMetrics sets where executor, signal and task load metrics are recorded
func WithMetrics(metrics *prometheus.Metrics) Option {
	return func(s *Supervisor) { s.metrics = metrics }
}

// WithTracerProvider sets the provider for task execution spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Supervisor) { s.tracerProvider = tp }
}

// WithoutSignals leaves process signals alone. The supervisor then stops
// through its context, Send or a kill_program task.
func WithoutSignals() Option {
	return func(s *Supervisor) { s.handleSignals = false }
}

// WithGracePeriod bounds how long Run waits for workers after its context is done
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// WithMailboxSize sets the capacity of the control mailbox
func WithMailboxSize(n int) Option {
	return func(s *Supervisor) { s.mailboxSize = n }
}

// Status is a snapshot of a running supervisor
type Status struct {
	State    string
	Executor concurrency.ExecutorStats
	Tasks    []TaskStatus
}

// TaskStatus describes one scheduled task definition
type TaskStatus struct {
	Name     string
	Every    time.Duration
	Runs     int64
	Failures int64
	Load     int
	Stopped  bool
}

// Supervisor owns an executor, the mailbox that controls it, the signal
// manager feeding that mailbox and the tickers submitting scheduled tasks
type Supervisor struct {
	file           *config.File
	logger         core.Logger
	metrics        *prometheus.Metrics
	tracerProvider trace.TracerProvider
	handleSignals  bool
	grace          time.Duration
	mailboxSize    int

	state     atomic.Uint32
	executor  *concurrency.ThreadManager
	control   concurrency.Mailbox[concurrency.Command]
	signals   *signals.Manager
	schedules []*schedule
	loadLevel *prom.GaugeVec
}

// New validates f and builds the executor, which starts its core workers
// immediately. Cancelling ctx shuts the executor down at once.
func New(ctx context.Context, f *config.File, opts ...Option) (*Supervisor, error) {
	if f == nil {
		f = config.DefaultFile()
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s := &Supervisor{
		file:          f,
		handleSignals: true,
		grace:         10 * time.Second,
		mailboxSize:   16,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = core.NewComponentLogger("supervisor")
	}
	if s.metrics == nil {
		s.metrics = prometheus.GetMetrics()
	}
	s.loadLevel = s.metrics.Gauge("taskexec_task_load_level", "Current work load level of a scheduled task", "task")
	s.control = concurrency.NewBoundedMailbox[concurrency.Command](s.mailboxSize)

	for _, def := range f.Tasks {
		sc, err := newSchedule(s, def)
		if err != nil {
			return nil, err
		}
		s.schedules = append(s.schedules, sc)
	}

	if s.handleSignals {
		m, err := s.bindSignals()
		if err != nil {
			return nil, err
		}
		s.signals = m
	}

	e, err := s.newExecutor(ctx)
	if err != nil {
		return nil, err
	}
	s.executor = e
	return s, nil
}

func (s *Supervisor) newExecutor(ctx context.Context) (*concurrency.ThreadManager, error) {
	ec := s.file.Executor

	var q queue.Queue[*concurrency.Task]
	switch ec.Queue {
	case config.QueueLinked:
		q = queue.NewLinkedQueue[*concurrency.Task]()
	default:
		aq, err := queue.NewArrayQueue[*concurrency.Task](ec.QueueCapacity)
		if err != nil {
			return nil, fmt.Errorf("executor queue: %w", err)
		}
		q = aq
	}

	policy, err := concurrency.ParseRejectionPolicy(ec.RejectionPolicy)
	if err != nil {
		return nil, err
	}

	e, err := concurrency.NewExecutor(ctx, concurrency.ExecutorConfig{
		Name:            ec.Name,
		CoreSize:        ec.CoreSize,
		MaxSize:         ec.MaxSize,
		KeepAlive:       ec.KeepAlive.Std(),
		Queue:           q,
		RejectionPolicy: policy,
		Logger:          s.logger,
		Metrics:         s.metrics,
		TracerProvider:  s.tracerProvider,
	})
	if err != nil {
		return nil, fmt.Errorf("executor %s: %w", ec.Name, err)
	}
	return e, nil
}

// bindSignals maps each configured signal to a handler that forwards its
// command to the control mailbox
func (s *Supervisor) bindSignals() (*signals.Manager, error) {
	m := signals.NewManager(signals.WithLogger(s.logger), signals.WithMetrics(s.metrics))

	names := make([]string, 0, len(s.file.Signals))
	for name := range s.file.Signals {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		kind, err := signals.ParseKind(name)
		if err != nil {
			return nil, err
		}
		action := s.file.Signals[name]
		if strings.EqualFold(action, config.SignalIgnore) {
			if err := m.Bind(kind, func(k signals.Kind) {
				s.logger.Debugf("signal %s ignored", k.SignalName())
			}); err != nil {
				return nil, err
			}
			continue
		}

		cmd, err := concurrency.ParseCommand(action)
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", name, err)
		}
		if err := m.Bind(kind, func(k signals.Kind) {
			s.logger.Infof("signal %s: %s", k.SignalName(), cmd)
			if err := s.control.Send(cmd); err != nil {
				s.logger.Warnf("signal %s: dropping %s: %v", k.SignalName(), cmd, err)
			}
		}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Executor returns the supervised executor
func (s *Supervisor) Executor() *concurrency.ThreadManager { return s.executor }

// Signals returns the signal manager, or nil when signals are not handled
func (s *Supervisor) Signals() *signals.Manager { return s.signals }

// Send queues a control command for the executor
func (s *Supervisor) Send(cmd concurrency.Command) error {
	return s.control.Send(cmd)
}

// Run starts signal dispatch and the task schedules, then blocks until the
// executor terminates. When ctx is done first the executor is shut down
// immediately and Run waits up to the grace period for its workers.
// A second call returns ErrAlreadyStarted.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		return ErrAlreadyStarted
	}
	defer s.state.Store(stateStopped)

	if s.signals != nil {
		if err := s.signals.Start(); err != nil {
			s.executor.ShutdownNow()
			return fmt.Errorf("start signals: %w", err)
		}
	}
	s.logger.Infof("supervisor started: executor %s with %d scheduled tasks", s.executor.Name(), len(s.schedules))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.executor.Control(gctx, s.control)
	})
	for _, sc := range s.schedules {
		g.Go(func() error {
			sc.run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return s.supervise(gctx)
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}
	s.logger.Infof("supervisor stopped: executor %s %s", s.executor.Name(), s.executor.State())
	return err
}

// supervise waits for the executor to terminate, or for ctx to end and then
// forces it down, before releasing the mailbox and the signal manager
func (s *Supervisor) supervise(ctx context.Context) error {
	var err error
	select {
	case <-s.executor.Terminated():
	case <-ctx.Done():
		if pending := s.executor.ShutdownNow(); !pending.IsEmpty() {
			s.logger.Warnf("supervisor: %d queued tasks abandoned", pending.Size())
		}
		graceCtx, cancel := context.WithTimeout(context.Background(), s.grace)
		if s.executor.AwaitTermination(graceCtx) != nil {
			err = fmt.Errorf("%w (%v)", ErrGraceExpired, s.grace)
		}
		cancel()
	}

	s.control.Close()
	if s.signals != nil {
		if serr := s.signals.Stop(); serr != nil && !errors.Is(serr, signals.ErrDestroyed) {
			err = errors.Join(err, serr)
		}
	}
	return err
}

// Status returns a snapshot of the executor and every schedule
func (s *Supervisor) Status() Status {
	states := map[uint32]string{
		stateIdle:    "Idle",
		stateRunning: "Running",
		stateStopped: "Stopped",
	}

	tasks := make([]TaskStatus, 0, len(s.schedules))
	for _, sc := range s.schedules {
		tasks = append(tasks, sc.status())
	}
	return Status{
		State:    states[s.state.Load()],
		Executor: s.executor.Stats(),
		Tasks:    tasks,
	}
}
