package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/taskexec/pkg/config"
	"github.com/fluxorio/taskexec/pkg/core"
	"github.com/fluxorio/taskexec/pkg/core/concurrency"
)

// schedule submits one task definition to the executor every interval.
// A run is skipped while the previous one has not settled.
type schedule struct {
	sup     *Supervisor
	def     config.TaskDefinition
	every   time.Duration
	command commandFunc
	logger  core.Logger

	pending  atomic.Pointer[concurrency.Task]
	runs     atomic.Int64
	failures atomic.Int64
	load     atomic.Int64

	stopped  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func newSchedule(s *Supervisor, def config.TaskDefinition) (*schedule, error) {
	every, err := def.Every()
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", def.Name, err)
	}
	cmd, err := lookupCommand(def)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", def.Name, err)
	}

	sc := &schedule{
		sup:     s,
		def:     def,
		every:   every,
		command: cmd,
		logger:  s.logger.WithFields(map[string]interface{}{"task": def.Name}),
		stop:    make(chan struct{}),
	}
	sc.setLoad(def.WorkLoad.Increase.LowerBound)
	return sc, nil
}

func (sc *schedule) run(ctx context.Context) {
	ticker := time.NewTicker(sc.every)
	defer ticker.Stop()

	e := sc.sup.executor
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.Terminated():
			return
		case <-sc.stop:
			sc.logger.Infof("task %s: no longer scheduled after %d runs", sc.def.Name, sc.runs.Load())
			return
		case <-ticker.C:
			if e.IsShutdown() {
				return
			}
			sc.fire()
		}
	}
}

func (sc *schedule) fire() {
	if prev := sc.pending.Load(); prev != nil && !prev.State().IsTerminal() {
		sc.logger.Debugf("task %s: previous run %s still %s, skipping", sc.def.Name, prev.ID(), prev.State())
		return
	}
	// Checked after the previous run settled, which happens after kill.
	if sc.stopped.Load() {
		return
	}

	t, err := concurrency.NewNamedTask(sc.def.Name, sc.execute)
	if err != nil {
		sc.logger.Errorf("task %s: %v", sc.def.Name, err)
		return
	}
	sc.pending.Store(t)
	sc.sup.executor.SubmitTask(t)
}

// execute runs the command and applies the work load and thread action
// for its outcome
func (sc *schedule) execute(ctx context.Context) error {
	run := sc.runs.Add(1)
	logger := sc.logger.WithContext(ctx)
	err := sc.command(ctx, invocation{
		task:   sc.def.Name,
		run:    run,
		load:   int(sc.load.Load()),
		args:   sc.def.Args,
		logger: logger,
	})
	if err == nil {
		sc.setLoad(sc.def.WorkLoad.Increase.Apply(int(sc.load.Load())))
		return nil
	}

	sc.failures.Add(1)
	sc.setLoad(sc.def.WorkLoad.Decrease.Apply(int(sc.load.Load())))

	switch sc.def.ThreadAction {
	case config.ThreadActionKill:
		logger.Warnf("task %s: run %d failed, unscheduling: %v", sc.def.Name, run, err)
		sc.kill()
	case config.ThreadActionKillProgram:
		logger.Errorf("task %s: run %d failed, shutting down: %v", sc.def.Name, run, err)
		if serr := sc.sup.control.Send(concurrency.CommandShutdown); serr != nil {
			logger.Errorf("task %s: cannot request shutdown: %v", sc.def.Name, serr)
		}
	default:
		logger.Warnf("task %s: run %d failed, next in %v: %v", sc.def.Name, run, sc.every, err)
	}
	return err
}

func (sc *schedule) kill() {
	sc.stopOnce.Do(func() {
		sc.stopped.Store(true)
		close(sc.stop)
	})
}

func (sc *schedule) setLoad(level int) {
	sc.load.Store(int64(level))
	sc.sup.loadLevel.WithLabelValues(sc.def.Name).Set(float64(level))
}

func (sc *schedule) status() TaskStatus {
	return TaskStatus{
		Name:     sc.def.Name,
		Every:    sc.every,
		Runs:     sc.runs.Load(),
		Failures: sc.failures.Load(),
		Load:     int(sc.load.Load()),
		Stopped:  sc.stopped.Load(),
	}
}
