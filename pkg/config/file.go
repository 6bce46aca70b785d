package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fluxorio/taskexec/pkg/core/concurrency"
	"github.com/fluxorio/taskexec/pkg/signals"
)

// EnvPrefix is the prefix for environment overrides of a File
const EnvPrefix = "TASKEXEC"

// Queue backends
const (
	QueueArray  = "array"
	QueueLinked = "linked"
)

// Actions taken when a scheduled task fails
const (
	ThreadActionKill        = "kill"
	ThreadActionReplace     = "replace"
	ThreadActionKillProgram = "kill_program"
)

// Built-in task commands
const (
	CommandLog   = "log"
	CommandSleep = "sleep"
	CommandFail  = "fail"
)

// Work load adjustments
const (
	LoadAdd = "add"
	LoadSub = "sub"
)

// SignalIgnore maps a signal to no action
const SignalIgnore = "ignore"

// MaxWorkers caps executor.max_size
const MaxWorkers = 4096

// ErrInvalidTask is returned by File.Validate for a bad task definition
var ErrInvalidTask = errors.New("invalid task definition")

// File is the taskexecd configuration file
type File struct {
	Executor ExecutorSection `yaml:"executor" json:"executor"`

	// Signals maps a signal name ("SIGUSR1", "usr1", "terminate") to a
	// control command name or "ignore". Entries are merged over the
	// defaults, so a default can only be turned off with "ignore".
	Signals map[string]string `yaml:"signals" json:"signals"`

	Tasks   []TaskDefinition `yaml:"tasks" json:"tasks"`
	Metrics MetricsSection   `yaml:"metrics" json:"metrics"`
	Tracing TracingSection   `yaml:"tracing" json:"tracing"`
	Log     LogSection       `yaml:"log" json:"log"`
}

type ExecutorSection struct {
	Name            string   `yaml:"name" json:"name"`
	CoreSize        int      `yaml:"core_size" json:"core_size"`
	MaxSize         int      `yaml:"max_size" json:"max_size"`
	KeepAlive       Duration `yaml:"keep_alive" json:"keep_alive"`
	Queue           string   `yaml:"queue" json:"queue"`
	QueueCapacity   int      `yaml:"queue_capacity" json:"queue_capacity"`
	RejectionPolicy string   `yaml:"rejection_policy" json:"rejection_policy"`
}

// TaskDefinition describes work submitted to the executor every Interval
type TaskDefinition struct {
	Name         string   `yaml:"name" json:"name"`
	Interval     string   `yaml:"interval" json:"interval"`
	ThreadAction string   `yaml:"thread_action" json:"thread_action"`
	Command      string   `yaml:"command" json:"command"`
	Args         []string `yaml:"args,omitempty" json:"args,omitempty"`
	WorkLoad     WorkLoad `yaml:"work_load" json:"work_load"`
}

// Every returns the parsed interval
func (d TaskDefinition) Every() (time.Duration, error) {
	return ParseInterval(d.Interval)
}

// WorkLoad adjusts a task's load level after each run: Increase after a
// success, Decrease after a failure
type WorkLoad struct {
	Increase LoadAdjustment `yaml:"increase" json:"increase"`
	Decrease LoadAdjustment `yaml:"decrease" json:"decrease"`
}

// LoadAdjustment adds or subtracts Value and keeps the result within
// [LowerBound, UpperBound]
type LoadAdjustment struct {
	Action     string `yaml:"action" json:"action"`
	LowerBound int    `yaml:"lower_bound" json:"lower_bound"`
	UpperBound int    `yaml:"upper_bound" json:"upper_bound"`
	Value      int    `yaml:"value" json:"value"`
}

// Apply returns the adjusted level. An empty adjustment leaves level unchanged.
func (a LoadAdjustment) Apply(level int) int {
	switch a.Action {
	case LoadAdd:
		level += a.Value
	case LoadSub:
		level -= a.Value
	default:
		return level
	}
	return min(max(level, a.LowerBound), a.UpperBound)
}

func (a LoadAdjustment) validate() error {
	if a.Action == "" {
		return nil
	}
	if a.Action != LoadAdd && a.Action != LoadSub {
		return fmt.Errorf("work load action %q: want %s or %s", a.Action, LoadAdd, LoadSub)
	}
	if a.Value < 0 {
		return fmt.Errorf("work load value %d cannot be negative", a.Value)
	}
	if a.LowerBound > a.UpperBound {
		return fmt.Errorf("work load bounds [%d, %d] are inverted", a.LowerBound, a.UpperBound)
	}
	return nil
}

type MetricsSection struct {
	// Listen is the address of the /metrics endpoint; empty disables it
	Listen string `yaml:"listen" json:"listen"`
	Path   string `yaml:"path" json:"path"`
}

type TracingSection struct {
	Stdout        bool    `yaml:"stdout" json:"stdout"`
	PrettyPrint   bool    `yaml:"pretty_print" json:"pretty_print"`
	SamplingRatio float64 `yaml:"sampling_ratio" json:"sampling_ratio"`
}

type LogSection struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// DefaultFile returns the configuration used when no file is given
func DefaultFile() *File {
	return &File{
		Executor: ExecutorSection{
			Name:            "taskexecd",
			CoreSize:        2,
			MaxSize:         4,
			KeepAlive:       Duration(30 * time.Second),
			Queue:           QueueArray,
			QueueCapacity:   64,
			RejectionPolicy: concurrency.PolicyAbort,
		},
		Signals: map[string]string{
			"SIGTERM": concurrency.CommandShutdown.String(),
			"SIGINT":  concurrency.CommandShutdown.String(),
			"SIGQUIT": concurrency.CommandShutdownNow.String(),
			"SIGUSR1": concurrency.CommandReport.String(),
			"SIGUSR2": concurrency.CommandPurge.String(),
		},
		Metrics: MetricsSection{Path: "/metrics"},
		Tracing: TracingSection{SamplingRatio: 1},
		Log:     LogSection{Level: "info"},
	}
}

// LoadFile reads path over DefaultFile, applies TASKEXEC_* environment
// overrides and validates the result. An empty path skips the file.
func LoadFile(path string) (*File, error) {
	f := DefaultFile()
	if path != "" {
		if err := Load(path, f); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, f); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the file for values the executor or supervisor would reject
func (f *File) Validate() error {
	err := Validate(f,
		RequiredFields("Executor.Name"),
		StringLengthValidator("Executor.Name", 1, 64),
		RangeValidator("Executor.MaxSize", 1, MaxWorkers),
		RangeValidator("Executor.CoreSize", 0, MaxWorkers),
		OneOfValidator("Executor.Queue", QueueArray, QueueLinked),
		RangeValidator("Tracing.SamplingRatio", 0, 1),
		ValidatorFunc(validateExecutor),
		ValidatorFunc(validateSignals),
		ValidatorFunc(validateTasks),
	)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func validateExecutor(config any) error {
	e := config.(*File).Executor
	if e.CoreSize > e.MaxSize {
		return fmt.Errorf("executor core_size %d exceeds max_size %d", e.CoreSize, e.MaxSize)
	}
	if e.KeepAlive < 0 {
		return fmt.Errorf("executor keep_alive %s cannot be negative", e.KeepAlive)
	}
	if e.Queue == QueueArray && e.QueueCapacity <= 0 {
		return fmt.Errorf("executor queue_capacity must be positive for the %s queue", QueueArray)
	}
	if _, err := concurrency.ParseRejectionPolicy(e.RejectionPolicy); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	return nil
}

func validateSignals(config any) error {
	// Sorted for a stable first error.
	names := make([]string, 0, len(config.(*File).Signals))
	for name := range config.(*File).Signals {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := signals.ParseKind(name); err != nil {
			return fmt.Errorf("signals: %w", err)
		}
		action := config.(*File).Signals[name]
		if strings.EqualFold(action, SignalIgnore) {
			continue
		}
		if _, err := concurrency.ParseCommand(action); err != nil {
			return fmt.Errorf("signals %s: %w", name, err)
		}
	}
	return nil
}

func validateTasks(config any) error {
	seen := make(map[string]bool)
	for i, d := range config.(*File).Tasks {
		if d.Name == "" {
			return fmt.Errorf("%w: tasks[%d] has no name", ErrInvalidTask, i)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate task %q", ErrInvalidTask, d.Name)
		}
		seen[d.Name] = true

		if _, err := d.Every(); err != nil {
			return fmt.Errorf("%w %q: %w", ErrInvalidTask, d.Name, err)
		}
		switch d.ThreadAction {
		case ThreadActionKill, ThreadActionReplace, ThreadActionKillProgram:
		default:
			return fmt.Errorf("%w %q: unknown thread_action %q", ErrInvalidTask, d.Name, d.ThreadAction)
		}
		switch d.Command {
		case CommandLog, CommandSleep, CommandFail:
		default:
			return fmt.Errorf("%w %q: unknown command %q", ErrInvalidTask, d.Name, d.Command)
		}
		if err := d.WorkLoad.Increase.validate(); err != nil {
			return fmt.Errorf("%w %q: increase: %w", ErrInvalidTask, d.Name, err)
		}
		if err := d.WorkLoad.Decrease.validate(); err != nil {
			return fmt.Errorf("%w %q: decrease: %w", ErrInvalidTask, d.Name, err)
		}
	}
	return nil
}
