package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxorio/taskexec/pkg/config"
)

const sampleYAML = `
executor:
  name: ingest
  core_size: 1
  max_size: 3
  keep_alive: 45s
  queue: linked
  rejection_policy: caller_runs
signals:
  SIGUSR1: purge
  hup: ignore
tasks:
  - name: heartbeat
    interval: "00:00:05"
    thread_action: replace
    command: log
    work_load:
      increase: {action: add, lower_bound: 0, upper_bound: 10, value: 2}
      decrease: {action: sub, lower_bound: 0, upper_bound: 10, value: 1}
metrics:
  listen: ":9090"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultFile_IsValid(t *testing.T) {
	if err := config.DefaultFile().Validate(); err != nil {
		t.Fatalf("DefaultFile().Validate() = %v", err)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	f, err := config.LoadFile(writeFile(t, "taskexecd.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if f.Executor.Name != "ingest" {
		t.Errorf("Executor.Name = %v, want ingest", f.Executor.Name)
	}
	if f.Executor.KeepAlive.Std() != 45*time.Second {
		t.Errorf("Executor.KeepAlive = %v, want 45s", f.Executor.KeepAlive)
	}
	if f.Executor.Queue != config.QueueLinked {
		t.Errorf("Executor.Queue = %v, want linked", f.Executor.Queue)
	}
	// Unset fields keep their defaults
	if f.Executor.QueueCapacity != 64 {
		t.Errorf("Executor.QueueCapacity = %v, want default 64", f.Executor.QueueCapacity)
	}
	if f.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %v, want /metrics", f.Metrics.Path)
	}

	// Signal entries merge over the defaults
	if got := f.Signals["SIGUSR1"]; got != "purge" {
		t.Errorf("Signals[SIGUSR1] = %v, want purge", got)
	}
	if got := f.Signals["SIGTERM"]; got != "shutdown" {
		t.Errorf("Signals[SIGTERM] = %v, want default shutdown", got)
	}

	if len(f.Tasks) != 1 {
		t.Fatalf("len(Tasks) = %d, want 1", len(f.Tasks))
	}
	every, err := f.Tasks[0].Every()
	if err != nil || every != 5*time.Second {
		t.Errorf("Tasks[0].Every() = %v, %v, want 5s", every, err)
	}
	if f.Tasks[0].WorkLoad.Increase.Value != 2 {
		t.Errorf("WorkLoad.Increase.Value = %v, want 2", f.Tasks[0].WorkLoad.Increase.Value)
	}
}

func TestLoadFile_JSON(t *testing.T) {
	content := `{
  "executor": {"name": "json", "core_size": 0, "max_size": 2, "keep_alive": "1m"},
  "tasks": [{"name": "nap", "interval": "00:01:00", "thread_action": "kill", "command": "sleep", "args": ["100ms"]}]
}`
	f, err := config.LoadFile(writeFile(t, "taskexecd.json", content))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if f.Executor.KeepAlive.Std() != time.Minute {
		t.Errorf("Executor.KeepAlive = %v, want 1m", f.Executor.KeepAlive)
	}
	if f.Executor.CoreSize != 0 {
		t.Errorf("Executor.CoreSize = %v, want 0", f.Executor.CoreSize)
	}
	if len(f.Tasks) != 1 || f.Tasks[0].Args[0] != "100ms" {
		t.Errorf("Tasks = %+v, want one sleep task with args", f.Tasks)
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	t.Setenv("TASKEXEC_EXECUTOR_CORE_SIZE", "3")
	t.Setenv("TASKEXEC_EXECUTOR_KEEP_ALIVE", "5s")
	t.Setenv("TASKEXEC_METRICS_LISTEN", ":9999")

	f, err := config.LoadFile(writeFile(t, "taskexecd.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if f.Executor.CoreSize != 3 {
		t.Errorf("Executor.CoreSize = %v, want 3", f.Executor.CoreSize)
	}
	if f.Executor.KeepAlive.Std() != 5*time.Second {
		t.Errorf("Executor.KeepAlive = %v, want 5s", f.Executor.KeepAlive)
	}
	if f.Metrics.Listen != ":9999" {
		t.Errorf("Metrics.Listen = %v, want :9999", f.Metrics.Listen)
	}
	// File values without an override survive
	if f.Executor.MaxSize != 3 {
		t.Errorf("Executor.MaxSize = %v, want 3", f.Executor.MaxSize)
	}
}

func TestLoadFile_NoPath(t *testing.T) {
	f, err := config.LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if f.Executor.Name != "taskexecd" {
		t.Errorf("Executor.Name = %v, want taskexecd", f.Executor.Name)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile should fail for a missing file")
	}
}

func TestFile_Validate(t *testing.T) {
	validTask := config.TaskDefinition{
		Name:         "t",
		Interval:     "00:00:01",
		ThreadAction: config.ThreadActionReplace,
		Command:      config.CommandLog,
	}

	tests := []struct {
		name     string
		mutate   func(f *config.File)
		wantTask bool
	}{
		{"core above max", func(f *config.File) { f.Executor.CoreSize = 5 }, false},
		{"zero max", func(f *config.File) { f.Executor.MaxSize = 0; f.Executor.CoreSize = 0 }, false},
		{"empty name", func(f *config.File) { f.Executor.Name = "" }, false},
		{"negative keep alive", func(f *config.File) { f.Executor.KeepAlive = -1 }, false},
		{"unknown queue", func(f *config.File) { f.Executor.Queue = "heap" }, false},
		{"array without capacity", func(f *config.File) { f.Executor.QueueCapacity = 0 }, false},
		{"unknown policy", func(f *config.File) { f.Executor.RejectionPolicy = "retry" }, false},
		{"unknown signal", func(f *config.File) { f.Signals["SIGFOO"] = "report" }, false},
		{"reserved wake signal", func(f *config.File) { f.Signals["wake"] = "report" }, false},
		{"unknown signal action", func(f *config.File) { f.Signals["SIGHUP"] = "reload" }, false},
		{"sampling ratio", func(f *config.File) { f.Tracing.SamplingRatio = 2 }, false},
		{"unnamed task", func(f *config.File) {
			d := validTask
			d.Name = ""
			f.Tasks = append(f.Tasks, d)
		}, true},
		{"duplicate task", func(f *config.File) { f.Tasks = append(f.Tasks, validTask, validTask) }, true},
		{"bad interval", func(f *config.File) {
			d := validTask
			d.Interval = "5s"
			f.Tasks = append(f.Tasks, d)
		}, true},
		{"bad thread action", func(f *config.File) {
			d := validTask
			d.ThreadAction = "respawn"
			f.Tasks = append(f.Tasks, d)
		}, true},
		{"bad command", func(f *config.File) {
			d := validTask
			d.Command = "rm"
			f.Tasks = append(f.Tasks, d)
		}, true},
		{"inverted bounds", func(f *config.File) {
			d := validTask
			d.WorkLoad.Increase = config.LoadAdjustment{Action: config.LoadAdd, LowerBound: 5, UpperBound: 1, Value: 1}
			f.Tasks = append(f.Tasks, d)
		}, true},
		{"bad load action", func(f *config.File) {
			d := validTask
			d.WorkLoad.Decrease = config.LoadAdjustment{Action: "mul", UpperBound: 1}
			f.Tasks = append(f.Tasks, d)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := config.DefaultFile()
			tt.mutate(f)
			err := f.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if got := errors.Is(err, config.ErrInvalidTask); got != tt.wantTask {
				t.Errorf("errors.Is(err, ErrInvalidTask) = %v, want %v (err: %v)", got, tt.wantTask, err)
			}
		})
	}

	f := config.DefaultFile()
	f.Tasks = []config.TaskDefinition{validTask}
	f.Signals["SIGHUP"] = "IGNORE"
	if err := f.Validate(); err != nil {
		t.Errorf("Validate() = %v for a valid file", err)
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"00:00:01", time.Second, false},
		{"01:30:00", 90 * time.Minute, false},
		{"23:59:59", 24*time.Hour - time.Second, false},
		{" 00:05:00 ", 5 * time.Minute, false},
		{"00:00:00", 0, true},
		{"24:00:00", 0, true},
		{"00:60:00", 0, true},
		{"0:0:1", 0, true},
		{"00:01", 0, true},
		{"aa:bb:cc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := config.ParseInterval(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseInterval(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			if !errors.Is(err, config.ErrInvalidInterval) {
				t.Errorf("ParseInterval(%q) error = %v, want ErrInvalidInterval", tt.in, err)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("ParseInterval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadAdjustment_Apply(t *testing.T) {
	inc := config.LoadAdjustment{Action: config.LoadAdd, LowerBound: 0, UpperBound: 10, Value: 4}
	dec := config.LoadAdjustment{Action: config.LoadSub, LowerBound: 2, UpperBound: 10, Value: 3}

	tests := []struct {
		name  string
		adj   config.LoadAdjustment
		level int
		want  int
	}{
		{"add", inc, 1, 5},
		{"add clamps to upper", inc, 8, 10},
		{"sub", dec, 9, 6},
		{"sub clamps to lower", dec, 4, 2},
		{"empty is a no-op", config.LoadAdjustment{}, 7, 7},
	}

	for _, tt := range tests {
		if got := tt.adj.Apply(tt.level); got != tt.want {
			t.Errorf("%s: Apply(%d) = %d, want %d", tt.name, tt.level, got, tt.want)
		}
	}
}

func TestSaveYAML_RoundTripsDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	in := config.DefaultFile()
	in.Executor.KeepAlive = config.Duration(90 * time.Second)
	if err := config.SaveYAML(path, in); err != nil {
		t.Fatalf("SaveYAML failed: %v", err)
	}

	out, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if out.Executor.KeepAlive != in.Executor.KeepAlive {
		t.Errorf("KeepAlive = %v, want %v", out.Executor.KeepAlive, in.Executor.KeepAlive)
	}
}
