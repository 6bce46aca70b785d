package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fatalConfig = `
executor:
  name: e2e
  core_size: 1
  max_size: 2
tasks:
  - name: doomed
    interval: "00:00:01"
    thread_action: kill_program
    command: fail
log:
  level: error
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskexecd.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     func(t *testing.T) []string
		wantErr  bool
		contains string
	}{
		{
			name:     "defaults without a file",
			args:     func(t *testing.T) []string { return []string{"validate"} },
			contains: "executor taskexecd: core=2 max=4",
		},
		{
			name: "file with tasks",
			args: func(t *testing.T) []string {
				return []string{"validate", "--config", writeConfig(t, fatalConfig)}
			},
			contains: "task doomed: every 1s, fail, on failure kill_program",
		},
		{
			name: "invalid file",
			args: func(t *testing.T) []string {
				return []string{"validate", "-c", writeConfig(t, "executor:\n  core_size: 9\n  max_size: 1\n")}
			},
			wantErr:  true,
			contains: "core_size 9 exceeds max_size 1",
		},
		{
			name:     "invalid log level flag",
			args:     func(t *testing.T) []string { return []string{"validate", "--log-level", "loud"} },
			wantErr:  true,
			contains: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args(t)...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate error = %v, wantErr %v\n%s", err, tt.wantErr, out)
			}
			if !strings.Contains(out, tt.contains) {
				t.Errorf("output %q does not contain %q", out, tt.contains)
			}
		})
	}
}

func TestValidateCommand_ConfigFromEnv(t *testing.T) {
	t.Setenv("TASKEXEC_CONFIG", writeConfig(t, fatalConfig))
	out, err := execute(t, "validate")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "executor e2e") {
		t.Errorf("output %q should describe executor e2e", out)
	}
}

func TestSignalCommand_Errors(t *testing.T) {
	if _, err := execute(t, "signal", "bogus", "--pid", "1"); err == nil {
		t.Error("signal should reject an unknown signal name")
	}
	if _, err := execute(t, "signal", "usr1"); err == nil {
		t.Error("signal should require --pid")
	}
	if _, err := execute(t, "signal"); err == nil {
		t.Error("signal should require a name")
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	cmd := newRootCmd()
	path := writeConfig(t, fatalConfig)
	if err := cmd.ParseFlags([]string{"--config", path, "--log-json", "--metrics-listen", ":0"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}

	o := &options{configPath: path, logJSON: true, metricsListen: ":0"}
	f, err := loadConfig(cmd.Flags(), o)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if !f.Log.JSON {
		t.Error("Log.JSON should be set by --log-json")
	}
	if f.Metrics.Listen != ":0" {
		t.Errorf("Metrics.Listen = %q, want :0", f.Metrics.Listen)
	}
	// Not set on the command line, so the file wins
	if f.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want error", f.Log.Level)
	}
}

func TestRun_KillProgramTaskStopsDaemon(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var logs bytes.Buffer
	cmd := newRootCmd()
	cmd.SetErr(&logs)
	cmd.SetArgs([]string{"--config", writeConfig(t, fatalConfig)})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("taskexecd failed: %v\n%s", err, logs.String())
	}
	if ctx.Err() != nil {
		t.Fatal("taskexecd only stopped at the test deadline")
	}
	if !strings.Contains(logs.String(), "shutting down") {
		t.Errorf("logs should report the kill_program shutdown:\n%s", logs.String())
	}
}
