package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fluxorio/taskexec/pkg/config"
	"github.com/fluxorio/taskexec/pkg/core"
)

var (
	ErrUnknownCommand = errors.New("unknown task command")
	ErrCommandFailed  = errors.New("task command failed")
)

const defaultSleep = 100 * time.Millisecond

type invocation struct {
	task   string
	run    int64
	load   int
	args   []string
	logger core.Logger
}

type commandFunc func(ctx context.Context, inv invocation) error

// lookupCommand resolves the built-in command of def and checks its args
func lookupCommand(def config.TaskDefinition) (commandFunc, error) {
	switch def.Command {
	case config.CommandLog:
		return logCommand, nil
	case config.CommandSleep:
		d := defaultSleep
		if len(def.Args) > 0 {
			v, err := time.ParseDuration(def.Args[0])
			if err != nil {
				return nil, fmt.Errorf("sleep duration: %w", err)
			}
			d = v
		}
		return sleepCommand(d), nil
	case config.CommandFail:
		return failCommand, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCommand, def.Command)
	}
}

func logCommand(_ context.Context, inv invocation) error {
	msg := strings.Join(inv.args, " ")
	if msg == "" {
		msg = "tick"
	}
	inv.logger.Infof("task %s: run %d load %d: %s", inv.task, inv.run, inv.load, msg)
	return nil
}

func sleepCommand(d time.Duration) commandFunc {
	return func(ctx context.Context, inv invocation) error {
		inv.logger.Debugf("task %s: run %d load %d sleeping %v", inv.task, inv.run, inv.load, d)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func failCommand(_ context.Context, inv invocation) error {
	reason := strings.Join(inv.args, " ")
	if reason == "" {
		reason = "requested"
	}
	return fmt.Errorf("%w: %s run %d: %s", ErrCommandFailed, inv.task, inv.run, reason)
}
