package concurrency

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Command is a control message for an executor
type Command int

const (
	// CommandShutdown triggers Shutdown
	CommandShutdown Command = iota + 1
	// CommandShutdownNow triggers ShutdownNow
	CommandShutdownNow
	// CommandPurge triggers PurgeCancelled
	CommandPurge
	// CommandReport logs executor and worker status
	CommandReport
)

func (c Command) String() string {
	switch c {
	case CommandShutdown:
		return "shutdown"
	case CommandShutdownNow:
		return "shutdown_now"
	case CommandPurge:
		return "purge"
	case CommandReport:
		return "report"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// ParseCommand converts a command name to a Command
func ParseCommand(name string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "shutdown":
		return CommandShutdown, nil
	case "shutdown_now":
		return CommandShutdownNow, nil
	case "purge":
		return CommandPurge, nil
	case "report":
		return CommandReport, nil
	default:
		return 0, fmt.Errorf("unknown command %q", name)
	}
}

// Control applies commands from mb until the executor terminates, the
// mailbox is closed or ctx is done. Only the last case returns an error.
func (e *ThreadManager) Control(ctx context.Context, mb Mailbox[Command]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-e.terminated:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		cmd, err := mb.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrMailboxClosed) || e.IsTerminated() {
				return nil
			}
			return err
		}
		e.Apply(cmd)
	}
}

// Apply runs a single control command
func (e *ThreadManager) Apply(cmd Command) {
	e.logger.Debugf("executor %s: control command %s", e.name, cmd)
	switch cmd {
	case CommandShutdown:
		e.Shutdown()
	case CommandShutdownNow:
		if pending := e.ShutdownNow(); !pending.IsEmpty() {
			e.logger.Warnf("executor %s: %d queued tasks never started", e.name, pending.Size())
		}
	case CommandPurge:
		e.PurgeCancelled()
	case CommandReport:
		e.Report()
	default:
		e.logger.Warnf("executor %s: ignoring unknown control command %s", e.name, cmd)
	}
}
