package signals

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Kind is a process signal the Manager can dispatch
type Kind int

const (
	KindHangup Kind = iota + 1
	KindInterrupt
	KindQuit
	KindAbort
	KindUser1
	KindUser2
	KindAlarm
	KindChild
	KindContinue
	KindTerminate

	// KindWake is reserved for waking the dispatch loop. It cannot be bound or raised.
	KindWake
)

var kindInfo = map[Kind]struct {
	name   string
	signal syscall.Signal
}{
	KindHangup:    {"hangup", unix.SIGHUP},
	KindInterrupt: {"interrupt", unix.SIGINT},
	KindQuit:      {"quit", unix.SIGQUIT},
	KindAbort:     {"abort", unix.SIGABRT},
	KindUser1:     {"user1", unix.SIGUSR1},
	KindUser2:     {"user2", unix.SIGUSR2},
	KindAlarm:     {"alarm", unix.SIGALRM},
	KindChild:     {"child", unix.SIGCHLD},
	KindContinue:  {"continue", unix.SIGCONT},
	KindTerminate: {"terminate", unix.SIGTERM},
}

// Kinds returns every bindable kind in declaration order
func Kinds() []Kind {
	return []Kind{
		KindHangup, KindInterrupt, KindQuit, KindAbort, KindUser1,
		KindUser2, KindAlarm, KindChild, KindContinue, KindTerminate,
	}
}

// Valid reports whether k is a bindable kind
func (k Kind) Valid() bool {
	_, ok := kindInfo[k]
	return ok
}

func (k Kind) String() string {
	if k == KindWake {
		return "wake"
	}
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Signal returns the OS signal for k, or nil for KindWake and unknown kinds
func (k Kind) Signal() os.Signal {
	if info, ok := kindInfo[k]; ok {
		return info.signal
	}
	return nil
}

// SignalName returns the conventional name such as "SIGTERM"
func (k Kind) SignalName() string {
	if info, ok := kindInfo[k]; ok {
		return unix.SignalName(info.signal)
	}
	return k.String()
}

// KindOf maps an OS signal to its Kind. Unknown signals map to 0.
func KindOf(sig os.Signal) Kind {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return 0
	}
	for k, info := range kindInfo {
		if info.signal == s {
			return k
		}
	}
	return 0
}

// ParseKind accepts kind names ("terminate", "user1") as well as signal
// names with or without the SIG prefix ("SIGUSR1", "usr1")
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k, info := range kindInfo {
		if info.name == n {
			return k, nil
		}
	}

	sigName := strings.ToUpper(n)
	if !strings.HasPrefix(sigName, "SIG") {
		sigName = "SIG" + sigName
	}
	if sig := unix.SignalNum(sigName); sig != 0 {
		if k := KindOf(sig); k != 0 {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}
