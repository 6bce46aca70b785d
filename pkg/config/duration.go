package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInterval is returned for task intervals that are not HH:MM:SS
var ErrInvalidInterval = errors.New("invalid interval")

// Duration is a time.Duration that reads and writes as text ("30s", "1m")
// in both YAML and JSON files
type Duration time.Duration

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// ParseInterval parses an interval written as HH:MM:SS with a 24 hour clock.
// The interval must be positive.
func ParseInterval(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w %q: want HH:MM:SS", ErrInvalidInterval, s)
	}

	limits := [3]int{23, 59, 59}
	units := [3]time.Duration{time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("%w %q: want HH:MM:SS", ErrInvalidInterval, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w %q: field %q out of range", ErrInvalidInterval, s, p)
		}
		total += time.Duration(n) * units[i]
	}

	if total == 0 {
		return 0, fmt.Errorf("%w %q: must be positive", ErrInvalidInterval, s)
	}
	return total, nil
}
