// Package hooks runs user commands after a sync changes a config, so local
// tools can react to edits made on other devices.
package hooks

import (
	"context"
	"errors"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 5 * time.Minute

	// maxOutput caps how much of a hook's output is kept for reports.
	maxOutput = 4 << 10
)

// Result is the outcome of one hook command.
type Result struct {
	Output   string
	Err      error
	Duration time.Duration
}

// Execute runs command through "sh -c" with the process environment plus
// env. A zero timeout means DefaultTimeout; longer than MaxTimeout is
// clamped. Output is stdout, or stderr when stdout is empty.
func Execute(ctx context.Context, command string, timeout time.Duration, env map[string]string) Result {
	timeout = min(max(timeout, 0), MaxTimeout)
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command) //nolint:gosec // commands come from the user's own profile
	cmd.Env = os.Environ()
	for _, k := range slices.Sorted(maps.Keys(env)) {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}
	var stdout, stderr capped
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	// Children of sh may hold the pipes open after a timeout kill.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{Output: stdout.String(), Err: err, Duration: time.Since(start)}
	if res.Output == "" {
		res.Output = stderr.String()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Err = &TimeoutError{Command: command, After: timeout}
	}
	return res
}

// TimeoutError is returned when a hook outlives its timeout.
type TimeoutError struct {
	Command string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return "timed out after " + e.After.String()
}

// capped keeps the first maxOutput bytes written to it.
type capped struct{ b strings.Builder }

func (c *capped) Write(p []byte) (int, error) {
	if room := maxOutput - c.b.Len(); room > 0 {
		c.b.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func (c *capped) String() string { return strings.TrimSpace(c.b.String()) }
