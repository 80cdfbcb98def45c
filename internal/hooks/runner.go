package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// OnFailure values for Hook.OnFailure.
const (
	OnFailureWarn   = "warn"
	OnFailureIgnore = "ignore"
	OnFailureStop   = "stop" // skip the remaining hooks for this change
)

// Hook is a command run after a sync changes a matching config. It is
// stored in the device profile as a [[hooks]] table. Namespace and Owner
// narrow which changes run the hook; empty matches any.
type Hook struct {
	Command   string `toml:"command"`
	Namespace string `toml:"namespace,omitempty"`
	Owner     string `toml:"owner,omitempty"`
	Timeout   string `toml:"timeout,omitempty"`
	OnFailure string `toml:"on_failure,omitempty"`
}

// Validate checks the hook's fields.
func (h Hook) Validate() error {
	if strings.TrimSpace(h.Command) == "" {
		return errors.New("hook command is required")
	}
	if h.Namespace != "" {
		if _, err := namespace.Parse(h.Namespace); err != nil {
			return fmt.Errorf("hook %q: %w", h.Command, err)
		}
	}
	if h.Timeout != "" {
		if _, err := time.ParseDuration(h.Timeout); err != nil {
			return fmt.Errorf("hook %q: timeout: %w", h.Command, err)
		}
	}
	switch h.OnFailure {
	case "", OnFailureWarn, OnFailureIgnore, OnFailureStop:
	default:
		return fmt.Errorf("hook %q: unknown on_failure %q", h.Command, h.OnFailure)
	}
	return nil
}

// Event is a sync that changed visible values of one config.
type Event struct {
	Namespace namespace.Namespace
	Owner     string
	Changed   []string
}

// Env returns the variables a hook command sees for e.
func (e Event) Env() map[string]string {
	return map[string]string{
		"CONFSYNC_NAMESPACE":      e.Namespace.String(),
		"CONFSYNC_NAMESPACE_CODE": strconv.Itoa(int(e.Namespace.WireCode())),
		"CONFSYNC_OWNER":          e.Owner,
		"CONFSYNC_CHANGED":        strings.Join(e.Changed, ","),
	}
}

// Report is the aggregated result of running the hooks for one event.
type Report struct {
	Ran      int      `json:"ran"`
	Stopped  bool     `json:"stopped,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type compiled struct {
	Hook
	ns      namespace.Namespace
	anyNS   bool
	timeout time.Duration
}

func (c compiled) matches(e Event) bool {
	if !c.anyNS && c.ns != e.Namespace {
		return false
	}
	return c.Owner == "" || c.Owner == e.Owner
}

// Runner runs the configured hooks, in order, for each change.
type Runner struct {
	hooks  []compiled
	logger *slog.Logger
}

// NewRunner validates hooks and returns a runner for them.
func NewRunner(hooks []Hook, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{logger: logger}
	for _, h := range hooks {
		if err := h.Validate(); err != nil {
			return nil, err
		}
		c := compiled{Hook: h, anyNS: h.Namespace == ""}
		if !c.anyNS {
			c.ns, _ = namespace.Parse(h.Namespace)
		}
		if h.Timeout != "" {
			c.timeout, _ = time.ParseDuration(h.Timeout)
		}
		r.hooks = append(r.hooks, c)
	}
	return r, nil
}

// Len returns the number of configured hooks.
func (r *Runner) Len() int { return len(r.hooks) }

// Handle runs every hook matching e. Failures are reported according to
// each hook's OnFailure; a failing "stop" hook ends the run.
func (r *Runner) Handle(ctx context.Context, e Event) Report {
	var rep Report
	if len(e.Changed) == 0 {
		return rep
	}
	env := e.Env()
	for _, h := range r.hooks {
		if !h.matches(e) {
			continue
		}
		result := Execute(ctx, h.Command, h.timeout, env)
		rep.Ran++
		r.logger.Debug("ran change hook", "command", h.Command,
			"namespace", e.Namespace, "owner", e.Owner, "ok", result.Err == nil)
		if result.Err == nil {
			continue
		}
		switch h.OnFailure {
		case OnFailureIgnore:
		case OnFailureStop:
			rep.Stopped = true
			rep.Reason = fmt.Sprintf("hook %q failed: %v: %s", h.Command, result.Err, result.Output)
			return rep
		default:
			rep.Warnings = append(rep.Warnings,
				fmt.Sprintf("hook %q failed: %v: %s", h.Command, result.Err, result.Output))
		}
	}
	return rep
}
