package hooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRunner(t *testing.T, hooks ...Hook) *Runner {
	t.Helper()
	r, err := NewRunner(hooks, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

var profileChange = Event{Namespace: namespace.UserProfile, Owner: "alice", Changed: []string{"n", "p"}}

func TestHook_Validate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		hook    Hook
		wantErr bool
	}{
		{"minimal", Hook{Command: "true"}, false},
		{"full", Hook{Command: "true", Namespace: "userprofile", Owner: "alice", Timeout: "5s", OnFailure: OnFailureStop}, false},
		{"wire code namespace", Hook{Command: "true", Namespace: "11"}, false},
		{"empty command", Hook{Command: "  "}, true},
		{"unknown namespace", Hook{Command: "true", Namespace: "contacts"}, true},
		{"bad timeout", Hook{Command: "true", Timeout: "soon"}, true},
		{"bad on_failure", Hook{Command: "true", OnFailure: "block"}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.hook.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRunner_NoChangesRunsNothing(t *testing.T) {
	r := newRunner(t, Hook{Command: "exit 1"})
	rep := r.Handle(context.Background(), Event{Namespace: namespace.UserProfile, Owner: "alice"})
	if rep.Ran != 0 || len(rep.Warnings) != 0 {
		t.Errorf("report = %+v, want nothing run", rep)
	}
}

func TestRunner_Matching(t *testing.T) {
	r := newRunner(t,
		Hook{Command: "true"},
		Hook{Command: "true", Namespace: "UserProfile"},
		Hook{Command: "true", Namespace: "closedgroupinfo"},
		Hook{Command: "true", Owner: "bob"},
		Hook{Command: "true", Namespace: "2", Owner: "alice"},
	)
	if r.Len() != 5 {
		t.Fatalf("Len = %d", r.Len())
	}
	rep := r.Handle(context.Background(), profileChange)
	if rep.Ran != 3 {
		t.Errorf("Ran = %d, want 3", rep.Ran)
	}
}

func TestRunner_EnvAndOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.txt")
	r := newRunner(t, Hook{
		Command: `printf '%s|%s|%s|%s' "$CONFSYNC_NAMESPACE" "$CONFSYNC_NAMESPACE_CODE" "$CONFSYNC_OWNER" "$CONFSYNC_CHANGED" > ` + out,
	})
	rep := r.Handle(context.Background(), profileChange)
	if rep.Ran != 1 || len(rep.Warnings) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "UserProfile|2|alice|n,p"; got != want {
		t.Errorf("hook saw %q, want %q", got, want)
	}
}

func TestRunner_OnFailure(t *testing.T) {
	for _, tc := range []struct {
		name        string
		onFailure   string
		wantRan     int
		wantStopped bool
		wantWarn    int
	}{
		{"warn by default", "", 2, false, 1},
		{"warn", OnFailureWarn, 2, false, 1},
		{"ignore", OnFailureIgnore, 2, false, 0},
		{"stop", OnFailureStop, 1, true, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRunner(t,
				Hook{Command: "echo broken >&2; exit 3", OnFailure: tc.onFailure},
				Hook{Command: "true"},
			)
			rep := r.Handle(context.Background(), profileChange)
			if rep.Ran != tc.wantRan {
				t.Errorf("Ran = %d, want %d", rep.Ran, tc.wantRan)
			}
			if rep.Stopped != tc.wantStopped {
				t.Errorf("Stopped = %v, want %v", rep.Stopped, tc.wantStopped)
			}
			if len(rep.Warnings) != tc.wantWarn {
				t.Errorf("Warnings = %v, want %d", rep.Warnings, tc.wantWarn)
			}
			if tc.wantStopped && !strings.Contains(rep.Reason, "broken") {
				t.Errorf("Reason = %q, want hook output", rep.Reason)
			}
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	start := time.Now()
	res := Execute(context.Background(), "sleep 5", 100*time.Millisecond, nil)
	var te *TimeoutError
	if !errors.As(res.Err, &te) || te.After != 100*time.Millisecond {
		t.Fatalf("Err = %v, want TimeoutError", res.Err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Execute took %s, timeout not applied", elapsed)
	}
}

func TestExecute_StderrFallback(t *testing.T) {
	res := Execute(context.Background(), "echo only-stderr >&2", 0, nil)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Output != "only-stderr" {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestExecute_OutputCapped(t *testing.T) {
	res := Execute(context.Background(), "head -c 10000 /dev/zero | tr '\\0' x", 0, nil)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Output) != maxOutput {
		t.Errorf("len(Output) = %d, want %d", len(res.Output), maxOutput)
	}
}
