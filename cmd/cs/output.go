package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/confsync/internal/engine"
	"github.com/alfredjeanlab/confsync/internal/model"
	"github.com/alfredjeanlab/confsync/internal/presence"
	"github.com/alfredjeanlab/confsync/internal/ui"
)

// editResult is what set and rm report.
type editResult struct {
	Namespace string             `json:"namespace"`
	Owner     string             `json:"owner"`
	State     string             `json:"state"`
	Seqno     uint64             `json:"seqno"`
	Sync      *engine.SyncResult `json:"sync,omitempty"`
}

// configView is the printable state of one config.
type configView struct {
	Namespace string                 `json:"namespace"`
	Owner     string                 `json:"owner"`
	State     string                 `json:"state"`
	Seqno     uint64                 `json:"seqno"`
	Keys      []string               `json:"keys"`
	Values    map[string]model.Value `json:"values"`
}

func describe(h *engine.Handle) configView {
	snap := h.Snapshot()
	c := configView{
		Namespace: h.Namespace().String(),
		Owner:     h.Owner(),
		State:     h.State(),
		Seqno:     h.Seqno(),
		Keys:      snap.Keys(),
		Values:    make(map[string]model.Value),
	}
	for _, k := range c.Keys {
		v, _ := snap.Get(k)
		c.Values[k] = v
	}
	return c
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// stateLabel renders a push state, with the seqno once anything was pushed.
func stateLabel(state string, seqno uint64) string {
	label := ui.RenderState(state)
	if seqno > 0 {
		label += ui.RenderMuted(fmt.Sprintf(" (seqno %d)", seqno))
	}
	return label
}

func printConfig(w io.Writer, c configView) {
	fmt.Fprintf(w, "%s %s  %s\n", ui.RenderAccent(c.Namespace), c.Owner, stateLabel(c.State, c.Seqno))
	if len(c.Keys) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("  (empty)"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range c.Keys {
		v := c.Values[k]
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", k, ui.RenderMuted(v.Kind().String()), v.String())
	}
	tw.Flush()
}

func printSyncResults(w io.Writer, results []engine.SyncResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no configs to sync")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tOWNER\tFETCHED\tSKIPPED\tCHANGED\tPUSHED")
	for _, r := range results {
		pushed := "-"
		switch {
		case r.Compacted:
			pushed = "compacted"
		case r.Pushed:
			pushed = fmt.Sprintf("#%d", r.Seqno)
		}
		changed := "-"
		if len(r.Changed) > 0 {
			changed = strings.Join(r.Changed, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", r.Namespace, r.Owner, r.Fetched, r.Skipped, changed, pushed)
	}
	tw.Flush()
}

func printDevices(w io.Writer, entries []presence.Entry, self string) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no devices seen")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tLAST SEEN\tIDLE\tPUSHES\tOWNERS")
	for _, e := range entries {
		device := e.Device
		if e.Device == self {
			device += " " + ui.RenderMuted("(this device)")
		}
		idle := fmt.Sprintf("%.0fs", e.IdleSecs)
		if e.Reaped {
			idle += " " + ui.RenderMuted("(gone)")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", device, e.LastSeen.Format("2006-01-02 15:04:05"),
			idle, e.PushCount, strings.Join(e.Owners, ","))
	}
	tw.Flush()
}
