// Package presence tracks which devices have recently pushed to the blob
// server.
//
// The server calls RecordPush after every accepted push or compaction. A
// background reaper marks devices idle past a threshold as gone and later
// evicts them so ephemeral devices do not accumulate.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// Entry is one device's presence as reported by /v1/devices.
type Entry struct {
	Device    string    `json:"device"`
	LastSeen  time.Time `json:"last_seen"`
	FirstSeen time.Time `json:"first_seen"`
	LastOwner string    `json:"last_owner,omitempty"`
	LastNS    string    `json:"last_namespace,omitempty"`
	Owners    []string  `json:"owners"`
	IdleSecs  float64   `json:"idle_secs"`
	PushCount int64     `json:"push_count"`
	Reaped    bool      `json:"reaped,omitempty"`
	ReapedAt  time.Time `json:"reaped_at,omitempty"`
}

// Push is what the server knows about one accepted push.
type Push struct {
	Device    string
	Namespace namespace.Namespace
	Owner     string
}

// ReaperConfig configures the background reaper.
type ReaperConfig struct {
	// DeadThreshold is how long a device must be idle before it is marked
	// gone. Default: 15 minutes.
	DeadThreshold time.Duration

	// EvictAfter is how long after being reaped a device is dropped from
	// the roster. Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 60 seconds.
	SweepInterval time.Duration

	// OnGone is called for each device newly marked gone, outside the lock.
	OnGone func(device string)

	Logger *slog.Logger
}

// Tracker maintains an in-memory roster of devices.
type Tracker struct {
	mu      sync.RWMutex
	devices map[string]*deviceState

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type deviceState struct {
	firstSeen time.Time
	lastSeen  time.Time
	lastOwner string
	lastNS    namespace.Namespace
	owners    map[string]struct{}
	pushCount int64
	reaped    bool
	reapedAt  time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{devices: make(map[string]*deviceState)}
}

// RecordPush marks p.Device as seen now. Pushes without a device id are
// ignored.
func (t *Tracker) RecordPush(p Push) {
	if p.Device == "" {
		return
	}

	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.devices[p.Device]
	if !ok {
		state = &deviceState{firstSeen: now, owners: make(map[string]struct{})}
		t.devices[p.Device] = state
	}
	if state.reaped {
		slog.Info("presence: device returned", "device", p.Device)
		state.reaped = false
		state.reapedAt = time.Time{}
	}

	state.lastSeen = now
	state.lastOwner = p.Owner
	state.lastNS = p.Namespace
	state.owners[p.Owner] = struct{}{}
	state.pushCount++
}

// Roster returns every tracked device, most recently active first.
// Devices idle longer than staleThreshold are left out; pass 0 to include
// all of them.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	entries := make([]Entry, 0, len(t.devices))
	for device, state := range t.devices {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		owners := make([]string, 0, len(state.owners))
		for o := range state.owners {
			owners = append(owners, o)
		}
		sort.Strings(owners)

		entries = append(entries, Entry{
			Device:    device,
			LastSeen:  state.lastSeen,
			FirstSeen: state.firstSeen,
			LastOwner: state.lastOwner,
			LastNS:    state.lastNS.String(),
			Owners:    owners,
			IdleSecs:  idle.Seconds(),
			PushCount: state.pushCount,
			Reaped:    state.reaped,
			ReapedAt:  state.reapedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// StartReaper launches the reaper goroutine. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.DeadThreshold == 0 {
		cfg.DeadThreshold = 15 * time.Minute
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	cfg.Logger.Info("presence: reaper started",
		"dead_threshold", cfg.DeadThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg, time.Now())
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig, now time.Time) {
	var gone []string

	t.mu.Lock()
	for device, state := range t.devices {
		if state.reaped {
			if !state.reapedAt.IsZero() && now.Sub(state.reapedAt) > cfg.EvictAfter {
				delete(t.devices, device)
			}
			continue
		}
		if now.Sub(state.lastSeen) > cfg.DeadThreshold {
			state.reaped = true
			state.reapedAt = now
			gone = append(gone, device)
		}
	}
	t.mu.Unlock()

	for _, device := range gone {
		cfg.Logger.Info("presence: device gone", "device", device, "threshold", cfg.DeadThreshold)
		if cfg.OnGone != nil {
			cfg.OnGone(device)
		}
	}
}
