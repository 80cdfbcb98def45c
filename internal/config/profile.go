package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/confsync/internal/hooks"
)

// Client transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Profile is a device's local settings, stored as TOML.
type Profile struct {
	Device    string `toml:"device"`
	Identity  string `toml:"identity"`
	ServerURL string `toml:"server_url"`
	Transport string `toml:"transport,omitempty"`
	Token     string `toml:"token,omitempty"`
	NATSURL   string `toml:"nats_url,omitempty"`
	// StateDir holds the dump database. Defaults to "state" next to the
	// profile.
	StateDir string `toml:"state_dir,omitempty"`
	// Keys maps an owner to its hex-encoded keys, sealing key first.
	Keys map[string][]string `toml:"keys,omitempty"`
	// Hooks run after a sync changes a config.
	Hooks []hooks.Hook `toml:"hooks,omitempty"`
}

// ErrNoProfile is returned by LoadProfile when no profile exists yet.
var ErrNoProfile = errors.New("no profile; run `cs init`")

// DefaultProfilePath returns ~/.local/state/confsync/profile.toml, or
// $CONFSYNC_PROFILE when set.
func DefaultProfilePath() (string, error) {
	if p := os.Getenv("CONFSYNC_PROFILE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "confsync", "profile.toml"), nil
}

// LoadProfile reads the profile at path.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoProfile
		}
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	if p.Keys == nil {
		p.Keys = map[string][]string{}
	}
	if p.Transport == "" {
		p.Transport = TransportHTTP
	}
	if p.StateDir == "" {
		p.StateDir = filepath.Join(filepath.Dir(path), "state")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// Save writes the profile to path with owner-only permissions.
func (p *Profile) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(p)
}

// Validate checks required fields and key encodings.
func (p *Profile) Validate() error {
	if p.Device == "" {
		return errors.New("device is required")
	}
	if p.Identity == "" {
		return errors.New("identity is required")
	}
	switch p.Transport {
	case TransportHTTP, TransportGRPC:
	default:
		return fmt.Errorf("unknown transport %q", p.Transport)
	}
	for _, h := range p.Hooks {
		if err := h.Validate(); err != nil {
			return err
		}
	}
	for owner, keys := range p.Keys {
		for i, k := range keys {
			if _, err := hex.DecodeString(k); err != nil {
				return fmt.Errorf("key %d for %s: %w", i, owner, err)
			}
		}
	}
	return nil
}

// OwnerKeys returns the decoded keys for owner, sealing key first.
func (p *Profile) OwnerKeys(owner string) ([][]byte, error) {
	var out [][]byte
	for _, k := range p.Keys[owner] {
		b, err := hex.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("key for %s: %w", owner, err)
		}
		out = append(out, b)
	}
	return out, nil
}
