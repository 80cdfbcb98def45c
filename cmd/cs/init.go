package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/config"
	"github.com/alfredjeanlab/confsync/internal/crypt"
	"github.com/alfredjeanlab/confsync/internal/idgen"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create this device's profile",
	Long: `Create a profile for this device: a fresh device id and, unless --key is
given, a fresh key for the identity. To add a second device for the same
identity, pass the first device's key with --key.`,
	GroupID: "device",
	Args:    cobra.NoArgs,
	// No profile exists yet.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, _ := cmd.Flags().GetString("identity")
		serverURL, _ := cmd.Flags().GetString("server")
		natsURL, _ := cmd.Flags().GetString("nats")
		token, _ := cmd.Flags().GetString("token")
		keyHex, _ := cmd.Flags().GetString("key")
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			if _, err := os.Stat(profilePath); err == nil {
				return fmt.Errorf("profile already exists at %s (use --force to replace it)", profilePath)
			}
		}
		p, err := newProfile(identity, transport, serverURL, keyHex)
		if err != nil {
			return err
		}
		p.NATSURL = natsURL
		p.Token = token
		if err := p.Save(profilePath); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"profile":  profilePath,
				"device":   p.Device,
				"identity": p.Identity,
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created profile %s\n  device:   %s\n  identity: %s\n  server:   %s (%s)\n",
			profilePath, p.Device, p.Identity, p.ServerURL, p.Transport)
		return nil
	},
}

// newProfile builds a profile with a new device id. An empty keyHex
// generates the identity's first key.
func newProfile(identity, tr, serverURL, keyHex string) (*config.Profile, error) {
	if identity == "" {
		return nil, errors.New("--identity is required")
	}
	if tr == "" {
		tr = config.TransportHTTP
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
		if tr == config.TransportGRPC {
			serverURL = "localhost:9090"
		}
	}
	device, err := idgen.DeviceID()
	if err != nil {
		return nil, err
	}
	var key []byte
	if keyHex != "" {
		key, err = hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("--key: %w", err)
		}
		if len(key) != crypt.KeySize {
			return nil, fmt.Errorf("--key: %w", crypt.ErrBadKey)
		}
	} else if key, err = crypt.GenerateKey(); err != nil {
		return nil, err
	}
	p := &config.Profile{
		Device:    device,
		Identity:  identity,
		ServerURL: serverURL,
		Transport: tr,
		Keys:      map[string][]string{identity: {hex.EncodeToString(key)}},
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func init() {
	initCmd.Flags().String("identity", "", "identity (owner) this device acts for")
	initCmd.Flags().String("server", "", "blob server URL (http) or host:port (grpc)")
	initCmd.Flags().String("nats", "", "NATS URL for change notifications")
	initCmd.Flags().String("token", "", "bearer token for the blob server")
	initCmd.Flags().String("key", "", "existing identity key in hex (default: generate one)")
	initCmd.Flags().Bool("force", false, "replace an existing profile")
}
