// Command cs reads, edits, and syncs confsync configs from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/config"
	"github.com/alfredjeanlab/confsync/internal/ui"
)

var (
	profilePath string
	owner       string
	jsonOutput  bool
	transport   string
	verbose     bool

	profile *config.Profile
	logger  *slog.Logger
)

func defaultProfilePath() string {
	p, err := config.DefaultProfilePath()
	if err != nil {
		return "profile.toml"
	}
	return p
}

func setupLogger() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadProfile reads the profile and applies the global flag overrides.
func loadProfile() error {
	p, err := config.LoadProfile(profilePath)
	if err != nil {
		return err
	}
	if transport != "" {
		p.Transport = transport
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if owner == "" {
		owner = p.Identity
	}
	profile = p
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "cs",
	Short: "Read, edit, and sync confsync configs",
	Long: `cs keeps this device's copy of each config in a local state directory
and syncs it with the other devices through a confsync blob server.

Namespaces are given by name (userprofile, closedgroupinfo) or wire code.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		if !ui.ColorEnabled(os.Stdout) {
			ui.DisableColor()
		}
		return loadProfile()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", defaultProfilePath(), "path to the device profile")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "config owner (default: the profile identity)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "server transport: http or grpc (default: from profile)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "config", Title: "Configs:"},
		&cobra.Group{ID: "sync", Title: "Syncing:"},
		&cobra.Group{ID: "device", Title: "Device:"},
	)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(healthCmd)

	rootCmd.SetHelpFunc(colorizedHelpFunc())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
