package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/client"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Short:   "List devices the server has seen push",
	GroupID: "device",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, _ := cmd.Flags().GetDuration("stale")
		if profile.Transport != client.TransportHTTP {
			return fmt.Errorf("devices needs the http transport (profile uses %s)", profile.Transport)
		}
		c := client.NewHTTPClient(client.Options{
			Addr:   profile.ServerURL,
			Token:  profile.Token,
			Device: profile.Device,
		})
		entries, err := c.Devices(cmd.Context(), stale)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		printDevices(cmd.OutOrStdout(), entries, profile.Device)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the blob server is reachable",
	GroupID: "device",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(profile.Transport, client.Options{
			Addr:   profile.ServerURL,
			Token:  profile.Token,
			Device: profile.Device,
		})
		if err != nil {
			return err
		}
		defer c.Close()
		status, err := c.Health(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"status": status, "server": profile.ServerURL})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", profile.ServerURL, status)
		return nil
	},
}

func init() {
	devicesCmd.Flags().Duration("stale", 0, "hide devices idle longer than this (0 shows all)")
}
