package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/engine"
	"github.com/alfredjeanlab/confsync/internal/namespace"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Short:   "Read or change the user profile config",
	GroupID: "config",
}

var profileNameCmd = &cobra.Command{
	Use:   "name [value]",
	Short: "Print or set the display name (\"\" clears it)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserProfile(cmd, func(p engine.UserProfile) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), p.Name())
				return nil
			}
			if err := p.SetName(args[0]); err != nil {
				return err
			}
			return afterEdit(cmd, p.Handle(), false)
		})
	},
}

var profilePicCmd = &cobra.Command{
	Use:   "pic [url hex-key]",
	Short: "Print or set the profile picture (no arguments prints it)",
	Long: `Print or set the profile picture. Setting takes the download URL and the
32-byte decryption key in hex. Pass --clear to remove the picture.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearPic, _ := cmd.Flags().GetBool("clear")
		if len(args) == 1 {
			return fmt.Errorf("pic needs both a url and a key")
		}
		return withUserProfile(cmd, func(p engine.UserProfile) error {
			if clearPic {
				if err := p.SetPic(engine.Pic{}); err != nil {
					return err
				}
				return afterEdit(cmd, p.Handle(), false)
			}
			if len(args) == 0 {
				pic := p.Pic()
				if pic.URL == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "no picture set")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", pic.URL, hex.EncodeToString(pic.Key))
				return nil
			}
			key, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("key: %w", err)
			}
			if err := p.SetPic(engine.Pic{URL: args[0], Key: key}); err != nil {
				return err
			}
			return afterEdit(cmd, p.Handle(), false)
		})
	},
}

// withUserProfile opens and pulls the current owner's user profile.
func withUserProfile(cmd *cobra.Command, fn func(engine.UserProfile) error) error {
	return withSession(func(s *session) error {
		ctx := cmd.Context()
		h, err := s.engine.Open(ctx, namespace.UserProfile, owner)
		if err != nil {
			return err
		}
		if err := pull(ctx, h); err != nil {
			return err
		}
		p, err := engine.NewUserProfile(h)
		if err != nil {
			return err
		}
		return fn(p)
	})
}

func init() {
	profilePicCmd.Flags().Bool("clear", false, "remove the picture")

	profileCmd.AddCommand(profileNameCmd)
	profileCmd.AddCommand(profilePicCmd)
}
