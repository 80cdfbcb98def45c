package main

import (
	"encoding/hex"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/config"
	"github.com/alfredjeanlab/confsync/internal/crypt"
	"github.com/alfredjeanlab/confsync/internal/ui"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the encryption keys of an owner",
	Long: `Keys are kept in the profile per owner. The first key seals new pushes;
every key is tried when reading. Keys are local: devices of the same owner
must be given the same keys.`,
	GroupID: "device",
}

var keyAddCmd = &cobra.Command{
	Use:   "add [hex-key]",
	Short: "Add a key (generated when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		high, _ := cmd.Flags().GetBool("high")
		var (
			key []byte
			err error
		)
		if len(args) == 1 {
			key, err = hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("key: %w", err)
			}
		} else if key, err = crypt.GenerateKey(); err != nil {
			return err
		}
		err = editKeys(profile, owner, func(kr *crypt.Keyring) error {
			return kr.Add(key, high)
		})
		if err != nil {
			return err
		}
		if err := profile.Save(profilePath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added key %s for %s\n", hex.EncodeToString(key), owner)
		return nil
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's keys, sealing key first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := profile.Keys[owner]
		if jsonOutput {
			if keys == nil {
				keys = []string{}
			}
			return printJSON(cmd.OutOrStdout(), keys)
		}
		if len(keys) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no keys for %s\n", owner)
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for i, k := range keys {
			role := ""
			if i == 0 {
				role = ui.RenderAccent("sealing")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i, k, role)
		}
		return tw.Flush()
	},
}

var keyRemoveCmd = &cobra.Command{
	Use:   "remove <hex-key>",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("key: %w", err)
		}
		err = editKeys(profile, owner, func(kr *crypt.Keyring) error {
			if !kr.Remove(key) {
				return fmt.Errorf("%s has no key %s", owner, args[0])
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := profile.Save(profilePath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed key for %s\n", owner)
		return nil
	},
}

// editKeys loads o's keys from p into a keyring, applies fn, and stores
// the resulting order back. An owner left without keys is dropped.
func editKeys(p *config.Profile, o string, fn func(*crypt.Keyring) error) error {
	keys, err := p.OwnerKeys(o)
	if err != nil {
		return err
	}
	kr, err := crypt.NewKeyring(keys...)
	if err != nil {
		return fmt.Errorf("keys for %s: %w", o, err)
	}
	if err := fn(kr); err != nil {
		return err
	}
	out := kr.Keys()
	if len(out) == 0 {
		delete(p.Keys, o)
		return nil
	}
	encoded := make([]string, len(out))
	for i, k := range out {
		encoded[i] = hex.EncodeToString(k)
	}
	if p.Keys == nil {
		p.Keys = map[string][]string{}
	}
	p.Keys[o] = encoded
	return nil
}

func init() {
	keyAddCmd.Flags().Bool("high", false, "make this the sealing key")

	keyCmd.AddCommand(keyAddCmd)
	keyCmd.AddCommand(keyListCmd)
	keyCmd.AddCommand(keyRemoveCmd)
}
