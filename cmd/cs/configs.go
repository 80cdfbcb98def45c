package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/engine"
	"github.com/alfredjeanlab/confsync/internal/model"
	"github.com/alfredjeanlab/confsync/internal/namespace"
)

var getCmd = &cobra.Command{
	Use:     "get <namespace> <key>",
	Short:   "Print one config value",
	GroupID: "config",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		return withSession(func(s *session) error {
			ctx := cmd.Context()
			h, err := s.open(ctx, args[0])
			if err != nil {
				return err
			}
			if !local {
				if err := pull(ctx, h); err != nil {
					return err
				}
			}
			v, ok := h.Read(args[1])
			if !ok {
				return fmt.Errorf("%s: key %q not set", h.Namespace(), args[1])
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), v)
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.String())
			return nil
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <namespace> <key> <value>",
	Short: "Set a config value and push it",
	Long: `Set a config value. The value is parsed according to --type; blobs are
given in hex. The change is pushed immediately unless --no-sync is set, in
which case it is kept locally until the next sync.`,
	GroupID: "config",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		noSync, _ := cmd.Flags().GetBool("no-sync")
		kind, err := model.ParseKind(typ)
		if err != nil {
			return err
		}
		v, err := model.ParseValue(kind, args[2])
		if err != nil {
			return err
		}
		return withSession(func(s *session) error {
			h, err := s.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := h.Write(args[1], v); err != nil {
				return err
			}
			return afterEdit(cmd, h, noSync)
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <namespace> <key>",
	Short:   "Remove a config value",
	GroupID: "config",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		noSync, _ := cmd.Flags().GetBool("no-sync")
		return withSession(func(s *session) error {
			h, err := s.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := h.Delete(args[1]); err != nil {
				return err
			}
			return afterEdit(cmd, h, noSync)
		})
	},
}

var showCmd = &cobra.Command{
	Use:     "show <namespace>",
	Short:   "Show every value of a config",
	GroupID: "config",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		return withSession(func(s *session) error {
			ctx := cmd.Context()
			h, err := s.open(ctx, args[0])
			if err != nil {
				return err
			}
			if !local {
				if err := pull(ctx, h); err != nil {
					return err
				}
			}
			c := describe(h)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), c)
			}
			printConfig(cmd.OutOrStdout(), c)
			return nil
		})
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <namespace>",
	Short: "Delete a config locally and on the server",
	Long: `Forget removes a config for the current owner: the local copy and every
blob the server holds for it. Other devices keep their copies until they
forget it too.`,
	GroupID: "config",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := namespace.Parse(args[0])
		if err != nil {
			return err
		}
		return withSession(func(s *session) error {
			if err := s.engine.Remove(cmd.Context(), ns, owner); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s for %s\n", ns, owner)
			return nil
		})
	},
}

// afterEdit pushes h unless noSync, then reports where the edit stands.
func afterEdit(cmd *cobra.Command, h *engine.Handle, noSync bool) error {
	out := editResult{Namespace: h.Namespace().String(), Owner: h.Owner()}
	if !noSync {
		res, err := h.Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("edit saved locally, push failed: %w", err)
		}
		out.Sync = &res
	}
	out.State = h.State()
	out.Seqno = h.Seqno()
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s\n", out.Namespace, out.Owner, stateLabel(out.State, out.Seqno))
	return nil
}

func init() {
	getCmd.Flags().Bool("local", false, "read local state without syncing first")
	showCmd.Flags().Bool("local", false, "read local state without syncing first")

	setCmd.Flags().StringP("type", "t", "string", "value type: string, int, bool, or blob (hex)")
	setCmd.Flags().Bool("no-sync", false, "keep the edit local until the next sync")
	rmCmd.Flags().Bool("no-sync", false, "keep the edit local until the next sync")
}
