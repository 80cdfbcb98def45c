package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

var syncCmd = &cobra.Command{
	Use:   "sync [namespace]",
	Short: "Fetch, merge, and push configs",
	Long: `Sync fetches every blob the server holds for a config, merges them into
local state, and pushes local edits. Without a namespace every known
namespace of the owner is synced.`,
	GroupID: "sync",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			ctx := cmd.Context()
			if err := openAll(ctx, s, args); err != nil {
				return err
			}
			results, err := s.engine.SyncAll(ctx)
			s.runHooks(ctx, results)
			if jsonOutput {
				if perr := printJSON(cmd.OutOrStdout(), results); perr != nil {
					return perr
				}
			} else {
				printSyncResults(cmd.OutOrStdout(), results)
			}
			return err
		})
	},
}

// openAll opens the configs named by args, or every registered namespace
// when args is empty, for the current owner.
func openAll(ctx context.Context, s *session, args []string) error {
	if len(args) > 0 {
		_, err := s.open(ctx, args[0])
		return err
	}
	for _, ns := range ownerNamespaces(owner, profile.Identity) {
		if _, err := s.engine.Open(ctx, ns, owner); err != nil {
			return err
		}
	}
	return nil
}

// ownerNamespaces picks the namespaces a bare sync of o covers: identity
// namespaces when o is the profile identity, group namespaces otherwise.
func ownerNamespaces(o, identity string) []namespace.Namespace {
	want := namespace.ScopeGroup
	if o == identity {
		want = namespace.ScopeIdentity
	}
	var out []namespace.Namespace
	for _, ns := range namespace.All() {
		if ns.Scope() == want {
			out = append(out, ns)
		}
	}
	return out
}
