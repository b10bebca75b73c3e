package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/dsstore/pkg/provider"
)

// storeOpener returns the service behind a command tree.
type storeOpener func() (versionedStore, error)

func newListCommand(noun string, withFormat bool, open storeOpener) *cobra.Command {
	var (
		filter     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List every %s", noun),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			entities, err := store.List(cmd.Context(), filter).Collect(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				views := make([]entityView, len(entities))
				for i, e := range entities {
					views[i] = entityViewOf(e)
				}
				return writeJSON(cmd.OutOrStdout(), views)
			}
			printEntities(cmd.OutOrStdout(), entities, withFormat)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Store-side filter, e.g. labels.team=core")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDescribeCommand(noun string, open storeOpener) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "describe <id>",
		Short: fmt.Sprintf("Show a %s with its version counts", noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			d, err := store.Describe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				out := struct {
					entityView
					Versions  int          `json:"versions"`
					Enabled   int          `json:"enabled"`
					Disabled  int          `json:"disabled"`
					Destroyed int          `json:"destroyed"`
					Latest    *versionView `json:"latest,omitempty"`
				}{
					entityView: entityViewOf(d.Entity),
					Versions:   d.VersionCount,
					Enabled:    d.EnabledCount,
					Disabled:   d.DisabledCount,
					Destroyed:  d.DestroyedCount,
				}
				if d.Latest != nil {
					v := viewOf(*d.Latest)
					out.Latest = &v
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			printDescription(cmd.OutOrStdout(), d)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDeleteCommand(noun string, open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: fmt.Sprintf("Delete one or more %ss with all their versions", noun),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ deleted %s\n", args[0])
				return nil
			}
			return printBatch(cmd.OutOrStdout(), "deleted", store.DeleteBatch(cmd.Context(), args))
		},
	}
}

func newVersionsCommand(noun string, open storeOpener) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "versions <id>",
		Short: fmt.Sprintf("List the versions of a %s, newest first", noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			versions, err := store.ListVersions(cmd.Context(), args[0]).Collect(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				views := make([]versionView, len(versions))
				for i, v := range versions {
					views[i] = viewOf(v)
				}
				return writeJSON(cmd.OutOrStdout(), views)
			}
			printVersions(cmd.OutOrStdout(), versions)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// newStateCommands returns enable, disable and destroy.
func newStateCommands(noun string, open storeOpener) []*cobra.Command {
	type transition struct {
		use, short, done string
		target           provider.State
	}
	transitions := []transition{
		{"enable", "Enable a %s version", "enabled", provider.StateEnabled},
		{"disable", "Disable a %s version; it can be enabled again", "disabled", provider.StateDisabled},
		{"destroy", "Irreversibly destroy a %s version payload", "destroyed", provider.StateDestroyed},
	}

	cmds := make([]*cobra.Command, 0, len(transitions))
	for _, tr := range transitions {
		cmds = append(cmds, &cobra.Command{
			Use:   tr.use + " <id> <version>",
			Short: fmt.Sprintf(tr.short, noun),
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := open()
				if err != nil {
					return err
				}
				var v provider.Version
				switch tr.target {
				case provider.StateEnabled:
					v, err = store.EnableVersion(cmd.Context(), args[0], args[1])
				case provider.StateDisabled:
					v, err = store.DisableVersion(cmd.Context(), args[0], args[1])
				default:
					v, err = store.DestroyVersion(cmd.Context(), args[0], args[1])
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ %s %s version %s (%s)\n", tr.done, args[0], v.ID, v.State)
				return nil
			},
		})
	}
	return cmds
}
