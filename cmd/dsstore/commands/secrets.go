package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/dsstore/internal/secure"
	"github.com/systmms/dsstore/pkg/secrets"
)

// NewSecretsCommand creates the parent 'secrets' command
func NewSecretsCommand(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets and their versions",
		Long: `Create, read and retire secrets in the configured secret store.

Secret payloads are opaque bytes. Every write creates a new immutable
version; versions move between ENABLED and DISABLED and can be destroyed.

Examples:
  dsstore secrets create db-password --stdin < password.txt
  dsstore secrets get db-password
  dsstore secrets add-version db-password --file new.txt --name rotated-2024
  dsstore secrets disable db-password 1`,
	}

	open := func() (versionedStore, error) { return rt.Secrets() }

	cmd.AddCommand(
		newSecretsCreateCommand(rt),
		newSecretsGetCommand(rt),
		newSecretsAddVersionCommand(rt),
		newListCommand("secret", false, open),
		newDescribeCommand("secret", open),
		newDeleteCommand("secret", open),
		newVersionsCommand("secret", open),
	)
	cmd.AddCommand(newStateCommands("secret", open)...)

	return reportStoreErrors(secrets.Store, cmd)
}

func newSecretsCreateCommand(rt *Runtime) *cobra.Command {
	var (
		in          valueInput
		labels      []string
		versionName string
	)

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a secret, optionally with its first version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lbls, err := parseLabels(labels)
			if err != nil {
				return err
			}
			var payload []byte
			if in.given() {
				if payload, err = in.read(cmd); err != nil {
					return err
				}
				defer secure.Wipe(payload)
			}

			svc, err := rt.Secrets()
			if err != nil {
				return err
			}
			created, err := svc.Create(cmd.Context(), args[0], payload,
				secrets.WithLabels(lbls), secrets.WithVersionName(versionName))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ created %s\n", created.Entity.Path)
			if created.Version != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  version %s\n", created.Version.ID)
			}
			return nil
		},
	}

	in.register(cmd)
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Label as key=value (repeatable)")
	cmd.Flags().StringVar(&versionName, "version-name", "", "Custom name for the first version")
	return cmd
}

func newSecretsGetCommand(rt *Runtime) *cobra.Command {
	var (
		versionID  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a secret payload",
		Long: `Print the payload of one secret version to stdout.

By default the newest ENABLED version is read. The raw payload is printed
without a trailing newline, suitable for scripting:

  export DB_PASSWORD=$(dsstore secrets get db-password)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.Secrets()
			if err != nil {
				return err
			}
			v, err := svc.GetVersion(cmd.Context(), args[0], versionID)
			if err != nil {
				return err
			}
			defer secure.Wipe(v.Payload)

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), struct {
					versionView
					Value string `json:"value"`
				}{viewOf(v), string(v.Payload)})
			}
			_, err = cmd.OutOrStdout().Write(v.Payload)
			return err
		},
	}

	cmd.Flags().StringVar(&versionID, "version", "latest", "Version ID, custom name or 'latest'")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output metadata and value as JSON")
	return cmd
}

func newSecretsAddVersionCommand(rt *Runtime) *cobra.Command {
	var (
		in   valueInput
		name string
	)

	cmd := &cobra.Command{
		Use:   "add-version <id>",
		Short: "Add a new version to an existing secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := in.read(cmd)
			if err != nil {
				return err
			}
			defer secure.Wipe(payload)

			svc, err := rt.Secrets()
			if err != nil {
				return err
			}
			v, err := svc.AddVersion(cmd.Context(), args[0], payload, name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ added %s version %s\n", args[0], v.ID)
			return nil
		},
	}

	in.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Custom version name")
	return cmd
}
