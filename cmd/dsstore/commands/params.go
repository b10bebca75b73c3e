package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/dsstore/internal/errors"
	"github.com/systmms/dsstore/internal/secure"
	"github.com/systmms/dsstore/pkg/parameters"
	"github.com/systmms/dsstore/pkg/provider"
)

// NewParamsCommand creates the parent 'params' command
func NewParamsCommand(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "params",
		Aliases: []string{"parameters"},
		Short:   "Manage parameters and their versions",
		Long: `Create, read and render parameters in the configured parameter store.

A parameter declares a format (UNFORMATTED, JSON or YAML) when it is
created. Every version is checked against that format, and against a
JSON Schema when one is configured under parameters.schemas.

Values may reference secrets with ${secret.projects/P/secrets/S/versions/V}.
'render' replaces each reference with the secret payload.

Examples:
  dsstore params create app-config --format json --file config.json
  dsstore params get app-config
  dsstore params render app-config --version 3`,
	}

	open := func() (versionedStore, error) { return rt.Parameters() }

	cmd.AddCommand(
		newParamsCreateCommand(rt),
		newParamsGetCommand(rt, "get", "Print a parameter value", false),
		newParamsGetCommand(rt, "render", "Print a parameter value with secret references resolved", true),
		newParamsAddVersionCommand(rt),
		newListCommand("parameter", true, open),
		newDescribeCommand("parameter", open),
		newDeleteCommand("parameter", open),
		newVersionsCommand("parameter", open),
	)
	cmd.AddCommand(newStateCommands("parameter", open)...)

	return reportStoreErrors(parameters.Store, cmd)
}

func newParamsCreateCommand(rt *Runtime) *cobra.Command {
	var (
		in          valueInput
		format      string
		labels      []string
		versionName string
	)

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a parameter, optionally with its first version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormatFlag(format)
			if err != nil {
				return err
			}
			lbls, err := parseLabels(labels)
			if err != nil {
				return err
			}
			val := parameters.Value{Format: f}
			if in.given() {
				if val.Data, err = in.read(cmd); err != nil {
					return err
				}
			}

			svc, err := rt.Parameters()
			if err != nil {
				return err
			}
			created, err := svc.Create(cmd.Context(), args[0], val,
				parameters.WithLabels(lbls), parameters.WithVersionName(versionName))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ created %s (%s)\n", created.Entity.Path, created.Entity.Format)
			if created.Version != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  version %s\n", created.Version.ID)
			}
			return nil
		},
	}

	in.register(cmd)
	cmd.Flags().StringVar(&format, "format", "unformatted", "Value format: unformatted, json or yaml")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Label as key=value (repeatable)")
	cmd.Flags().StringVar(&versionName, "version-name", "", "Custom name for the first version")
	return cmd
}

// newParamsGetCommand builds 'get' and 'render', which differ only in
// whether secret references are resolved.
func newParamsGetCommand(rt *Runtime, use, short string, render bool) *cobra.Command {
	var (
		versionID  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.Parameters()
			if err != nil {
				return err
			}
			var val parameters.Value
			if render {
				val, err = svc.Render(cmd.Context(), args[0], versionID)
			} else {
				val, err = svc.GetValue(cmd.Context(), args[0], versionID)
			}
			if err != nil {
				return err
			}
			if render {
				// Rendered values carry secret payloads.
				defer secure.Wipe(val.Data)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), struct {
					ID     string `json:"id"`
					Format string `json:"format"`
					Value  string `json:"value"`
				}{args[0], string(val.Format), val.String()})
			}
			_, err = cmd.OutOrStdout().Write(val.Data)
			return err
		},
	}

	cmd.Flags().StringVar(&versionID, "version", "latest", "Version ID, custom name or 'latest'")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output format and value as JSON")
	return cmd
}

func newParamsAddVersionCommand(rt *Runtime) *cobra.Command {
	var (
		in     valueInput
		name   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "add-version <id>",
		Short: "Add a new version to an existing parameter",
		Long: `Add a new version to an existing parameter.

The value is checked against --format and, when configured, the parameter's
JSON Schema before anything is written. Without --format the parameter's
declared format is looked up first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := in.read(cmd)
			if err != nil {
				return err
			}

			svc, err := rt.Parameters()
			if err != nil {
				return err
			}

			var f provider.Format
			if cmd.Flags().Changed("format") {
				if f, err = parseFormatFlag(format); err != nil {
					return err
				}
			} else {
				e, err := svc.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				f = e.Format
			}

			v, err := svc.AddVersion(cmd.Context(), args[0], parameters.Value{Format: f, Data: data}, name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ added %s version %s\n", args[0], v.ID)
			return nil
		},
	}

	in.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Custom version name")
	cmd.Flags().StringVar(&format, "format", "", "Value format: unformatted, json or yaml (default: the parameter's format)")
	return cmd
}

func parseFormatFlag(s string) (provider.Format, error) {
	f, ok := provider.ParseFormat(s)
	if !ok {
		return "", dserrors.UserError{
			Message:    fmt.Sprintf("Unknown format %q", s),
			Suggestion: "Use --format unformatted, json or yaml",
		}
	}
	return f, nil
}
