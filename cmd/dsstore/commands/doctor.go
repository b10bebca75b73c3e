package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/dsstore/internal/config"
	dserrors "github.com/systmms/dsstore/internal/errors"
	"github.com/systmms/dsstore/pkg/errkind"
)

// StoreHealth is the outcome of checking one configured store.
type StoreHealth struct {
	Name        string
	Type        string
	Status      string // healthy, error
	Message     string
	Latency     time.Duration
	Suggestions []string
}

// NewDoctorCommand creates the 'doctor' command
func NewDoctorCommand(rt *Runtime) *cobra.Command {
	var (
		verbose bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and store connectivity",
		Long: `Verify that dsstore is properly configured and both stores are reachable.

This command checks:
- Configuration file validity
- Store type support
- Credentials and connectivity, with one liveness round-trip per store`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rt.Config.Logger
			log.Info("Checking dsstore configuration...")
			def, err := rt.Definition()
			if err != nil {
				log.Error("Configuration error: %v", err)
				return err
			}
			if rt.Config.Path != "" {
				log.Info("✓ Configuration loaded from %s (project %s, location %s)", rt.Config.Path, def.Project, def.Location)
			} else {
				log.Info("✓ Using defaults (project %s, location %s)", def.Project, def.Location)
			}

			names := make([]string, 0, len(def.Stores))
			for name := range def.Stores {
				names = append(names, name)
			}
			sort.Strings(names)

			results := make([]StoreHealth, 0, len(names))
			for _, name := range names {
				results = append(results, checkStore(cmd.Context(), rt, def, name, timeout))
			}

			displayHealthResults(cmd.OutOrStdout(), results, verbose)

			healthy := 0
			for _, r := range results {
				if r.Status == "healthy" {
					healthy++
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nSummary: %d/%d stores healthy\n", healthy, len(results))
			if healthy < len(results) {
				return dserrors.UserError{
					Message:    "Some stores are not healthy",
					Suggestion: "Run 'dsstore doctor --verbose' for suggestions",
				}
			}

			log.Info("✓ All systems operational!")
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show suggestions for unhealthy stores")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Time limit for each store check")
	return cmd
}

func checkStore(ctx context.Context, rt *Runtime, def *config.Definition, name string, timeout time.Duration) StoreHealth {
	sc := def.Stores[name]
	h := StoreHealth{Name: name, Type: sc.Type}

	if !rt.Registry.IsSupported(sc.Type) {
		h.Status = "error"
		h.Message = fmt.Sprintf("unsupported store type %q", sc.Type)
		h.Suggestions = []string{fmt.Sprintf("Supported types: %v", rt.Registry.GetSupportedTypes())}
		return h
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := pingStore(ctx, rt, name)
	h.Latency = time.Since(start)
	if err != nil {
		h.Status = "error"
		h.Message = err.Error()
		h.Suggestions = []string{errkind.Suggestion(errkind.KindOf(err))}
		if sc.CredentialsFile == "" && sc.Keyring == nil && sc.ImpersonateServiceAccount == "" {
			h.Suggestions = append(h.Suggestions, "Using application default credentials. Run: gcloud auth application-default login")
		}
		return h
	}
	h.Status = "healthy"
	h.Message = "Store is ready"
	return h
}

// displayHealthResults shows store health in a formatted table
func displayHealthResults(out io.Writer, results []StoreHealth, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "STORE\tTYPE\tSTATUS\tLATENCY\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t----\t------\t-------\t-------\n")

	for _, r := range results {
		status := r.Status
		switch r.Status {
		case "healthy":
			status = "✓ " + status
		case "error":
			status = "✗ " + status
		}
		latency := "-"
		if r.Latency > 0 {
			latency = r.Latency.Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Type, status, latency, r.Message)
	}
	_ = w.Flush()

	if !verbose {
		return
	}
	for _, r := range results {
		if r.Status == "error" && len(r.Suggestions) > 0 {
			_, _ = fmt.Fprintf(out, "\n%s (%s) suggestions:\n", r.Name, r.Type)
			for _, s := range r.Suggestions {
				_, _ = fmt.Fprintf(out, "  • %s\n", s)
			}
		}
	}
}
