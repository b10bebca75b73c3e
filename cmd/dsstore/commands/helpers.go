package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/dsstore/internal/errors"
	"github.com/systmms/dsstore/internal/facade"
	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/listing"
	"github.com/systmms/dsstore/pkg/provider"
)

// versionedStore is the part of the Secret and Parameter Services that the
// two command trees share.
type versionedStore interface {
	Describe(ctx context.Context, id string) (facade.Description, error)
	List(ctx context.Context, filter string) *listing.Iterator[provider.Entity]
	Delete(ctx context.Context, id string) error
	DeleteBatch(ctx context.Context, ids []string) listing.BatchResult
	ListVersions(ctx context.Context, id string) *listing.Iterator[provider.Version]
	EnableVersion(ctx context.Context, id, versionID string) (provider.Version, error)
	DisableVersion(ctx context.Context, id, versionID string) (provider.Version, error)
	DestroyVersion(ctx context.Context, id, versionID string) (provider.Version, error)
}

// reportStoreErrors makes every subcommand of parent turn a failed store
// call into a UserError naming the store and the command.
func reportStoreErrors(store string, parent *cobra.Command) *cobra.Command {
	for _, sub := range parent.Commands() {
		run, name := sub.RunE, sub.Name()
		if run == nil {
			continue
		}
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if err == nil || errors.As(err, new(dserrors.UserError)) || !errors.As(err, new(*errkind.Error)) {
				return err
			}
			return dserrors.StoreError(store, name, err)
		}
	}
	return parent
}

// valueInput collects a payload from exactly one of --value, --file or
// --stdin.
type valueInput struct {
	value string
	file  string
	stdin bool
}

func (in *valueInput) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&in.value, "value", "", "Payload given inline (visible in shell history)")
	cmd.Flags().StringVar(&in.file, "file", "", "Read the payload from a file")
	cmd.Flags().BoolVar(&in.stdin, "stdin", false, "Read the payload from standard input")
}

func (in *valueInput) given() bool {
	return in.value != "" || in.file != "" || in.stdin
}

func (in *valueInput) read(cmd *cobra.Command) ([]byte, error) {
	n := 0
	for _, set := range []bool{in.value != "", in.file != "", in.stdin} {
		if set {
			n++
		}
	}
	switch {
	case n == 0:
		return nil, dserrors.UserError{
			Message:    "No payload given",
			Suggestion: "Use --value, --file <path> or --stdin",
		}
	case n > 1:
		return nil, dserrors.UserError{
			Message:    "Conflicting payload flags",
			Suggestion: "Use only one of --value, --file and --stdin",
		}
	case in.file != "":
		data, err := os.ReadFile(in.file)
		if err != nil {
			return nil, dserrors.SimplifyError(err)
		}
		return data, nil
	case in.stdin:
		return io.ReadAll(cmd.InOrStdin())
	default:
		return []byte(in.value), nil
	}
}

func parseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, dserrors.UserError{
				Message:    fmt.Sprintf("Invalid label %q", pair),
				Suggestion: "Use --label key=value",
			}
		}
		labels[k] = v
	}
	return labels, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, ",")
}

func printEntities(w io.Writer, entities []provider.Entity, withFormat bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if withFormat {
		_, _ = fmt.Fprintf(tw, "NAME\tFORMAT\tCREATED\tLABELS\n")
	} else {
		_, _ = fmt.Fprintf(tw, "NAME\tCREATED\tLABELS\n")
	}
	for _, e := range entities {
		if withFormat {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Path.ID, e.Format, formatTime(e.CreateTime), formatLabels(e.Labels))
		} else {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Path.ID, formatTime(e.CreateTime), formatLabels(e.Labels))
		}
	}
	_ = tw.Flush()
}

func printVersions(w io.Writer, versions []provider.Version) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "VERSION\tSEQUENCE\tSTATE\tCREATED\n")
	for _, v := range versions {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", v.ID, v.Sequence, v.State, formatTime(v.CreateTime))
	}
	_ = tw.Flush()
}

// versionView is the JSON shape of a version. Payloads are never included.
type versionView struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Sequence    int64  `json:"sequence"`
	State       string `json:"state"`
	CreateTime  string `json:"create_time,omitempty"`
	DestroyTime string `json:"destroy_time,omitempty"`
}

func viewOf(v provider.Version) versionView {
	out := versionView{
		Name:     v.Entity.VersionName(v.ID),
		ID:       v.ID,
		Sequence: v.Sequence,
		State:    string(v.State),
	}
	if !v.CreateTime.IsZero() {
		out.CreateTime = v.CreateTime.UTC().Format(time.RFC3339)
	}
	if !v.DestroyTime.IsZero() {
		out.DestroyTime = v.DestroyTime.UTC().Format(time.RFC3339)
	}
	return out
}

type entityView struct {
	Name       string            `json:"name"`
	ID         string            `json:"id"`
	Format     string            `json:"format,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	CreateTime string            `json:"create_time,omitempty"`
}

func entityViewOf(e provider.Entity) entityView {
	out := entityView{Name: e.Path.String(), ID: e.Path.ID, Labels: e.Labels}
	if e.Path.Kind == provider.KindParameter {
		out.Format = string(e.Format)
	}
	if !e.CreateTime.IsZero() {
		out.CreateTime = e.CreateTime.UTC().Format(time.RFC3339)
	}
	return out
}

func printDescription(w io.Writer, d facade.Description) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Name:\t%s\n", d.Entity.Path)
	if d.Entity.Path.Kind == provider.KindParameter {
		_, _ = fmt.Fprintf(tw, "Format:\t%s\n", d.Entity.Format)
	}
	_, _ = fmt.Fprintf(tw, "Created:\t%s\n", formatTime(d.Entity.CreateTime))
	_, _ = fmt.Fprintf(tw, "Labels:\t%s\n", formatLabels(d.Entity.Labels))
	_, _ = fmt.Fprintf(tw, "Versions:\t%d (enabled %d, disabled %d, destroyed %d)\n",
		d.VersionCount, d.EnabledCount, d.DisabledCount, d.DestroyedCount)
	latest := "-"
	if d.Latest != nil {
		latest = d.Latest.ID
	}
	_, _ = fmt.Fprintf(tw, "Latest:\t%s\n", latest)
	_ = tw.Flush()
}

func printBatch(w io.Writer, verb string, res listing.BatchResult) error {
	for _, id := range res.Succeeded {
		_, _ = fmt.Fprintf(w, "✓ %s %s\n", verb, id)
	}
	failed := make([]string, 0, len(res.Failed))
	for id := range res.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		_, _ = fmt.Fprintf(w, "✗ %s: %s\n", id, res.Failed[id])
	}
	if !res.OK() {
		return dserrors.UserError{
			Message:    fmt.Sprintf("%d of %d items failed", len(res.Failed), res.Total()),
			Suggestion: "Run with --debug for details on each failure",
		}
	}
	return nil
}
