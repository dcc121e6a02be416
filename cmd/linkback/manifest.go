package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/linkback/internal/manifest"
	"github.com/bamsammich/linkback/internal/ui"
)

func newManifestCmd() *cobra.Command {
	var metaOnly bool
	cmd := &cobra.Command{
		Use:   "manifest <snapshot>",
		Short: "List the manifest recorded beside a snapshot",
		Long: `manifest prints the run metadata and the entries recorded for a snapshot.
<snapshot> is the snapshot directory or the manifest file itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listManifest(cmd.OutOrStdout(), args[0], metaOnly)
		},
	}
	cmd.Flags().BoolVar(&metaOnly, "meta", false, "print only the run metadata and entry count")
	return cmd
}

var metaKeys = []string{
	manifest.MetaSchema,
	manifest.MetaSource,
	manifest.MetaReference,
	manifest.MetaCompare,
	manifest.MetaStarted,
	manifest.MetaFinished,
}

func listManifest(w io.Writer, target string, metaOnly bool) error {
	path := target
	if !strings.HasSuffix(target, ".manifest.db") {
		path = manifest.PathFor(target)
	}
	store, err := manifest.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, k := range metaKeys {
		v, ok, err := store.Meta(k)
		if err != nil {
			return err
		}
		if ok && v != "" {
			fmt.Fprintf(w, "%-10s %s\n", k, v)
		}
	}
	n, err := store.Len()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-10s %s\n", "entries", ui.FormatCount(int64(n)))
	if metaOnly {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tMODE\tSIZE\tMODIFIED\tHOW\tPATH")
	err = store.Records(func(r manifest.Record) error {
		how := "copied"
		switch {
		case r.Linked:
			how = "linked"
		case r.Type != manifest.TypeFile:
			how = "-"
		}
		path := r.Path
		if r.Hash != "" {
			path += "  " + r.Hash[:min(12, len(r.Hash))]
		}
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Type, r.Mode.Perm(), ui.FormatBytes(r.Size),
			r.ModTime.UTC().Format(time.RFC3339), how, path)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Flush()
}
