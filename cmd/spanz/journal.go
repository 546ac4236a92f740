package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zoobzio/spanz"
	"github.com/zoobzio/spanz/internal/config"
)

// journalFlags holds the flags for the journal command.
type journalFlags struct {
	file       string
	traceID    string
	errorsOnly bool
	asJSON     bool
}

func newJournalCmd() *cobra.Command {
	var opts journalFlags

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print spans from a journal file",
		Long: `Read a journal file written by "spanz serve" and print its spans.

Records are printed in file order, which is the order spans finished.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.file == "" {
				opts.file = config.LoadOrDefault().Trace.JournalPath
			}
			return printJournal(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Journal file (default from SPANZ_JOURNAL)")
	cmd.Flags().StringVarP(&opts.traceID, "trace-id", "t", "", "Only print spans of this trace")
	cmd.Flags().BoolVarP(&opts.errorsOnly, "errors", "e", false, "Only print errored spans")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print one JSON object per line")
	return cmd
}

func printJournal(w io.Writer, opts journalFlags) error {
	f, err := os.Open(opts.file)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	// A torn last record still leaves the records before it readable.
	spans, readErr := spanz.ReadJournal(f)

	enc := json.NewEncoder(w)
	for i := range spans {
		span := &spans[i]
		if opts.traceID != "" && span.TraceID != opts.traceID {
			continue
		}
		if opts.errorsOnly && !span.Errored {
			continue
		}

		if opts.asJSON {
			if err := enc.Encode(span); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintln(w, span.String()); err != nil {
			return err
		}
	}
	if readErr != nil {
		return fmt.Errorf("%s: %w", opts.file, readErr)
	}
	return nil
}
