package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/logdict/backend/internal/dictstore"
)

func newInspectCmd() *cobra.Command {
	var (
		top      int
		minCount int64
	)

	cmd := &cobra.Command{
		Use:   "inspect DB",
		Short: "Show the most frequent entries of a dictionary database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), cmd.OutOrStdout(), args[0], top, minCount)
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 20, "number of pairs and triples to show")
	cmd.Flags().Int64Var(&minCount, "min-count", 1, "hide entries seen fewer times")
	return cmd
}

func runInspect(ctx context.Context, out io.Writer, path string, top int, minCount int64) error {
	db, err := dictstore.OpenReadOnly(path, dictstore.Options{})
	if err != nil {
		return err
	}
	defer db.Close()

	meta, err := db.Meta(ctx)
	if err != nil {
		return err
	}
	vocab, err := db.VocabularySize(ctx)
	if err != nil {
		return err
	}
	pairs, err := db.TopPairs(ctx, top, minCount)
	if err != nil {
		return err
	}
	triples, err := db.TopTriples(ctx, top, minCount)
	if err != nil {
		return err
	}

	build := meta.BuildID
	if build == "" {
		build = "-"
	}
	fmt.Fprintf(out, "build %s  format %s  created %s\n", build, meta.Format, meta.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "lines %d  skipped %d  vocabulary %d\n", meta.Stats.Lines, meta.Stats.Skipped, vocab)
	printTop(out, pairs, triples)
	return nil
}
