package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/logdict/backend/internal/dictionary"
	"github.com/logdict/backend/internal/dictstore"
	"github.com/logdict/backend/internal/export"
	"github.com/logdict/backend/internal/logging"
	"github.com/logdict/backend/internal/parser"
)

type buildOptions struct {
	format      string
	formatsFile string
	workers     int
	shards      int
	tolerate    bool
	out         string
	duckdb      string
	top         int
	byCount     bool
	verify      bool
}

func newBuildCmd() *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build FILE",
		Short: "Build the dictionaries of a log file",
		Long: `Build reads FILE (plain or gzip), tokenizes every line with the chosen
format and counts token pairs, triples and the vocabulary.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New(cmd.ErrOrStderr(), logLevel, logFormat)
			if err != nil {
				return err
			}
			return runBuild(cmd.Context(), cmd.OutOrStdout(), log, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", parser.FormatWhitespace, `log format name, "whitespace" or "auto"`)
	f.StringVar(&opts.formatsFile, "formats", "", "YAML file with additional log formats")
	f.IntVarP(&opts.workers, "workers", "w", dictionary.DefaultWorkers, fmt.Sprintf("number of worker goroutines, 1 to %d", dictionary.MaxWorkers))
	f.IntVar(&opts.shards, "shards", dictionary.DefaultShards, "lock shards per counter")
	f.BoolVar(&opts.tolerate, "tolerate-malformed", false, "skip lines that do not match the format")
	f.StringVarP(&opts.out, "out", "o", "", "write a snapshot (.msgpack, .mpk or .json)")
	f.StringVar(&opts.duckdb, "duckdb", "", "write the dictionaries to a DuckDB file")
	f.IntVar(&opts.top, "print", 10, "print the N most frequent pairs and triples (0 disables)")
	f.BoolVar(&opts.byCount, "by-count", false, "print every pair and triple grouped by count")
	f.BoolVar(&opts.verify, "verify", false, "check the parallel result against a sequential scan")
	return cmd
}

func runBuild(ctx context.Context, out io.Writer, log *slog.Logger, path string, opts buildOptions) error {
	// Options treat zero as "use the default"; on the command line it is a mistake.
	if opts.workers < 1 {
		return &dictionary.ConfigurationError{Field: "workers", Value: opts.workers, Reason: "must be at least 1"}
	}

	registry := parser.NewRegistry()
	if opts.formatsFile != "" {
		if _, err := registry.LoadFile(opts.formatsFile); err != nil {
			return err
		}
	}

	lines, stats, err := parser.ReadLines(path, nil)
	if err != nil {
		return err
	}
	if stats.Dropped > 0 {
		log.Warn("dropped lines that are not valid UTF-8", "count", stats.Dropped)
	}

	tok, err := registry.Resolve(opts.format, lines)
	if err != nil {
		return err
	}
	formatName := parser.ResolvedName(tok)
	log.Info("building dictionary", "file", path, "lines", len(lines), "format", formatName, "workers", opts.workers)

	res, err := dictionary.Build(lines, dictionary.Options{
		Workers:           opts.workers,
		Shards:            opts.shards,
		Tokenizer:         tok,
		TolerateMalformed: opts.tolerate,
		Logger:            log,
	})
	if err != nil {
		return err
	}

	if opts.verify {
		seq, err := dictionary.BuildSequential(lines, tok, opts.tolerate)
		if err != nil {
			return fmt.Errorf("sequential scan: %w", err)
		}
		if !res.Equal(seq) {
			return fmt.Errorf("%w: parallel result differs from sequential scan", dictionary.ErrConcurrencyInvariantViolation)
		}
		log.Info("verified against sequential scan")
	}

	snap := export.FromResult(res)
	snap.Format = formatName

	if opts.out != "" {
		if err := export.WriteFile(opts.out, snap); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		log.Info("snapshot written", "path", opts.out)
	}

	if opts.duckdb != "" {
		db, err := dictstore.Create(opts.duckdb, dictstore.Options{Logger: log})
		if err != nil {
			return err
		}
		saveErr := db.Save(ctx, snap)
		if err := db.Close(); err != nil && saveErr == nil {
			saveErr = err
		}
		if saveErr != nil {
			return saveErr
		}
		log.Info("dictionary database written", "path", opts.duckdb)
	}

	st := res.Stats()
	fmt.Fprintf(out, "lines %d  skipped %d  tokens %d  pairs %d  triples %d  vocabulary %d  (%s, %d workers)\n",
		st.Lines, st.Skipped, st.Tokens, res.PairLen(), res.TripleLen(), res.VocabularyLen(),
		st.Elapsed.Round(time.Millisecond), st.Workers)
	if opts.top > 0 {
		printTop(out, snap.Pairs[:min(opts.top, len(snap.Pairs))], snap.Triples[:min(opts.top, len(snap.Triples))])
	}
	if opts.byCount {
		printGroups(out, "pairs", export.GroupByCount(snap.PairCounts()))
		printGroups(out, "triples", export.GroupByCount(snap.TripleCounts()))
	}
	return nil
}

// printGroups writes one line per distinct count, least frequent first.
func printGroups(out io.Writer, title string, groups []export.CountGroup) {
	fmt.Fprintf(out, "\n%s by count\n", title)
	for _, g := range groups {
		fmt.Fprintf(out, "%d: %s\n", g.Count, strings.Join(g.Keys, " "))
	}
}

func printTop(out io.Writer, pairs []export.PairEntry, triples []export.TripleEntry) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if len(pairs) > 0 {
		fmt.Fprintln(w, "\nCOUNT\tPAIR")
		for _, p := range pairs {
			fmt.Fprintf(w, "%d\t%s\n", p.Count, p.Key())
		}
	}
	if len(triples) > 0 {
		fmt.Fprintln(w, "\nCOUNT\tTRIPLE")
		for _, t := range triples {
			fmt.Fprintf(w, "%d\t%s\n", t.Count, t.Key())
		}
	}
	w.Flush()
}
