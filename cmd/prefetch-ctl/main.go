package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gftdcojp/s3-prefetch/internal/config"
	"github.com/gftdcojp/s3-prefetch/internal/results"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	dbPath := flag.String("db", "prefetch-results.db", "path to the results database")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("prefetch-ctl %s\n", version)
	case "runs":
		err = cmdRuns(*dbPath, args[1:], os.Stdout)
	case "prune":
		err = cmdPrune(*dbPath, args[1:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `prefetch-ctl - prefetch benchmark history CLI

Usage:
  prefetch-ctl [flags] <command> [args]

Commands:
  runs [-limit n]                      List recorded runs, newest first
  prune [-max-age d] [-max-runs n]     Delete old runs
  version                              Show version

Flags:
  -db string   results database (default "prefetch-results.db")`)
}

func cmdRuns(path string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum runs to show (0: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := results.OpenReadOnly(path, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(context.Background(), *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tBACKEND\tOBJECT\tITER\tBYTES\tDURATION\tGBPS\tSTATUS")
	for _, r := range runs {
		status := "ok"
		if !r.OK() {
			status = r.Error
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s/%s\t%d\t%d\t%s\t%.2f\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Backend, r.Bucket, r.Key,
			r.Iteration, r.Bytes, r.Duration.Round(time.Millisecond), r.Gbps, status)
	}
	return w.Flush()
}

func cmdPrune(path string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	maxAge := fs.String("max-age", "", "delete runs older than this, e.g. 168h")
	maxRuns := fs.Int("max-runs", config.DefaultConfig().Results.MaxRuns, "keep at most this many runs (0: no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var age time.Duration
	if *maxAge != "" {
		d, err := time.ParseDuration(*maxAge)
		if err != nil {
			return fmt.Errorf("invalid -max-age: %w", err)
		}
		age = d
	}

	store, err := results.NewBoltStore(path, false, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := store.Prune(context.Background(), age, *maxRuns)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %d runs\n", deleted)
	return nil
}
