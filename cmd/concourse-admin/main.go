// concourse-admin is a narrow operator CLI for the kernel (§4.10.5): it
// opens a database.DB rooted at a directory and dispatches to the
// administrative `compact`, `dump` and `fsync` operations, plus a read-only
// `browse` REPL for ad-hoc verify/find/search/iterate queries.
//
// Usage:
//
//	concourse-admin --dir <path> compact
//	concourse-admin --dir <path> dump
//	concourse-admin --dir <path> fsync
//	concourse-admin --dir <path> browse
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/concourse-db/kernel/pkg/database"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "concourse-admin: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("concourse-admin", pflag.ContinueOnError)
	dir := flags.StringP("dir", "d", "", "environment root directory (required)")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: concourse-admin --dir <path> <compact|dump|fsync|browse>")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}

	positional := flags.Args()
	if len(positional) != 1 {
		flags.Usage()
		return fmt.Errorf("expected exactly one command, got %d", len(positional))
	}
	if *dir == "" {
		return fmt.Errorf("--dir is required")
	}

	db, err := database.Open(database.Options{Dir: *dir})
	if err != nil {
		return fmt.Errorf("open %q: %w", *dir, err)
	}
	defer db.Close()

	switch positional[0] {
	case "compact":
		db.Compact()
		fmt.Println("compaction attempted")
		return nil
	case "dump":
		printDump(db.Dump())
		return nil
	case "fsync":
		if err := db.Fsync(); err != nil {
			return fmt.Errorf("fsync: %w", err)
		}
		fmt.Println("fsync complete")
		return nil
	case "browse":
		return (&REPL{db: db}).Run()
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", positional[0])
	}
}

func printDump(stats database.Stats) {
	fmt.Printf("buffer:    %d pending write(s)\n", stats.BufferLen)
	fmt.Printf("mutable:   %d write(s)\n", stats.MutableWrites)
	fmt.Printf("segments:  %d\n", stats.ImmutableCount)
	for _, name := range stats.SegmentFileNames {
		fmt.Printf("  - %s\n", name)
	}
}
