// Command querycored is a small CLI driver over the query execution
// core: it opens a Badger-backed record store, registers a namespace in
// an in-memory catalog, and either prints that namespace's catalog and
// plan-cache state or (with -i) runs a shell for creating namespaces
// and indexes and reading plan-cache counters. It does not run queries
// or render explain() reports. Grounded on cmd/datalog/main.go's
// flag-based CLI shape (db path flag, interactive fallback).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/wbrown/querycore/core/catalog"
	"github.com/wbrown/querycore/core/indexspan"
	"github.com/wbrown/querycore/core/query"
	"github.com/wbrown/querycore/core/record"
)

func main() {
	var dbPath string
	var interactive bool
	var help bool
	var nsName string
	var planCacheSize int

	flag.StringVar(&dbPath, "db", "", "database path")
	flag.BoolVar(&interactive, "i", false, "interactive mode")
	flag.BoolVar(&help, "h", false, "show help")
	flag.StringVar(&nsName, "ns", "demo", "namespace to operate on")
	flag.IntVar(&planCacheSize, "plancache", 1000, "plan cache entry capacity")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [database_path]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "A standalone driver for the query execution core.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                 # open (or create) querycore.db and show catalog state\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i              # interactive shell over the catalog\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -ns events      # operate on namespace \"events\"\n", os.Args[0])
	}
	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(0)
	}

	if dbPath == "" && flag.NArg() > 0 {
		dbPath = flag.Arg(0)
	}
	if dbPath == "" {
		dbPath = "querycore.db"
	}

	mgr, err := record.OpenBadgerManager(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer mgr.Close()

	db, err := openBadgerHandle(mgr)
	if err != nil {
		log.Fatalf("failed to access badger handle: %v", err)
	}
	indexes := indexspan.Open(db)
	_ = indexes

	cat := catalog.New(planCacheSize)
	if _, err := cat.CreateNamespace(nsName, false, 0); err != nil {
		log.Printf("namespace %q already exists or failed to create: %v", nsName, err)
	}

	if interactive {
		runShell(cat)
		return
	}

	printCatalogState(cat, nsName)
}

// openBadgerHandle recovers the *badger.DB a record.BadgerManager
// wraps, since core/indexspan needs to share the same handle for its
// ordered index iteration. record.Manager intentionally doesn't
// expose this on its interface (callers that aren't wiring up both
// collaborators at once have no business reaching into it), so the
// CLI entry point, which owns both, type-asserts to the concrete
// *record.BadgerManager and shares its handle.
func openBadgerHandle(mgr record.Manager) (*badger.DB, error) {
	bm, ok := mgr.(*record.BadgerManager)
	if !ok {
		return nil, fmt.Errorf("querycored: record manager is not badger-backed")
	}
	return bm.DB(), nil
}

func printCatalogState(cat *catalog.Catalog, nsName string) {
	ns, ok := cat.Namespace(nsName)
	if !ok {
		fmt.Printf("namespace %q not found\n", nsName)
		return
	}
	hits, misses := cat.PlanCache().Stats()
	fmt.Printf("namespace: %s\n", ns.Name)
	fmt.Printf("capped: %t  capacity: %d\n", ns.Capped, ns.Capacity)
	fmt.Printf("indexes: %d\n", len(ns.Indexes))
	for _, idx := range ns.Indexes {
		fmt.Printf("  %s: %v\n", idx.Name, idx.FieldNames())
	}
	fmt.Printf("plan cache: %d hits, %d misses\n", hits, misses)
}

func runShell(cat *catalog.Catalog) {
	fmt.Println("querycored interactive shell. Commands: ns <name>, index <ns> <name> <field...>, cache, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return
		case "ns":
			if len(fields) < 2 {
				fmt.Println("usage: ns <name>")
				continue
			}
			if _, err := cat.CreateNamespace(fields[1], false, 0); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			printCatalogState(cat, fields[1])
		case "index":
			if len(fields) < 4 {
				fmt.Println("usage: index <ns> <name> <field...>")
				continue
			}
			spec := query.NewIndexSpec(fields[2], fields[3:]...)
			if err := cat.CreateIndex(fields[1], spec); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("created index %s on %s\n", fields[2], fields[1])
		case "cache":
			hits, misses := cat.PlanCache().Stats()
			fmt.Printf("%d hits, %d misses\n", hits, misses)
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
}
