// Command build-testdb seeds a Badger-backed namespace with synthetic
// records at one of a few scale presets and reports what it wrote.
// Grounded on the teacher's build-testdb, which built OHLC bar
// fixtures through datalog/storage at the same default/medium/large
// preset shape; the preset shape and the build-then-print-stats flow
// carry over here, rewired onto core/capped and core/durable instead
// of the datalog storage layer.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wbrown/querycore/core/capped"
	"github.com/wbrown/querycore/core/catalog"
	"github.com/wbrown/querycore/core/durable"
	"github.com/wbrown/querycore/core/query"
	"github.com/wbrown/querycore/core/record"
)

// SeedConfig controls how many synthetic records to write, of what
// size, and whether the namespace is capped.
type SeedConfig struct {
	Namespace   string
	NumRecords  int
	RecordBytes int
	Capped      bool
	ExtentBytes int64 // capacity per extent, when Capped
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{Namespace: "seed", NumRecords: 10_000, RecordBytes: 128, Capped: true, ExtentBytes: 4 << 20}
}

func MediumSeedConfig() SeedConfig {
	return SeedConfig{Namespace: "seed", NumRecords: 200_000, RecordBytes: 256, Capped: true, ExtentBytes: 64 << 20}
}

func LargeSeedConfig() SeedConfig {
	return SeedConfig{Namespace: "seed", NumRecords: 2_000_000, RecordBytes: 512, Capped: true, ExtentBytes: 512 << 20}
}

func main() {
	var dbPath string
	var configName string
	flag.StringVar(&dbPath, "db", "querycore-seed.db", "database path")
	flag.StringVar(&configName, "config", "default", "scale preset: default, medium, or large")
	flag.Parse()

	var cfg SeedConfig
	switch configName {
	case "default":
		cfg = DefaultSeedConfig()
	case "medium":
		cfg = MediumSeedConfig()
	case "large":
		cfg = LargeSeedConfig()
	default:
		fmt.Fprintf(os.Stderr, "unknown config %q (use default, medium, or large)\n", configName)
		os.Exit(1)
	}

	fmt.Printf("seeding %s: %d records x %d bytes, capped=%t\n", dbPath, cfg.NumRecords, cfg.RecordBytes, cfg.Capped)

	mgr, err := record.OpenBadgerManager(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening database: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	cat := catalog.New(1000)
	if _, err := cat.CreateNamespace(cfg.Namespace, cfg.Capped, cfg.ExtentBytes); err != nil {
		fmt.Fprintf(os.Stderr, "creating namespace: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	written, err := seed(mgr, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seeding: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	fmt.Printf("wrote %d records (%d bytes) in %s\n", written, written*int64(cfg.RecordBytes), elapsed)
}

// seed allocates and writes cfg.NumRecords synthetic records into
// cfg.Namespace, committing in batches for throughput, and returns the
// number of records written.
func seed(mgr record.Manager, cfg SeedConfig) (int64, error) {
	w := durable.New(mgr)

	var capNS *capped.NamespaceState
	if cfg.Capped {
		capNS = capped.New(cfg.Namespace, mgr, 0)
		if _, err := capNS.AddExtent(cfg.ExtentBytes); err != nil {
			return 0, fmt.Errorf("adding extent: %w", err)
		}
	}

	const batchSize = 500
	var written int64
	session := w.Begin(cfg.Namespace)
	for i := 0; i < cfg.NumRecords; i++ {
		var loc query.Location
		var err error
		if cfg.Capped {
			loc, err = capNS.Alloc(int64(cfg.RecordBytes))
		} else {
			loc, err = mgr.Reserve(cfg.Namespace, cfg.RecordBytes)
		}
		if err != nil {
			return written, fmt.Errorf("record %d: %w", i, err)
		}
		session.Put(loc, syntheticRecord(i, cfg.RecordBytes))
		written++

		if written%batchSize == 0 {
			if err := session.Commit(); err != nil {
				return written, fmt.Errorf("committing batch at record %d: %w", i, err)
			}
			session = w.Begin(cfg.Namespace)
		}
	}
	if written%batchSize != 0 {
		if err := session.Commit(); err != nil {
			return written, fmt.Errorf("committing final batch: %w", err)
		}
	} else {
		session.Abandon()
	}
	return written, nil
}

// syntheticRecord fills a length-byte buffer with a deterministic,
// distinguishable payload: an 8-byte big-endian sequence number
// followed by filler bytes, useful for spot-checking a seeded
// namespace by hand.
func syntheticRecord(seq, length int) []byte {
	buf := make([]byte, length)
	for i := 0; i < 8 && i < length; i++ {
		buf[i] = byte(seq >> (8 * (7 - i)))
	}
	for i := 8; i < length; i++ {
		buf[i] = byte(i)
	}
	return buf
}
