package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"flintdb/internal/btree"
	"flintdb/internal/query"
)

func main() {
	path := flag.String("db", "flint.db", "database file")
	count := flag.Int("count", 1000, "number of records to insert")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, "logger:", err)
			os.Exit(1)
		}
		logger = l
		defer logger.Sync()
	}

	db, err := btree.Open(btree.Config{Path: *path, Logger: logger})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	// Padded keys keep lexicographic order in line with numeric order.
	key := func(i int) []byte { return []byte(fmt.Sprintf("key%04d", i)) }
	val := func(i int) []byte { return []byte(fmt.Sprintf("val%d", i)) }

	fmt.Println("--- Phase 1: Sequential Insertion (Persistence & Splitting) ---")
	for i := 1; i <= *count; i++ {
		if err := db.Put(key(i), val(i)); err != nil {
			fmt.Fprintln(os.Stderr, "put:", err)
			os.Exit(1)
		}
		if i%200 == 0 {
			fmt.Printf("Inserted %d records...\n", i)
		}
	}

	fmt.Println("\n--- Phase 2: Point Lookups (Traversal Accuracy) ---")
	found := 0
	for i := 1; i <= *count; i++ {
		v, ok, err := db.Get(key(i))
		if err != nil {
			fmt.Fprintln(os.Stderr, "get:", err)
			os.Exit(1)
		}
		if ok && string(v) == string(val(i)) {
			found++
		} else {
			fmt.Fprintf(os.Stderr, "key %s not found or value mismatch\n", key(i))
		}
	}
	fmt.Printf("Successfully retrieved %d/%d records.\n", found, *count)

	fmt.Println("\n--- Phase 3: Range Scan (Sibling Linking) ---")
	results, err := db.RangeScan([]byte("key0490"), []byte("key0510"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "scan:", err)
		os.Exit(1)
	}
	for _, pair := range results {
		fmt.Printf("  %s => %s\n", pair.Key, pair.Value)
	}
	fmt.Printf("Range scan returned %d items.\n", len(results))

	fmt.Println("\n--- Phase 4: Fluent Query (Filter & Limit) ---")
	filtered, err := query.New(db).
		Range([]byte("key0001"), []byte("key0100")).
		Where(func(k, v []byte) bool { return len(v) > 5 }).
		Limit(5).
		Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, pair := range filtered {
		fmt.Printf("  %s => %s\n", pair.Key, pair.Value)
	}

	fmt.Println("\n--- Phase 5: Deletion Sweep ---")
	deleted := 0
	for i := 2; i <= *count; i += 2 {
		ok, err := db.Remove(key(i))
		if err != nil {
			fmt.Fprintln(os.Stderr, "remove:", err)
			os.Exit(1)
		}
		if ok {
			deleted++
		}
	}
	fmt.Printf("Deleted %d records.\n", deleted)

	consistent := true
	for i := 1; i <= *count; i++ {
		_, ok, err := db.Get(key(i))
		if err != nil {
			fmt.Fprintln(os.Stderr, "get:", err)
			os.Exit(1)
		}
		if ok != (i%2 == 1) {
			consistent = false
		}
	}
	if consistent {
		fmt.Println("Deletion state verified.")
	} else {
		fmt.Println("Deletion state inconsistent!")
	}
}
