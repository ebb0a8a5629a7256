package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/stores"
)

// ExampleOpen demonstrates opening a migrated journal.
func ExampleOpen() {
	dir, err := os.MkdirTemp("", "bops-journal")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{
		Path:            filepath.Join(dir, "journal.db"),
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Journal ready:", store.HealthCheck(ctx) == nil)
	// Output: Journal ready: true
}

// ExampleSQLiteStore_RecordInvocation demonstrates journaling an invocation
// by hand. Engines configured with engine.WithJournal do this on their own.
func ExampleSQLiteStore_RecordInvocation() {
	dir, _ := os.MkdirTemp("", "bops-journal")
	defer os.RemoveAll(dir)

	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: filepath.Join(dir, "journal.db")})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.RecordInvocation(ctx, &engine.InvocationRecord{
		ID:        "inv-001",
		Operation: "package-bop",
		Status:    engine.StatusSucceeded,
		Input:     map[string]any{"age": 21.0},
		Output:    map[string]any{"isAdult": true},
		StartedAt: time.Now(),
		Duration:  3 * time.Millisecond,
	})
	if err != nil {
		log.Fatal(err)
	}

	record, err := store.GetInvocation(ctx, "inv-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s %s isAdult=%v\n", record.Operation, record.Status, record.Output["isAdult"])
	// Output: package-bop succeeded isAdult=true
}
