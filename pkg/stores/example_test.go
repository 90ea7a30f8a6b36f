package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/plugsift/plugsift/pkg/stores"
)

// ExampleOpen demonstrates journaling one session.
func ExampleOpen() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	start := time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC)
	_ = store.CreateSession(ctx, &stores.Session{
		ID:         "s-1",
		OrderFile:  "plugins.txt",
		Status:     stores.SessionStatusRunning,
		Candidates: 3,
		StartedAt:  start,
	})
	_ = store.FinishSession(ctx, "s-1", stores.Summary{
		Status:     stores.SessionStatusCompleted,
		Candidates: 3,
		Safe:       2,
		Failed:     1,
		Trials:     4,
		FinishedAt: start.Add(time.Minute),
	})

	session, _ := store.GetSession(ctx, "s-1")
	fmt.Printf("%s: %d safe, %d failed in %d trials\n", session.Status, session.Safe, session.Failed, session.Trials)
	// Output: completed: 2 safe, 1 failed in 4 trials
}
