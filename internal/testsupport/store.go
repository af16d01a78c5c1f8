package testsupport

import (
	"context"
	"testing"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/db"
	"curio/internal/queue"
)

// MustOpenDB opens the shared database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *db.DB {
	t.Helper()

	database, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// MustOpenStores opens the queue and catalog stores over one database.
func MustOpenStores(t testing.TB, cfg *config.Config) (*queue.Store, *catalog.Store) {
	t.Helper()

	database := MustOpenDB(t, cfg)
	return queue.NewStore(database), catalog.NewStore(database)
}

// NewDesign inserts a catalog design for tests using the provided store.
func NewDesign(t testing.TB, store *catalog.Store, title, designer string) *catalog.Design {
	t.Helper()

	design, err := store.InsertDesign(context.Background(), &catalog.Design{
		CanonicalTitle:    title,
		CanonicalDesigner: designer,
		Status:            catalog.StatusDiscovered,
	})
	if err != nil {
		t.Fatalf("catalog.InsertDesign: %v", err)
	}
	return design
}

// NewJob enqueues a job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, jobType queue.Type, designID int64) *queue.Job {
	t.Helper()

	job, err := store.Enqueue(context.Background(), jobType, designID, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("queue.Enqueue: %v", err)
	}
	return job
}
