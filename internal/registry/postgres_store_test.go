package registry

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	if err := store.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "visa1024")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.TxLimit != 100 {
		t.Fatalf("unexpected record: %#v", got)
	}
}
