package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleRecord() Record {
	return Record{
		CardID:         "visa1024",
		InstanceID:     "7b0efc1c-9f3d-4a53-9c1b-1af0c6a1f001",
		RequesterIndex: 3,
		Bank:           "0x00000000000000000000000000000000000000aa",
		Cardholder:     "0x00000000000000000000000000000000000000bb",
		TxLimit:        100,
		MonthLimit:     1000,
		CreatedAt:      time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, "missing"); rec != nil {
		t.Fatalf("expected nil for missing card")
	}

	if err := store.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := store.Get(ctx, "visa1024")
	if got == nil || got.RequesterIndex != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}

	records, err := store.List(ctx)
	if err != nil || len(records) != 1 {
		t.Fatalf("list: %v, %d records", err, len(records))
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}

	// One sidecar file per card, dot-prefixed like the original tooling.
	if _, err := os.Stat(filepath.Join(dir, ".visa1024.cardinal.json")); err != nil {
		t.Fatalf("expected sidecar file on disk: %v", err)
	}

	store2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Get(ctx, "visa1024")
	if got == nil || got.InstanceID != sampleRecord().InstanceID {
		t.Fatalf("unexpected record: %+v", got)
	}

	records, err := store2.List(ctx)
	if err != nil || len(records) != 1 {
		t.Fatalf("list: %v, %d records", err, len(records))
	}
}
