package repository

import (
	"context"
	"testing"
)

func openPebble(t *testing.T) backend {
	t.Helper()
	store, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return backend{
		medicines:     store,
		prescriptions: NewPebblePrescriptions(store),
		tx:            NewPebbleTx(store),
	}
}

func TestPebbleStore(t *testing.T) {
	runContract(t, openPebble)
}

func TestPebbleStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := newMedicine("o1", "Aspirin", 12)
	if err := store.Create(ctx, &m); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	got, err := store.FindByName(ctx, "o1", "aspirin")
	if err != nil || got.Quantity != 12 {
		t.Fatalf("medicine lost after reopen: %+v %v", got, err)
	}
	// sequence survives restart
	next := newMedicine("o1", "Ibuprofen", 1)
	if err := store.Create(ctx, &next); err != nil {
		t.Fatal(err)
	}
	if next.ID <= m.ID {
		t.Fatalf("id reused: %d <= %d", next.ID, m.ID)
	}
}
