package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// exerciseStore runs the same checks against any SnapshotStore.
func exerciseStore(t *testing.T, store SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("get missing: got %v, want %v", err, ErrSnapshotNotFound)
	}

	if err := store.Put(ctx, "room-a", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "room-a", []byte(`{"version":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := store.Get(ctx, "room-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte(`{"version":2}`)) {
		t.Errorf("got %s, want the latest snapshot", got)
	}

	if err := store.Delete(ctx, "room-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "room-a"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("get after delete: got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := openStore(context.Background(), memoryDSN(t))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, ok := store.(*sqliteStore); !ok {
		t.Fatalf("expected a sqlite store, got %T", store)
	}
	exerciseStore(t, store)
}

// TestSQLiteStoreBacksRooms plays a short game on top of the sqlite store
// and restores the room from what it wrote.
func TestSQLiteStoreBacksRooms(t *testing.T) {
	store, err := openSQLiteStore(memoryDSN(t))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	tr := newTestRoomWithDeps(t, testSettings(), RoomDeps{Store: store})
	tr.joinAll("A", "B", "C", "D")
	tr.mustDo("A", StartGame{})
	want := tr.state("")

	blob, err := store.Get(context.Background(), tr.room.ID())
	if err != nil {
		t.Fatal(err)
	}
	restored, err := restoreRoom(blob, RoomDeps{Clock: tr.clock}, testRand(9))
	if err != nil {
		t.Fatal(err)
	}
	defer restored.stopTimer()
	if restored.state.Version != want.Version || restored.state.Phase != PhaseDay {
		t.Errorf("restored v%d %s, want v%d %s", restored.state.Version, restored.state.Phase, want.Version, want.Phase)
	}
}
