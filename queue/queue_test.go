package queue

import (
	"fmt"
	"path/filepath"
	"testing"

	"zunify/models"
	"zunify/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func threeTracks() []models.Track {
	return []models.Track{
		{ID: "a", Name: "A", URI: "spotify:track:a"},
		{ID: "b", Name: "B", URI: "spotify:track:b"},
		{ID: "c", Name: "C", URI: "spotify:track:c"},
	}
}

func TestEmptyQueueNoOps(t *testing.T) {
	q, _ := newTestQueue(t)

	if got := q.Advance(); got != nil {
		t.Errorf("Advance() on empty queue = %+v; want nil", got)
	}
	if got := q.Retreat(); got != nil {
		t.Errorf("Retreat() on empty queue = %+v; want nil", got)
	}
	if got := q.Current(); got != nil {
		t.Errorf("Current() on empty queue = %+v; want nil", got)
	}
}

func TestAdvanceCyclic(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Replace(threeTracks(), 0, "playlist:p1")

	// N advances from index 0 on a queue of length N return to index 0
	order := []string{"b", "c", "a"}
	for i, want := range order {
		got := q.Advance()
		if got == nil || got.ID != want {
			t.Fatalf("Advance() #%d = %+v; want %s", i+1, got, want)
		}
	}
	if q.ActiveIndex() != 0 {
		t.Errorf("ActiveIndex after full cycle = %d; want 0", q.ActiveIndex())
	}
}

func TestAdvanceWrapsFromLast(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Replace(threeTracks(), 2, "playlist:p1")

	got := q.Advance()
	if got == nil || got.ID != "a" {
		t.Fatalf("Advance() from last = %+v; want track a", got)
	}
	if q.ActiveIndex() != 0 {
		t.Errorf("ActiveIndex = %d; want 0", q.ActiveIndex())
	}
}

func TestRetreatWrapsFromFirst(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Replace(threeTracks(), 0, "playlist:p1")

	got := q.Retreat()
	if got == nil || got.ID != "c" {
		t.Fatalf("Retreat() from first = %+v; want track c", got)
	}
	if q.ActiveIndex() != 2 {
		t.Errorf("ActiveIndex = %d; want 2", q.ActiveIndex())
	}
}

func TestReplaceOwnsContext(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Replace(threeTracks(), 1, "playlist:p1")

	if q.ContextID() != "playlist:p1" {
		t.Errorf("ContextID = %q; want playlist:p1", q.ContextID())
	}
	if cur := q.Current(); cur == nil || cur.ID != "b" {
		t.Errorf("Current() = %+v; want track b", cur)
	}

	// advance/retreat must never change the context
	q.Advance()
	q.Retreat()
	if q.ContextID() != "playlist:p1" {
		t.Errorf("ContextID after cursor moves = %q; want playlist:p1", q.ContextID())
	}

	q.Replace([]models.Track{{ID: "x", URI: "spotify:track:x"}}, 0, "album:a1")
	if q.ContextID() != "album:a1" {
		t.Errorf("ContextID after Replace = %q; want album:a1", q.ContextID())
	}
}

func TestReplaceClampsStartIndex(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Replace(threeTracks(), 99, "playlist:p1")
	if q.ActiveIndex() != 0 {
		t.Errorf("ActiveIndex with out-of-range start = %d; want 0", q.ActiveIndex())
	}
}

func TestHydrateRestoresPreviousContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")

	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	first := New(st)
	first.Replace(threeTracks(), 2, "playlist:old")
	first.SetPaused(true)
	st.Close()

	// a fresh process hydrates the old context; it stays valid until a
	// fresh Replace, even if the device reconnects first
	st2, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() reopen error = %v", err)
	}
	defer st2.Close()

	q := New(st2)
	q.Hydrate()

	if q.Len() != 3 {
		t.Fatalf("Len() = %d; want 3", q.Len())
	}
	if q.ContextID() != "playlist:old" {
		t.Errorf("ContextID = %q; want playlist:old", q.ContextID())
	}
	if cur := q.Current(); cur == nil || cur.ID != "c" {
		t.Errorf("Current() = %+v; want track c", cur)
	}
	if !q.Paused() {
		t.Error("Paused() = false; want true from snapshot")
	}
}

func TestHydrateEmptyStore(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Hydrate()
	if !q.IsEmpty() {
		t.Error("queue not empty after hydrating an empty store")
	}
}

func TestURIsSkipsBlank(t *testing.T) {
	q, _ := newTestQueue(t)
	tracks := threeTracks()
	tracks[1].URI = ""
	q.Replace(tracks, 0, "search")

	uris := q.URIs()
	want := []string{"spotify:track:a", "spotify:track:c"}
	if fmt.Sprint(uris) != fmt.Sprint(want) {
		t.Errorf("URIs() = %v; want %v", uris, want)
	}
}
