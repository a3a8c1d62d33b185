package presence

import (
	"reflect"
	"testing"
	"time"

	cm "github.com/mosaicnetworks/acol/src/common"
	"github.com/mosaicnetworks/acol/src/peers"
)

func testStores(t *testing.T) map[string]Store {
	badgerStore, err := NewBadgerStore(t.TempDir(), cm.NewTestEntry(t, "badger"))
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{
		"inmem":  NewInmemStore(),
		"badger": badgerStore,
	}
}

func TestStores(t *testing.T) {
	for name, store := range testStores(t) {
		if _, err := store.Last(); !cm.IsStore(err, cm.Empty) {
			t.Fatalf("%s: expected Empty error, got %v", name, err)
		}

		if _, err := store.Get(1); !cm.IsStore(err, cm.KeyNotFound) {
			t.Fatalf("%s: expected KeyNotFound error, got %v", name, err)
		}

		now := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

		s1 := &Snapshot{
			Owner:     "a@test",
			Version:   1,
			Reachable: []peers.JID{"b@test"},
			Time:      now,
		}
		s2 := &Snapshot{
			Owner:     "a@test",
			Version:   2,
			Reachable: []peers.JID{"b@test", "c@test"},
			Time:      now.Add(time.Second),
		}

		for _, s := range []*Snapshot{s2, s1} {
			if err := store.Save(s); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
		}

		last, err := store.Last()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		if last.Version != 2 || !reflect.DeepEqual(last.Reachable, s2.Reachable) {
			t.Fatalf("%s: last snapshot should be %+v, not %+v", name, s2, last)
		}

		first, err := store.Get(1)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		if first.Owner != s1.Owner || !first.Time.Equal(s1.Time) || !reflect.DeepEqual(first.Reachable, s1.Reachable) {
			t.Fatalf("%s: snapshot 1 should be %+v, not %+v", name, s1, first)
		}

		if err := store.Close(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestBadgerStoreReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBadgerStore(dir, cm.NewTestEntry(t, "badger"))
	if err != nil {
		t.Fatal(err)
	}

	store.Save(&Snapshot{Owner: "a@test", Version: 1, Reachable: []peers.JID{"b@test"}})
	store.Close()

	store, err = NewBadgerStore(dir, cm.NewTestEntry(t, "badger"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	last, err := store.Last()
	if err != nil {
		t.Fatal(err)
	}

	if last.Version != 1 || !reflect.DeepEqual(last.Reachable, []peers.JID{"b@test"}) {
		t.Fatalf("unexpected snapshot %+v", last)
	}
}
