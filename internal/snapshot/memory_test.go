package snapshot

import (
	"context"
	"testing"
)

func TestMemoryStoreMissReturnsNil(t *testing.T) {
	store := NewMemoryStore()
	snap, err := store.Get(context.Background(), Key{Repo: "acme/shop", Kind: KindCommit, ID: "abc"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil on miss, got %+v", snap)
	}
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := Key{Repo: "acme/shop", Kind: KindPullMetadata, ID: "42"}

	if err := store.Put(ctx, key, []byte("old")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, key, []byte("new")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	snap, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(snap.Payload) != "new" {
		t.Errorf("expected the freshest version, got %s", snap.Payload)
	}
}

func TestMemoryStoreCopiesPayload(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := Key{Repo: "acme/shop", Kind: KindCommit, ID: "abc"}

	payload := []byte("original")
	if err := store.Put(ctx, key, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	payload[0] = 'X'

	snap, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(snap.Payload) != "original" {
		t.Errorf("stored payload mutated: %s", snap.Payload)
	}
}

func TestMemoryStoreHasRepo(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.HasRepo(ctx, "acme/shop")
	if err != nil || ok {
		t.Errorf("expected (false, nil), got (%v, %v)", ok, err)
	}

	if err := store.Put(ctx, Key{Repo: "acme/shop", Kind: KindCommit, ID: "abc"}, []byte("{}")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err = store.HasRepo(ctx, "acme/shop")
	if err != nil || !ok {
		t.Errorf("expected (true, nil), got (%v, %v)", ok, err)
	}
}
