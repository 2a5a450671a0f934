package cache

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
)

func TestStagingEnsureReadyIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	staging := store.Staging()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- staging.EnsureReady()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent EnsureReady failed: %v", err)
		}
	}
	if info, err := os.Stat(staging.Dir()); err != nil || !info.IsDir() {
		t.Fatalf("pending dir should exist: %v", err)
	}
}

func TestStagingCreateYieldsUniqueEntries(t *testing.T) {
	store := newTestStore(t)
	staging := store.Staging()
	if err := staging.EnsureReady(); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}

	seen := make(map[string]struct{})
	for i := 0; i < 32; i++ {
		entry, err := staging.Create()
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, dup := seen[entry.Name()]; dup {
			t.Fatalf("duplicate staging name %s", entry.Name())
		}
		seen[entry.Name()] = struct{}{}
		staging.Discard(entry)
	}
	assertPendingEmpty(t, store)
}

func TestStagingCommitPublishesEntry(t *testing.T) {
	store := newTestStore(t)
	staging := store.Staging()
	if err := staging.EnsureReady(); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	key := mustDeriver(t, "").Derive("commit")

	entry, err := staging.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := entry.Write([]byte("staged bytes")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := store.Get(context.Background(), key); err != ErrNotFound {
		t.Fatalf("staged bytes must not be visible before commit, got %v", err)
	}

	if err := staging.Commit(entry, key); err != nil {
		t.Fatalf("commit: %v", err)
	}

	result, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get after commit: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "staged bytes" {
		t.Fatalf("unexpected body %q", body)
	}
	assertPendingEmpty(t, store)
}

func TestStagingCommitReplacesExistingEntry(t *testing.T) {
	store := newTestStore(t)
	staging := store.Staging()
	if err := staging.EnsureReady(); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	key := mustDeriver(t, "").Derive("replace")

	for _, payload := range []string{"first", "second"} {
		entry, err := staging.Create()
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := entry.Write([]byte(payload)); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := staging.Commit(entry, key); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	result, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "second" {
		t.Fatalf("last commit should win, got %q", body)
	}
}

func TestStagingCommitInvalidKeyDiscards(t *testing.T) {
	store := newTestStore(t)
	staging := store.Staging()
	if err := staging.EnsureReady(); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	entry, err := staging.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := staging.Commit(entry, "not-a-key"); err == nil {
		t.Fatalf("commit with invalid key should fail")
	}
	assertPendingEmpty(t, store)
}

func TestStagingDiscardIsBestEffort(t *testing.T) {
	store := newTestStore(t)
	staging := store.Staging()
	if err := staging.EnsureReady(); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	entry, err := staging.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	staging.Discard(entry)
	// 二次清理不应 panic 或报错。
	staging.Discard(entry)
	staging.Discard(nil)
	if _, err := entry.Write([]byte("x")); err == nil {
		t.Fatalf("write after discard should fail")
	}
	assertPendingEmpty(t, store)
}
