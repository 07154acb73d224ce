package cursor

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetMissingCursor(t *testing.T) {
	store := openTestStore(t)

	c, err := store.Get(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if c != nil {
		t.Errorf("Get = %+v, want nil for unknown account", c)
	}
}

func TestPutAndGetCursor(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	in := Cursor{
		Account:      "ana@example.com",
		Mailbox:      "INBOX",
		LastUID:      4321,
		ScannedCount: 150,
		WithPdfCount: 12,
		UpdatedAt:    time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.Put(ctx, in); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil after Put")
	}
	if got.LastUID != 4321 || got.ScannedCount != 150 || got.WithPdfCount != 12 {
		t.Errorf("Get = %+v, want %+v", got, in)
	}
	if got.Mailbox != "INBOX" {
		t.Errorf("Mailbox = %q", got.Mailbox)
	}
}

func TestPutUpsertsExistingCursor(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := Cursor{Account: "ana@example.com", Mailbox: "INBOX", LastUID: 100, UpdatedAt: time.Now().UTC()}
	if err := store.Put(ctx, base); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	base.LastUID = 200
	base.ScannedCount = 75
	if err := store.Put(ctx, base); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := store.Get(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LastUID != 200 || got.ScannedCount != 75 {
		t.Errorf("Get = %+v, want updated values", got)
	}
}

func TestDeleteCursor(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c := Cursor{Account: "ana@example.com", Mailbox: "INBOX", LastUID: 9, UpdatedAt: time.Now().UTC()}
	if err := store.Put(ctx, c); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "ana@example.com"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := store.Get(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("cursor still present after delete: %+v", got)
	}

	// Deleting a missing cursor is not an error.
	if err := store.Delete(ctx, "ana@example.com"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestPing(t *testing.T) {
	store := openTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCursorsAreIsolatedByAccount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, account := range []string{"a@example.com", "b@example.com"} {
		c := Cursor{Account: account, Mailbox: "INBOX", LastUID: uint32(100 * (i + 1)), UpdatedAt: time.Now().UTC()}
		if err := store.Put(ctx, c); err != nil {
			t.Fatalf("Put(%s) failed: %v", account, err)
		}
	}

	a, err := store.Get(ctx, "a@example.com")
	if err != nil || a == nil || a.LastUID != 100 {
		t.Errorf("a = %+v, err = %v", a, err)
	}
	b, err := store.Get(ctx, "b@example.com")
	if err != nil || b == nil || b.LastUID != 200 {
		t.Errorf("b = %+v, err = %v", b, err)
	}
}
