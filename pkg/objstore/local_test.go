package objstore

import (
	"context"
	"testing"
)

func TestLocalStoreWriteReadRoundtrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	if err := store.Write(ctx, "artifacts/abc/file.txt", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := store.ReadToString(ctx, "artifacts/abc/file.txt")
	if err != nil {
		t.Fatalf("ReadToString: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	ok, err := store.Exists(ctx, "artifacts/abc/file.txt")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
}

func TestLocalStoreRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	cases := []string{"../outside.txt", "/etc/passwd", "a/../../b"}
	for _, c := range cases {
		if err := store.Write(ctx, c, []byte("x")); err == nil {
			t.Errorf("Write(%q) = nil error, want ErrInvalidPath", c)
		}
	}
}

func TestLocalStoreRemoveFileMissingIsNotAnError(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if err := store.RemoveFile(context.Background(), "never-existed.txt"); err != nil {
		t.Fatalf("RemoveFile on missing file: %v", err)
	}
}

func TestLocalStoreCopy(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Write(ctx, "src.txt", []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Copy(ctx, "src.txt", "dst.txt"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	got, err := store.ReadToString(ctx, "dst.txt")
	if err != nil || got != "payload" {
		t.Fatalf("ReadToString(dst) = %q, %v", got, err)
	}
}

func TestLocalStoreRangedRead(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Write(ctx, "f.bin", []byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := store.RangedRead(ctx, "f.bin", 3, 4)
	if err != nil {
		t.Fatalf("RangedRead: %v", err)
	}
	if string(got) != "3456" {
		t.Fatalf("got %q, want %q", got, "3456")
	}
}
