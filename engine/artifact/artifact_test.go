package artifact

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/pkg/objstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	files, err := objstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"), files)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var testFID = domain.NewFileIdentifier([]byte("artifact-store-test"))
var testTask = domain.TaskType{Kind: domain.KindImage, Variant: "thumbnail"}

func TestAllocateThenFinishPublishesActiveRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, found, err := store.ActiveRecord(ctx, testFID, testTask); err != nil || found {
		t.Fatalf("expected no active record yet, found=%v err=%v", found, err)
	}

	run, err := store.Allocate(testFID, testTask, "fp-v1", OutputFile)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, found, _ := store.ActiveRecord(ctx, testFID, testTask); found {
		t.Fatal("active record should not exist before Finish")
	}

	if err := run.Finish(0, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	rec, found, err := store.ActiveRecord(ctx, testFID, testTask)
	if err != nil || !found {
		t.Fatalf("expected active record after successful finish, found=%v err=%v", found, err)
	}
	if rec.Fingerprint != "fp-v1" || !rec.Done() {
		t.Fatalf("unexpected active record: %+v", rec)
	}
}

func TestFailedRerunDoesNotClobberActiveRecord(t *testing.T) {
	store := newTestStore(t)

	run1, _ := store.Allocate(testFID, testTask, "fp-v1", OutputFile)
	if err := run1.Finish(0, ""); err != nil {
		t.Fatalf("Finish run1: %v", err)
	}

	run2, _ := store.Allocate(testFID, testTask, "fp-v2", OutputFile)
	if err := run2.Finish(1, "model unavailable"); err != nil {
		t.Fatalf("Finish run2: %v", err)
	}

	rec, found, err := store.ActiveRecord(context.Background(), testFID, testTask)
	if err != nil || !found {
		t.Fatalf("expected active record to survive failed re-run, found=%v err=%v", found, err)
	}
	if rec.Fingerprint != "fp-v1" || rec.RunID != run1.Record().RunID {
		t.Fatalf("active record was clobbered by failed run: %+v", rec)
	}
}

func TestSupersedeOnFingerprintChange(t *testing.T) {
	store := newTestStore(t)

	run1, _ := store.Allocate(testFID, testTask, "fp-v1", OutputFile)
	run1.Finish(0, "")

	run2, _ := store.Allocate(testFID, testTask, "fp-v2", OutputFile)
	run2.Finish(0, "")

	rec, found, _ := store.ActiveRecord(context.Background(), testFID, testTask)
	if !found || rec.Fingerprint != "fp-v2" || rec.RunID == run1.Record().RunID {
		t.Fatalf("expected run2 to supersede run1, got %+v", rec)
	}
	if run1.Record().OutputDescriptor == run2.Record().OutputDescriptor {
		t.Fatal("expected distinct output paths per run id")
	}
}

func TestListUnfinishedFindsCrashedRuns(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Allocate(testFID, testTask, "fp-v1", OutputFile); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	// Simulate a crash: never call Finish.

	unfinished, err := store.ListUnfinished(context.Background())
	if err != nil {
		t.Fatalf("ListUnfinished: %v", err)
	}
	if len(unfinished) != 1 || unfinished[0].FileIdentifier != testFID {
		t.Fatalf("expected one unfinished run for %s, got %+v", testFID, unfinished)
	}
}

func TestPurgeRecordsRemovesAllTraces(t *testing.T) {
	store := newTestStore(t)
	run, _ := store.Allocate(testFID, testTask, "fp-v1", OutputFile)
	run.Finish(0, "")

	if err := store.PurgeRecords(context.Background(), testFID); err != nil {
		t.Fatalf("PurgeRecords: %v", err)
	}

	if _, found, _ := store.ActiveRecord(context.Background(), testFID, testTask); found {
		t.Fatal("expected active record to be gone after purge")
	}
	unfinished, _ := store.ListUnfinished(context.Background())
	for _, u := range unfinished {
		if u.FileIdentifier == testFID {
			t.Fatal("expected pending record to be gone after purge")
		}
	}
}
