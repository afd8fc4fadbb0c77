// Package artifact implements the Artifact Store: sharded artifact paths
// and the Task Run Record bookkeeping that makes task execution
// idempotent. Run records are persisted in a local bbolt database; the
// artifact bytes themselves live in the library's Storage Façade.
package artifact

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/pkg/objstore"
)

// activeBucket holds the authoritative pointer to each (file, task)'s
// last *successful* run: the one readers see and the one the executor
// checks for fingerprint-match idempotence. pendingBucket holds the most
// recent attempt regardless of outcome, including in-flight ones with a
// nil exit code, so trigger_unfinished can find crashed runs even when
// they never had a prior success to fall back on.
var (
	activeBucket  = []byte("active_runs")
	pendingBucket = []byte("pending_runs")
	seqBucket     = []byte("run_sequences")
)

// OutputKind classifies the shape of a task's output per §4.3.
type OutputKind string

const (
	OutputNone   OutputKind = "none"
	OutputFile   OutputKind = "file"
	OutputFolder OutputKind = "folder"
)

// Store is the sole owner of task run record bookkeeping and the
// deterministic sharded artifact layout.
type Store struct {
	db    *bolt.DB
	files objstore.Store
}

// Open opens (creating if absent) the bbolt database backing run records
// at dbPath, paired with the Storage Façade files is rooted against.
func Open(dbPath string, files objstore.Store) (*Store, error) {
	db, err := bolt.Open(dbPath, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("artifact: open bbolt %q: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{activeBucket, pendingBucket, seqBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("artifact: init buckets: %w", err)
	}
	return &Store{db: db, files: files}, nil
}

// Close releases the bbolt database handle.
func (s *Store) Close() error { return s.db.Close() }

// ArtifactDir returns the sharded directory a file's artifacts live
// under, relative to the library root: artifacts/<shard>/<fid>.
func ArtifactDir(fid domain.FileIdentifier) string {
	return path.Join("artifacts", fid.Shard(), fid.String())
}

// SourceFilePath returns the path a file's original bytes live at,
// relative to the library root: files/<shard>/<fid>.
func SourceFilePath(fid domain.FileIdentifier) string {
	return path.Join("files", fid.Shard(), fid.String())
}

func recordKey(fid domain.FileIdentifier, tt domain.TaskType) []byte {
	return []byte(fid.String() + "\x00" + tt.String())
}

// ActiveRecord returns the current authoritative (last successful) run
// record for (fid, taskType), if one exists.
func (s *Store) ActiveRecord(_ context.Context, fid domain.FileIdentifier, tt domain.TaskType) (domain.TaskRunRecord, bool, error) {
	return s.get(activeBucket, recordKey(fid, tt))
}

func (s *Store) get(bucket, key []byte) (domain.TaskRunRecord, bool, error) {
	var rec domain.TaskRunRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// Run is an in-flight attempt at a task, allocated but not yet resolved.
// Callers stamp its result via Finish.
type Run struct {
	store  *Store
	fid    domain.FileIdentifier
	tt     domain.TaskType
	record domain.TaskRunRecord
	kind   OutputKind
}

// Allocate starts a fresh run for (fid, taskType): a new run id, a new
// (not-yet-created) output path derived from it, and a start timestamp.
// The pending record is persisted immediately with a nil exit code so a
// crash before Finish still leaves a trigger_unfinished-visible trace.
func (s *Store) Allocate(fid domain.FileIdentifier, tt domain.TaskType, fingerprint string, kind OutputKind) (*Run, error) {
	runID, err := s.nextRunID(fid, tt)
	if err != nil {
		return nil, fmt.Errorf("artifact: allocate run id: %w", err)
	}

	var outputDescriptor string
	switch kind {
	case OutputFile:
		outputDescriptor = path.Join(ArtifactDir(fid), tt.Variant, runID, "output")
	case OutputFolder:
		outputDescriptor = path.Join(ArtifactDir(fid), tt.Variant, runID)
	case OutputNone:
		outputDescriptor = ""
	}

	rec := domain.TaskRunRecord{
		FileIdentifier:   fid,
		TaskType:         tt,
		RunID:            runID,
		Fingerprint:      fingerprint,
		StartedAt:        time.Now().UTC(),
		OutputDescriptor: outputDescriptor,
	}
	run := &Run{store: s, fid: fid, tt: tt, record: rec, kind: kind}
	if err := s.putPending(rec); err != nil {
		return nil, fmt.Errorf("artifact: persist pending run: %w", err)
	}
	return run, nil
}

// Record returns the run's current (possibly still in-flight) record.
func (r *Run) Record() domain.TaskRunRecord { return r.record }

// OutputPath resolves (and, for folder outputs, creates) the run's output
// path relative to the library root.
func (r *Run) OutputPath(ctx context.Context) (string, error) {
	if r.kind == OutputNone {
		return "", fmt.Errorf("artifact: task %s produces no output", r.tt)
	}
	if r.kind == OutputFolder {
		if err := r.store.files.CreateDir(ctx, r.record.OutputDescriptor); err != nil {
			return "", fmt.Errorf("artifact: create output dir: %w", err)
		}
	}
	return r.record.OutputDescriptor, nil
}

// Finish stamps the run's terminal state and always updates the pending
// record. Exit code 0 additionally supersedes the active pointer
// atomically; any other exit code leaves the previous active record (and
// the output it points at) untouched, so existing readers keep seeing the
// last good result while the failed attempt's own artifacts sit orphaned
// under their own run-id path, eligible for later cleanup.
func (r *Run) Finish(exitCode int, errMsg string) error {
	now := time.Now().UTC()
	r.record.FinishedAt = &now
	r.record.ExitCode = &exitCode
	r.record.ErrorMessage = errMsg

	if err := r.store.putPending(r.record); err != nil {
		return fmt.Errorf("artifact: persist finished run: %w", err)
	}
	if exitCode != 0 {
		return nil
	}
	return r.store.putActive(r.record)
}

func (s *Store) putPending(rec domain.TaskRunRecord) error {
	return s.put(pendingBucket, recordKey(rec.FileIdentifier, rec.TaskType), rec)
}

func (s *Store) putActive(rec domain.TaskRunRecord) error {
	return s.put(activeBucket, recordKey(rec.FileIdentifier, rec.TaskType), rec)
}

func (s *Store) put(bucket, key []byte, rec domain.TaskRunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

func (s *Store) nextRunID(fid domain.FileIdentifier, tt domain.TaskType) (string, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(seqBucket).CreateBucketIfNotExists(recordKey(fid, tt))
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		return err
	})
	if err != nil {
		return "", err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	// Prefix with the monotonic sequence so run directories sort in
	// creation order, suffix with a short random UUID segment so two
	// concurrent re-runs of the same task (a race the executor otherwise
	// forbids) can never collide on disk.
	return fmt.Sprintf("%016x-%s", seq, uuid.New().String()[:8]), nil
}

// PurgeRecords deletes every run record (active, pending, and sequence
// counters) for a file identifier, across all task types. Callers are
// responsible for also removing the artifact bytes via ArtifactDir.
func (s *Store) PurgeRecords(_ context.Context, fid domain.FileIdentifier) error {
	prefix := []byte(fid.String() + "\x00")
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{activeBucket, pendingBucket} {
			b := tx.Bucket(name)
			c := b.Cursor()
			var toDelete [][]byte
			for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			for _, k := range toDelete {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}

		seq := tx.Bucket(seqBucket)
		sc := seq.Cursor()
		var seqDelete [][]byte
		for k, v := sc.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = sc.Next() {
			if v == nil { // nested bucket, not a plain value
				seqDelete = append(seqDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range seqDelete {
			if err := seq.DeleteBucket(k); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}
		return nil
	})
}

// ListUnfinished returns every pending run record across the whole store
// whose ExitCode is nil, the candidate set for trigger_unfinished.
func (s *Store) ListUnfinished(_ context.Context) ([]domain.TaskRunRecord, error) {
	var out []domain.TaskRunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).ForEach(func(_, v []byte) error {
			var rec domain.TaskRunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.Done() {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
