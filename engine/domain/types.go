// Package domain defines the core identifiers, task-type sum types, run
// records, and validation gates shared across the content engine.
package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// FileIdentifier is a 16-hex-char content address. It is the primary key
// across every subsystem: artifacts, task run records, graph nodes, and
// vector payloads are all addressed by it.
type FileIdentifier string

// Fingerprinting constants. Files at or below wholeFileThreshold are
// hashed in full; larger files are fingerprinted from their size, header,
// footer, and a handful of evenly spaced interior blocks so that hashing
// a multi-gigabyte video never requires reading it end to end.
const (
	wholeFileThreshold = 64 * 1024
	edgeBlockSize       = 4096
	interiorSampleCount = 4
	interiorBlockSize   = 4096
	identifierBytes     = 8 // 16 hex chars
)

// NewFileIdentifier computes the content-addressed fingerprint of content:
// hash(file_size ‖ header ‖ N sampled interior blocks ‖ footer), truncated
// to identifierBytes. Content below wholeFileThreshold is hashed whole.
func NewFileIdentifier(content []byte) FileIdentifier {
	h := sha256.New()

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(len(content)))
	h.Write(sizeBuf[:])

	if len(content) <= wholeFileThreshold {
		h.Write(content)
	} else {
		header := content[:min(edgeBlockSize, len(content))]
		footer := content[len(content)-min(edgeBlockSize, len(content)):]
		h.Write(header)
		for i := 0; i < interiorSampleCount; i++ {
			off := interiorOffset(len(content), i)
			end := min(off+interiorBlockSize, len(content))
			h.Write(content[off:end])
		}
		h.Write(footer)
	}

	sum := h.Sum(nil)
	return FileIdentifier(hex.EncodeToString(sum[:identifierBytes]))
}

// interiorOffset spaces sample i evenly across the interior of a file of
// the given size, skipping the header/footer regions already hashed.
func interiorOffset(size, i int) int {
	usable := size - 2*edgeBlockSize
	if usable <= interiorBlockSize {
		return edgeBlockSize
	}
	stride := usable / interiorSampleCount
	return edgeBlockSize + i*stride
}

func (f FileIdentifier) String() string { return string(f) }

// Shard returns the first three hex characters of the identifier, the
// directory fanout used under files/ and artifacts/.
func (f FileIdentifier) Shard() string {
	if len(f) < 3 {
		return string(f)
	}
	return string(f)[:3]
}

// Valid reports whether f is a well-formed 16-hex-char identifier.
func (f FileIdentifier) Valid() bool {
	if len(f) != identifierBytes*2 {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}

// FileInfo pairs a FileIdentifier with the path it was read from.
type FileInfo struct {
	FileIdentifier FileIdentifier `json:"file_identifier"`
	FilePath       string         `json:"file_path"`
}

// ContentKind is the top-level family a task type belongs to.
type ContentKind string

const (
	KindVideo   ContentKind = "video"
	KindAudio   ContentKind = "audio"
	KindImage   ContentKind = "image"
	KindRawText ContentKind = "raw-text"
	KindWebPage ContentKind = "web-page"
)

// kindPrefixes lists wire prefixes longest-first so parsing never matches
// a shorter kind against a longer one's prefix by accident.
var kindPrefixes = []ContentKind{KindWebPage, KindRawText, KindVideo, KindAudio, KindImage}

// TaskType is the closed sum type identifying one unit of derivable work
// over a file, e.g. "video-trans-chunk-sum-embed" or "image-thumbnail".
type TaskType struct {
	Kind    ContentKind
	Variant string
}

// String renders the wire form "<kind>-<variant>".
func (t TaskType) String() string {
	return fmt.Sprintf("%s-%s", t.Kind, t.Variant)
}

// ParseTaskType parses a wire-form task type string, mirroring the prefix
// matching used by the original Rust ContentTaskType::try_from(&str).
func ParseTaskType(s string) (TaskType, error) {
	for _, kind := range kindPrefixes {
		prefix := string(kind) + "-"
		if strings.HasPrefix(s, prefix) {
			variant := s[len(prefix):]
			if variant == "" {
				return TaskType{}, NewValidationError("task_type", s, fmt.Errorf("%w: empty variant", ErrInvalidInput))
			}
			return TaskType{Kind: kind, Variant: variant}, nil
		}
	}
	return TaskType{}, NewValidationError("task_type", s, fmt.Errorf("%w: unrecognised kind prefix", ErrInvalidInput))
}

func (t TaskType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TaskType) UnmarshalText(b []byte) error {
	parsed, err := ParseTaskType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TaskRunRecord is the persisted bookkeeping entry for one attempt to run
// a TaskType against a file. A nil ExitCode means the run never finished
// (crashed or was interrupted) and is a candidate for trigger_unfinished.
type TaskRunRecord struct {
	FileIdentifier   FileIdentifier `json:"file_identifier"`
	TaskType         TaskType       `json:"task_type"`
	RunID            string         `json:"run_id"`
	Fingerprint      string         `json:"fingerprint"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	ExitCode         *int           `json:"exit_code,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	OutputDescriptor string         `json:"output_descriptor,omitempty"`
}

// Done reports whether the run reached a terminal state.
func (r TaskRunRecord) Done() bool { return r.FinishedAt != nil && r.ExitCode != nil }

// Artifact is a stored output of a completed task run.
type Artifact struct {
	FileIdentifier FileIdentifier `json:"file_identifier"`
	TaskType       TaskType       `json:"task_type"`
	RunID          string         `json:"run_id"`
	Path           string         `json:"path"`
	Bytes          int64          `json:"bytes"`
	CreatedAt      time.Time      `json:"created_at"`
}

// LifecycleEvent classifies a change to a content node or artifact.
type LifecycleEvent string

const (
	LifecycleCreated   LifecycleEvent = "created"
	LifecycleMutated   LifecycleEvent = "mutated"
	LifecycleDestroyed LifecycleEvent = "destroyed"
)

// VectorPayload is the metadata attached to every point written to the
// vector index, bridging a content node back to its owning file and task.
type VectorPayload struct {
	FileIdentifier FileIdentifier `json:"file_identifier"`
	TaskType       TaskType       `json:"task_type"`
	NodeID         string         `json:"node_id"`
	StartTimestamp *int64         `json:"start_timestamp,omitempty"`
	EndTimestamp   *int64         `json:"end_timestamp,omitempty"`
}
