// Package bridge derives deterministic point identifiers for the vector
// index from a content node's identity, so re-deriving the same node
// always upserts the same point instead of leaking duplicates.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lumenforge/contentbase/engine/domain"
)

// payloadKey is the canonical shape hashed into a point ID.
// Re-marshalling the same logical payload always yields the same bytes
// because encoding/json emits struct fields in their declared order.
type payloadKey struct {
	FileIdentifier string `json:"file_identifier"`
	TaskType       string `json:"task_type"`
	NodeID         string `json:"node_id"`
}

// PointID derives a deterministic version-5 UUID for a content node's
// vector-index point, generalizing the teacher's per-chunk
// uuid.NewSHA1(uuid.NameSpaceURL, docID-chunkIndex) pattern to the full
// {file_identifier, task_type, node_id} payload shape.
func PointID(fileIdentifier domain.FileIdentifier, taskType domain.TaskType, nodeID string) string {
	key := payloadKey{
		FileIdentifier: fileIdentifier.String(),
		TaskType:       taskType.String(),
		NodeID:         nodeID,
	}
	data, _ := json.Marshal(key)
	return uuid.NewSHA1(uuid.NameSpaceURL, data).String()
}

// Payload builds the metadata map attached to a vector-index point,
// bridging it back to the content node it was derived from.
func Payload(v domain.VectorPayload) map[string]any {
	m := map[string]any{
		"file_identifier": v.FileIdentifier.String(),
		"task_type":       v.TaskType.String(),
		"node_id":         v.NodeID,
	}
	if v.StartTimestamp != nil {
		m["start_timestamp"] = *v.StartTimestamp
	}
	if v.EndTimestamp != nil {
		m["end_timestamp"] = *v.EndTimestamp
	}
	return m
}

// ParsePayload reconstructs a VectorPayload from its file identifier,
// wire-form task type and node ID strings. Timestamps are not restored.
func ParsePayload(fileIdentifier, taskType, nodeID string) (domain.VectorPayload, error) {
	tt, err := domain.ParseTaskType(taskType)
	if err != nil {
		return domain.VectorPayload{}, fmt.Errorf("bridge: parse payload task type: %w", err)
	}
	return domain.VectorPayload{
		FileIdentifier: domain.FileIdentifier(fileIdentifier),
		TaskType:       tt,
		NodeID:         nodeID,
	}, nil
}
