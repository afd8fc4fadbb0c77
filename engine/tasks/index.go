package tasks

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lumenforge/contentbase/engine/bridge"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/vector"
)

// leafSpec describes one leaf content node to persist plus, optionally,
// the embedding that makes it retrievable.
type leafSpec struct {
	Kind           graph.NodeKind
	Text           string
	StartTimestamp *int64
	EndTimestamp   *int64
	Properties     map[string]string

	Field     vector.Field // zero value means "no embedding to index"
	Embedding []float32
}

// indexLeaf persists one leaf node, links it under its parent group via
// "contains", and — if an embedding was supplied — upserts the matching
// vector point and, for text leaves, a full-text entry. Callers pass a
// deterministic nodeID (from leafNodeID, groupNodeID or frameImageNodeID)
// so re-running the task overwrites rather than duplicates.
func indexLeaf(ctx context.Context, d Deps, fid domain.FileIdentifier, tt domain.TaskType, parentID, nodeID string, spec leafSpec) error {
	text := spec.Text
	if text == "" {
		// A sibling task (e.g. *Description, running before or after this
		// one in either order since neither depends on the other) may
		// already have set descriptive text on this same node id. Fetch
		// and preserve it rather than clobbering it with an empty merge.
		if existing, err := d.Graph.GetNode(ctx, nodeID); err == nil {
			text = existing.Text
		}
	}
	node := graph.Node{
		ID:             nodeID,
		FileIdentifier: fid.String(),
		Kind:           spec.Kind,
		TaskType:       tt.String(),
		Text:           text,
		StartTimestamp: spec.StartTimestamp,
		EndTimestamp:   spec.EndTimestamp,
		Properties:     spec.Properties,
	}
	if err := d.Graph.SaveNode(ctx, node); err != nil {
		return fmt.Errorf("tasks: save leaf node %s: %w", nodeID, err)
	}
	if parentID != "" {
		edge := graph.Edge{ID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(parentID+"|"+nodeID)).String(), From: parentID, To: nodeID, Type: graph.EdgeContains}
		if err := d.Graph.Link(ctx, edge); err != nil {
			return fmt.Errorf("tasks: link %s->%s: %w", parentID, nodeID, err)
		}
	}

	if spec.Field == "" {
		return nil
	}

	payload := domain.VectorPayload{FileIdentifier: fid, TaskType: tt, NodeID: nodeID, StartTimestamp: spec.StartTimestamp, EndTimestamp: spec.EndTimestamp}
	pointID := bridge.PointID(fid, tt, nodeID)
	record := vector.Record{ID: pointID, Embedding: spec.Embedding, Payload: bridge.Payload(payload)}
	if err := d.Vector.Upsert(ctx, spec.Field, []vector.Record{record}); err != nil {
		return fmt.Errorf("tasks: upsert vector point for %s: %w", nodeID, err)
	}

	if spec.Field == vector.FieldTextEmbedding && spec.Text != "" {
		if err := d.FullText.IndexNode(nodeID, spec.Text); err != nil {
			return fmt.Errorf("tasks: index full text for %s: %w", nodeID, err)
		}
	}
	return nil
}

// groupNodeID derives a stable group-node id for a file's top-level
// content node, independent of run id so re-runs replace rather than
// duplicate the group.
func groupNodeID(fid domain.FileIdentifier, kind graph.NodeKind) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fid.String()+"|"+string(kind))).String()
}

// leafNodeID derives a stable leaf-node id from its owning file, task
// type, and an ordinal/position within that task's output.
func leafNodeID(fid domain.FileIdentifier, tt domain.TaskType, ordinal string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fid.String()+"|"+tt.String()+"|"+ordinal)).String()
}

// ensureGroupWithPayload upserts a file's top-level group node (a node
// kind distinct from its members: video, audio, document, or web_page)
// together with the "with"-edge to its payload anchor node. Safe to call
// repeatedly: properties are merged in, so a later task (e.g. one that
// learns the file's duration) can add fields without clobbering ones an
// earlier task set.
func ensureGroupWithPayload(ctx context.Context, d Deps, fid domain.FileIdentifier, kind graph.NodeKind, properties map[string]string) (string, error) {
	groupID := groupNodeID(fid, kind)
	if err := d.Graph.SaveNode(ctx, graph.Node{ID: groupID, FileIdentifier: fid.String(), Kind: kind, Properties: properties}); err != nil {
		return "", fmt.Errorf("tasks: save group node: %w", err)
	}
	if err := ensurePayloadEdge(ctx, d, fid, groupID); err != nil {
		return "", err
	}
	return groupID, nil
}

// ensurePayloadEdge upserts the payload anchor node and the "with"-edge
// from anchorID to it, without touching anchorID's own fields. Used both
// by ensureGroupWithPayload (anchor = a dedicated group node) and by
// content kinds with no group layer of their own (anchor = the leaf node
// itself, e.g. a standalone image).
func ensurePayloadEdge(ctx context.Context, d Deps, fid domain.FileIdentifier, anchorID string) error {
	payloadID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fid.String()+"|payload")).String()
	if err := d.Graph.SaveNode(ctx, graph.Node{ID: payloadID, FileIdentifier: fid.String(), Kind: graph.KindPayload}); err != nil {
		return fmt.Errorf("tasks: save payload node: %w", err)
	}
	edge := graph.Edge{ID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(anchorID + "|with|" + payloadID)).String(), From: anchorID, To: payloadID, Type: graph.EdgeWith}
	if err := d.Graph.Link(ctx, edge); err != nil {
		return fmt.Errorf("tasks: link anchor->payload: %w", err)
	}
	return nil
}
