// Package graph implements the Content DB: a Neo4j-backed graph of content
// nodes (leaves and groups) connected by "contains" and "with" relations.
package graph

// NodeKind labels what a content node represents.
type NodeKind string

const (
	// Leaf kinds carry indexable content.
	KindText       NodeKind = "text"
	KindImage      NodeKind = "image"
	KindAudioFrame NodeKind = "audio_frame"
	KindImageFrame NodeKind = "image_frame"
	KindPage       NodeKind = "page"

	// Group kinds own a set of leaves via "contains" edges.
	KindAudio    NodeKind = "audio"
	KindVideo    NodeKind = "video"
	KindDocument NodeKind = "document"
	KindWebPage  NodeKind = "web_page"

	// KindPayload is the single per-file anchor node that a file's top-level
	// group (or a standalone leaf) links to with a "with" edge.
	KindPayload NodeKind = "payload"
)

// EdgeKind labels the relation a graph edge expresses.
type EdgeKind string

const (
	// EdgeContains is the hierarchical group→leaf (or group→group) relation.
	EdgeContains EdgeKind = "contains"
	// EdgeWith links a file's top-level group node (or a standalone leaf)
	// to the file's payload node.
	EdgeWith EdgeKind = "with"
)

// Node is one vertex in the content graph.
type Node struct {
	ID             string            `json:"id"`
	FileIdentifier string            `json:"file_identifier"`
	Kind           NodeKind          `json:"kind"`
	TaskType       string            `json:"task_type,omitempty"`
	Text           string            `json:"text,omitempty"`
	StartTimestamp *int64            `json:"start_timestamp,omitempty"`
	EndTimestamp   *int64            `json:"end_timestamp,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
}

// Edge connects two nodes.
type Edge struct {
	ID   string   `json:"id"`
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeKind `json:"type"`
}
