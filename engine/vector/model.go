// Package vector implements the Vector Index over Qdrant: one collection
// per embedding field, each with its own dimensionality and distance
// metric, searched concurrently and fused by engine/retrieval.
package vector

// Field names the embedding field a collection serves.
type Field string

const (
	FieldTextEmbedding          Field = "text_embedding"
	FieldImageCaptionEmbedding  Field = "image_caption_embedding"
	FieldImageEmbedding         Field = "image_embedding"
)

// Collection describes one Qdrant collection's shape.
type Collection struct {
	Name     string
	Dims     int
	Distance string // "cosine" | "euclidean"
}

// Collections lists the fixed collections the engine maintains, per the
// hop-budget ranges used by engine/retrieval (text <|10,40|>, image
// <|2,20|>).
var Collections = map[Field]Collection{
	FieldTextEmbedding:         {Name: "text_embedding", Dims: 1024, Distance: "euclidean"},
	FieldImageCaptionEmbedding: {Name: "image_caption_embedding", Dims: 1024, Distance: "euclidean"},
	FieldImageEmbedding:        {Name: "image_embedding", Dims: 512, Distance: "cosine"},
}

// Record is one point to upsert: a deterministic UUID (see engine/bridge),
// its embedding, and the payload bridging it back to a content node.
type Record struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// SearchResult is one hit returned from a collection search.
type SearchResult struct {
	ID             string
	Score          float32
	FileIdentifier string
	NodeID         string
	TaskType       string
	Payload        map[string]string
}
