package vector

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Store is the sole owner of all Qdrant operations, one instance shared
// across all fields in Collections.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// New connects to Qdrant at addr.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vector: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error { return s.conn.Close() }

// EnsureCollections creates every collection in Collections that doesn't
// already exist.
func (s *Store) EnsureCollections(ctx context.Context) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vector: list collections: %w", err)
	}
	existing := make(map[string]bool, len(list.GetCollections()))
	for _, c := range list.GetCollections() {
		existing[c.GetName()] = true
	}

	for _, col := range Collections {
		if existing[col.Name] {
			continue
		}
		dist := pb.Distance_Euclid
		if col.Distance == "cosine" {
			dist = pb.Distance_Cosine
		}
		_, err := s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: col.Name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(col.Dims),
						Distance: dist,
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("vector: create collection %s: %w", col.Name, err)
		}
	}
	return nil
}

// DeleteCollections drops every managed collection. Used by integration
// test teardown and full re-index.
func (s *Store) DeleteCollections(ctx context.Context) error {
	for _, col := range Collections {
		if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: col.Name}); err != nil {
			return fmt.Errorf("vector: delete collection %s: %w", col.Name, err)
		}
	}
	return nil
}

// Upsert stores embedding records into the named field's collection.
func (s *Store) Upsert(ctx context.Context, field Field, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	col, ok := Collections[field]
	if !ok {
		return fmt.Errorf("vector: unknown field %s", field)
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}}},
			Payload: toPayload(r.Payload),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: col.Name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vector: upsert %d points into %s: %w", len(records), col.Name, err)
	}
	return nil
}

// DeleteByFileIdentifier removes every point belonging to a file from a
// field's collection. Called when a file's content nodes are purged.
func (s *Store) DeleteByFileIdentifier(ctx context.Context, field Field, fileIdentifier string) error {
	col, ok := Collections[field]
	if !ok {
		return fmt.Errorf("vector: unknown field %s", field)
	}
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: col.Name,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("file_identifier", fileIdentifier)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: delete by file_identifier %s: %w", fileIdentifier, err)
	}
	return nil
}

// Search performs k-NN similarity search against one field's collection.
func (s *Store) Search(ctx context.Context, field Field, embedding []float32, topK int) ([]SearchResult, error) {
	return s.SearchFiltered(ctx, field, embedding, topK, nil)
}

// SearchFiltered performs similarity search with optional keyword filters,
// e.g. {"task_type": "video-trans-chunk-sum-embed"}.
func (s *Store) SearchFiltered(ctx context.Context, field Field, embedding []float32, topK int, filters map[string]string) ([]SearchResult, error) {
	col, ok := Collections[field]
	if !ok {
		return nil, fmt.Errorf("vector: unknown field %s", field)
	}

	req := &pb.SearchPoints{
		CollectionName: col.Name,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, v := range filters {
			must = append(must, fieldMatch(k, v))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector: search %s: %w", col.Name, err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{
			ID:      r.GetId().GetUuid(),
			Score:   r.GetScore(),
			Payload: make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			s := v.GetStringValue()
			switch k {
			case "file_identifier":
				sr.FileIdentifier = s
			case "node_id":
				sr.NodeID = s
			case "task_type":
				sr.TaskType = s
			default:
				sr.Payload[k] = s
			}
		}
		results[i] = sr
	}
	return results, nil
}

func toPayload(m map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(m))
	for k, val := range m {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return payload
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
