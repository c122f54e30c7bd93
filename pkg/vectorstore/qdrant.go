package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements Store against a real Qdrant instance.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore dials a Qdrant instance at host:port (gRPC port, typically
// 6334). The caller splits config's VECTOR_STORE_URL into host and port.
func NewQdrantStore(ctx context.Context, host string, port int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: dial qdrant at %s:%d: %w", host, port, err)
	}
	return &QdrantStore{client: client}, nil
}

func toQdrantDistance(d Distance) qdrant.Distance {
	if d == DistanceDot {
		return qdrant.Distance_Dot
	}
	return qdrant.Distance_Cosine
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, vectorDim int, distance Distance, hnsw HNSWParams) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	m := uint64(hnsw.M)
	ef := uint64(hnsw.EfConstruct)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorDim),
			Distance: toQdrantDistance(distance),
		}),
		HnswConfig: &qdrant.HnswConfigDiff{M: &m, EfConstruct: &ef},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", name, err)
	}
	slog.Info("vectorstore collection created", "collection", name, "dim", vectorDim)
	return nil
}

func toQdrantPoint(p Point) *qdrant.PointStruct {
	payload := make(map[string]*qdrant.Value, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = toQdrantValue(v)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: payload,
	}
}

func toQdrantValue(v any) *qdrant.Value {
	switch x := v.(type) {
	case string:
		return qdrant.NewValueString(x)
	case bool:
		return qdrant.NewValueBool(x)
	case int:
		return qdrant.NewValueInt(int64(x))
	case int64:
		return qdrant.NewValueInt(x)
	case float64:
		return qdrant.NewValueDouble(x)
	default:
		return qdrant.NewValueString(fmt.Sprintf("%v", x))
	}
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v.AsInterface()
	}
	return out
}

func (s *QdrantStore) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	qp := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qp[i] = toQdrantPoint(p)
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qp,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert into %s: %w", collection, err)
	}
	return nil
}

func (s *QdrantStore) Scroll(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]Point, string, error) {
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if offset != "" {
		req.Offset = qdrant.NewIDUUID(offset)
	}

	resp, err := s.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("vectorstore: scroll %s: %w", collection, err)
	}

	points := make([]Point, len(resp))
	for i, p := range resp {
		points[i] = Point{
			ID:      p.Id.GetUuid(),
			Payload: fromQdrantPayload(p.Payload),
		}
	}

	var next string
	if len(resp) == limit && limit > 0 {
		next = points[len(points)-1].ID
	}
	return points, next, nil
}

func (s *QdrantStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	qids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		qids[i] = qdrant.NewIDUUID(id)
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(qids...),
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete from %s: %w", collection, err)
	}
	return nil
}

func (s *QdrantStore) UpdateCollection(ctx context.Context, collection string, hnsw HNSWParams) error {
	m := uint64(hnsw.M)
	ef := uint64(hnsw.EfConstruct)
	_, err := s.client.UpdateCollection(ctx, &qdrant.UpdateCollection{
		CollectionName: collection,
		HnswConfig:     &qdrant.HnswConfigDiff{M: &m, EfConstruct: &ef},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: update collection %s: %w", collection, err)
	}
	return nil
}
