package store

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/log"
)

const (
	dialTimeout    = 30 * time.Second
	scrollPageSize = uint32(256)
	qdrantDistance = pb.Distance_Cosine
)

var waitTrue = true

// QdrantStore is the remote backend. Each modality maps to its own
// Qdrant collection with cosine distance.
type QdrantStore struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
	vectorSize  uint64
	closed      atomic.Bool
}

// NewQdrantStore connects to a Qdrant instance and ensures both
// collections exist with the given vector size.
func NewQdrantStore(addr string, dimensions int) (*QdrantStore, error) {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", addr, err)
	}

	s := &QdrantStore{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
		vectorSize:  uint64(dimensions),
	}

	for _, name := range []string{domain.CollectionDocuments, domain.CollectionImages} {
		if err := s.ensureCollection(ctx, name); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	listResp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == name {
			info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
			if err == nil && info.Result != nil && info.Result.Config != nil && info.Result.Config.Params != nil {
				if vc := info.Result.Config.Params.GetVectorsConfig(); vc != nil {
					if params := vc.GetParams(); params != nil && params.Size != s.vectorSize {
						return fmt.Errorf("%w: collection %s has vector size %d, embedder produces %d",
							domain.ErrConfigInvalid, name, params.Size, s.vectorSize)
					}
				}
			}
			return nil
		}
	}

	return s.createCollection(ctx, name)
}

func (s *QdrantStore) createCollection(ctx context.Context, name string) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     s.vectorSize,
					Distance: qdrantDistance,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	log.WithModule("store").Info("created Qdrant collection", "collection", name, "vector_size", s.vectorSize)
	return nil
}

func (s *QdrantStore) guard() error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	return nil
}

// pointID maps a stable string ID onto a deterministic UUID, which is
// what Qdrant accepts as point identity.
func pointID(id string) *pb.PointId {
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func buildFilter(filters map[string]interface{}) *pb.Filter {
	if len(filters) == 0 {
		return nil
	}
	conditions := make([]*pb.Condition, 0, len(filters))
	for k, v := range filters {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: k,
					Match: &pb.Match{
						MatchValue: &pb.Match_Text{Text: fmt.Sprintf("%v", v)},
					},
				},
			},
		})
	}
	return &pb.Filter{Must: conditions}
}

func stringPayload(meta map[string]string) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(meta))
	for k, v := range meta {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return payload
}

func payloadStrings(payload map[string]*pb.Value) map[string]string {
	meta := make(map[string]string, len(payload))
	for k, v := range payload {
		meta[k] = v.GetStringValue()
	}
	return meta
}

func (s *QdrantStore) UpsertChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", domain.ErrLengthMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		payload := stringPayload(flattenMetadata(chunk.Metadata))
		payload["content"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: chunk.Content}}
		payload["doc_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: chunk.DocumentID}}
		payload["chunk_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: chunk.ID}}

		points = append(points, &pb.PointStruct{
			Id: pointID(chunk.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: narrow(vectors[i])},
				},
			},
			Payload: payload,
		})
	}

	return s.upsert(ctx, domain.CollectionDocuments, points)
}

func (s *QdrantStore) UpsertImages(ctx context.Context, images []domain.ImageDoc, vectors [][]float64) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(images) != len(vectors) {
		return fmt.Errorf("%w: %d images, %d vectors", domain.ErrLengthMismatch, len(images), len(vectors))
	}
	if len(images) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(images))
	for i, img := range images {
		points = append(points, &pb.PointStruct{
			Id: pointID(img.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: narrow(vectors[i])},
				},
			},
			Payload: stringPayload(imageMetadata(img)),
		})
	}

	return s.upsert(ctx, domain.CollectionImages, points)
}

func (s *QdrantStore) upsert(ctx context.Context, collection string, points []*pb.PointStruct) error {
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points into %s: %w", collection, err)
	}
	return nil
}

func (s *QdrantStore) search(ctx context.Context, collection string, vector []float64, topK int, filter map[string]interface{}) ([]*pb.ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 5
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         narrow(vector),
		Filter:         buildFilter(filter),
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search in %s failed: %w", collection, err)
	}
	return resp.Result, nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	results, err := s.search(ctx, domain.CollectionDocuments, vector, topK, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(results))
	for _, point := range results {
		meta := payloadStrings(point.Payload)
		chunk := chunkFromStored(meta["chunk_id"], meta["doc_id"], meta["content"], meta)
		hits = append(hits, hitFromChunk(chunk, float64(point.Score)))
	}
	return assignRanks(hits), nil
}

func (s *QdrantStore) SearchImages(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	results, err := s.search(ctx, domain.CollectionImages, vector, topK, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(results))
	for _, point := range results {
		hits = append(hits, hitFromImage(payloadStrings(point.Payload), float64(point.Score)))
	}
	return assignRanks(hits), nil
}

func (s *QdrantStore) SearchMultimodal(ctx context.Context, vector []float64, topK int, textWeight, imageWeight float64) ([]domain.SearchHit, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return searchMultimodal(ctx, s, vector, topK, textWeight, imageWeight)
}

// scrollAll pages through a collection and returns every point
// matching the filter. limit <= 0 means no cap.
func (s *QdrantStore) scrollAll(ctx context.Context, collection string, filter *pb.Filter, limit int) ([]*pb.RetrievedPoint, error) {
	var out []*pb.RetrievedPoint
	var offset *pb.PointId

	for {
		page := scrollPageSize
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          &page,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scroll of %s failed: %w", collection, err)
		}

		out = append(out, resp.Result...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			return out, nil
		}
		offset = resp.NextPageOffset
	}
}

func (s *QdrantStore) Delete(ctx context.Context, req domain.DeleteRequest) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	if err := validateDeleteRequest(req); err != nil {
		return 0, err
	}

	before, err := s.Count(ctx, domain.CollectionDocuments)
	if err != nil {
		return 0, err
	}

	var selector *pb.PointsSelector
	switch {
	case req.DocumentID != "":
		selector = &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: buildFilter(map[string]interface{}{"doc_id": req.DocumentID}),
			},
		}
	case len(req.ChunkIDs) > 0:
		ids := make([]*pb.PointId, 0, len(req.ChunkIDs))
		for _, id := range req.ChunkIDs {
			ids = append(ids, pointID(id))
		}
		selector = &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		}
	default:
		selector = &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: buildFilter(req.Where),
			},
		}
	}

	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: domain.CollectionDocuments,
		Points:         selector,
		Wait:           &waitTrue,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete points: %w", err)
	}

	after, err := s.Count(ctx, domain.CollectionDocuments)
	if err != nil {
		return 0, err
	}
	return before - after, nil
}

func (s *QdrantStore) RemoveImage(ctx context.Context, imageID string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	if imageID == "" {
		return false, fmt.Errorf("%w: empty image ID", domain.ErrInvalidInput)
	}

	img, err := s.GetImageByID(ctx, imageID)
	if err != nil {
		return false, err
	}
	if img == nil {
		return false, nil
	}

	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: domain.CollectionImages,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(imageID)}},
			},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete image %s: %w", imageID, err)
	}
	return true, nil
}

func (s *QdrantStore) ListDocuments(ctx context.Context, limit int) ([]domain.DocumentInfo, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	points, err := s.scrollAll(ctx, domain.CollectionDocuments, nil, 0)
	if err != nil {
		return nil, err
	}

	chunks := make([]domain.Chunk, 0, len(points))
	for _, point := range points {
		meta := payloadStrings(point.Payload)
		chunks = append(chunks, chunkFromStored(meta["chunk_id"], meta["doc_id"], meta["content"], meta))
	}
	return aggregateDocuments(chunks, limit), nil
}

func (s *QdrantStore) ListImages(ctx context.Context, limit int) ([]domain.ImageDoc, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	points, err := s.scrollAll(ctx, domain.CollectionImages, nil, limit)
	if err != nil {
		return nil, err
	}

	images := make([]domain.ImageDoc, 0, len(points))
	for _, point := range points {
		images = append(images, imageFromMetadata(payloadStrings(point.Payload)))
	}
	return images, nil
}

func (s *QdrantStore) GetDocumentByID(ctx context.Context, documentID string) (*domain.DocumentInfo, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	points, err := s.scrollAll(ctx, domain.CollectionDocuments,
		buildFilter(map[string]interface{}{"doc_id": documentID}), 0)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}

	chunks := make([]domain.Chunk, 0, len(points))
	for _, point := range points {
		meta := payloadStrings(point.Payload)
		chunks = append(chunks, chunkFromStored(meta["chunk_id"], meta["doc_id"], meta["content"], meta))
	}
	infos := aggregateDocuments(chunks, 1)
	return &infos[0], nil
}

func (s *QdrantStore) GetImageByID(ctx context.Context, imageID string) (*domain.ImageDoc, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	points, err := s.scrollAll(ctx, domain.CollectionImages,
		buildFilter(map[string]interface{}{"id": imageID}), 1)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}

	img := imageFromMetadata(payloadStrings(points[0].Payload))
	return &img, nil
}

func (s *QdrantStore) Clear(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	for _, name := range []string{domain.CollectionDocuments, domain.CollectionImages} {
		if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
			log.WithModule("store").Warn("failed to drop collection during clear", "collection", name, "error", err)
		}
		if err := s.createCollection(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("count of %s failed: %w", collection, err)
	}
	if resp.Result == nil {
		return 0, nil
	}
	return int(resp.Result.Count), nil
}

func (s *QdrantStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
