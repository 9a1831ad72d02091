// Package store provides the vector store backends and the conversation
// state store.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/docsage/docsage/pkg/domain"
)

const (
	connectTimeout  = 30 * time.Second
	defaultDistance = pb.Distance_Cosine
)

var waitTrue = true

// QdrantStore implements domain.VectorStore over the Qdrant gRPC API.
// All records in the collection share the configured vector dimension; a
// mismatch is fatal and reported as domain.ErrDimensionMismatch.
type QdrantStore struct {
	points     pb.PointsClient
	conn       *grpc.ClientConn
	collection string
	dim        int
	log        zerolog.Logger
}

// NewQdrantStore connects to Qdrant and ensures the collection exists with
// the expected vector size.
func NewQdrantStore(url, collection string, dim int, log zerolog.Logger) (*QdrantStore, error) {
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, url, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	s := &QdrantStore{
		points:     pb.NewPointsClient(conn),
		conn:       conn,
		collection: collection,
		dim:        dim,
		log:        log.With().Str("component", "qdrant-store").Logger(),
	}
	if err := s.ensureCollection(ctx, pb.NewCollectionsClient(conn)); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, client pb.CollectionsClient) error {
	listResp, err := client.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name != s.collection {
			continue
		}
		info, err := client.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
		if err != nil {
			return fmt.Errorf("inspect collection %s: %w", s.collection, err)
		}
		if info.Result != nil && info.Result.Config != nil && info.Result.Config.Params != nil {
			if vc := info.Result.Config.Params.GetVectorsConfig(); vc != nil {
				if params := vc.GetParams(); params != nil && params.Size != uint64(s.dim) {
					s.log.Error().
						Uint64("collection_dim", params.Size).
						Int("configured_dim", s.dim).
						Msg("collection dimension does not match configuration")
					return fmt.Errorf("collection %s has dimension %d, configured %d: %w",
						s.collection, params.Size, s.dim, domain.ErrDimensionMismatch)
				}
			}
		}
		return nil
	}

	_, err = client.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dim),
					Distance: defaultDistance,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	s.log.Info().Str("collection", s.collection).Int("dim", s.dim).Msg("created qdrant collection")
	return nil
}

// Upsert writes records in the given order, waiting for acknowledgement so
// a later Query observes them.
func (s *QdrantStore) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != s.dim {
			return fmt.Errorf("record %s has %d dims, collection expects %d: %w",
				rec.ID, len(rec.Vector), s.dim, domain.ErrDimensionMismatch)
		}

		payload := map[string]*pb.Value{
			"content":  {Kind: &pb.Value_StringValue{StringValue: rec.Content}},
			"chunk_id": {Kind: &pb.Value_StringValue{StringValue: rec.ID}},
		}
		for k, v := range rec.Metadata {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}

		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				// Qdrant point IDs must be UUIDs; chunk IDs are mapped
				// deterministically so re-upserts overwrite in place.
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: uuid.NewSHA1(uuid.NameSpaceOID, []byte(rec.ID)).String(),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: rec.Vector},
				},
			},
			Payload: payload,
		})
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w: %v", domain.ErrTransient, err)
	}
	return nil
}

// Query returns the topK nearest chunks, optionally restricted by metadata
// equality clauses.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]domain.ScoredChunk, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("query vector has %d dims, collection expects %d: %w",
			len(vector), s.dim, domain.ErrDimensionMismatch)
	}
	if topK <= 0 {
		return nil, nil
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Filter:         buildFilter(filter),
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w: %v", domain.ErrTransient, err)
	}

	results := make([]domain.ScoredChunk, 0, len(resp.Result))
	for _, point := range resp.Result {
		chunk := domain.ScoredChunk{
			ID:       point.Id.GetUuid(),
			Score:    float64(point.Score),
			Metadata: make(map[string]string),
		}
		for k, v := range point.Payload {
			switch k {
			case "content":
				chunk.Content = v.GetStringValue()
			case "chunk_id":
				chunk.ID = v.GetStringValue()
			default:
				chunk.Metadata[k] = v.GetStringValue()
			}
		}
		results = append(results, chunk)
	}
	return results, nil
}

// Delete removes all points matching the metadata filter. An empty filter is
// rejected so a bug cannot wipe the collection.
func (s *QdrantStore) Delete(ctx context.Context, filter map[string]string) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: empty delete filter", domain.ErrInvalidFilter)
	}
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: buildFilter(filter)},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("delete points: %w: %v", domain.ErrTransient, err)
	}
	return nil
}

// FileSHA reads the stored file_sha for any chunk of sourceID, or "" when
// none exists.
func (s *QdrantStore) FileSHA(ctx context.Context, sourceID string) (string, error) {
	one := uint32(1)
	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: s.collection,
		Filter:         buildFilter(map[string]string{"source_id": sourceID}),
		Limit:          &one,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return "", fmt.Errorf("scroll: %w: %v", domain.ErrTransient, err)
	}
	for _, point := range resp.Result {
		if v, ok := point.Payload["file_sha"]; ok {
			return v.GetStringValue(), nil
		}
	}
	return "", nil
}

// Health checks the gRPC connection by listing collections.
func (s *QdrantStore) Health(ctx context.Context) error {
	_, err := pb.NewCollectionsClient(s.conn).List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	return nil
}

// Close tears down the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func buildFilter(filter map[string]string) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*pb.Condition, 0, len(filter))
	for k, v := range filter {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: k,
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: v},
					},
				},
			},
		})
	}
	return &pb.Filter{Must: conditions}
}
