/**
 * Qdrant Semantic Index for Registry Names
 *
 * Stores one VoyageAI embedding per registry product name in the drug_names
 * collection and answers nearest-name queries when SQL fuzzy search finds
 * nothing. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorDimensions matches the VoyageAI voyage-3 embedding size.
const VectorDimensions = 1024

// namePointSpace makes point ids deterministic per approval number so a
// reindex overwrites instead of duplicating.
var namePointSpace = uuid.MustParse("6f1c7a52-3c1e-4f8e-9d43-0b6f6b2c9a10")

// QdrantClient handles vector database operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
}

// NamePoint is one indexed registry name.
type NamePoint struct {
	ApprovalNo string
	Name       string
	Vector     []float32
}

// NameHit is a search result; Similarity is the cosine score in [0,1].
type NameHit struct {
	ApprovalNo string
	Name       string
	Similarity float64
}

// NewQdrantClient creates a new Qdrant client
func NewQdrantClient(address string, collectionName string) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     VectorDimensions,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// namePointID derives the point id for one (approval number, name) pair.
func namePointID(approvalNo, name string) string {
	return uuid.NewSHA1(namePointSpace, []byte(approvalNo+"\x00"+name)).String()
}

// UpsertNames stores or replaces a batch of name vectors.
func (q *QdrantClient) UpsertNames(ctx context.Context, points []NamePoint) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != VectorDimensions {
			return fmt.Errorf("invalid vector dimensions for %s: expected %d, got %d",
				p.ApprovalNo, VectorDimensions, len(p.Vector))
		}
		structs = append(structs, &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{Uuid: namePointID(p.ApprovalNo, p.Name)},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: p.Vector},
				},
			},
			Payload: map[string]*qdrant.Value{
				"approval_no": {Kind: &qdrant.Value_StringValue{StringValue: p.ApprovalNo}},
				"name":        {Kind: &qdrant.Value_StringValue{StringValue: p.Name}},
			},
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d name vectors: %w", len(structs), err)
	}
	return nil
}

// SearchNames returns the names nearest to queryVector.
func (q *QdrantClient) SearchNames(ctx context.Context, queryVector []float32, limit int) ([]NameHit, error) {
	if len(queryVector) != VectorDimensions {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", VectorDimensions, len(queryVector))
	}

	if limit <= 0 {
		limit = 10
	}

	results, err := q.client.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	hits := make([]NameHit, 0, len(results.Result))
	for _, result := range results.Result {
		hit := NameHit{Similarity: float64(result.Score)}
		if v, ok := result.Payload["approval_no"]; ok {
			hit.ApprovalNo = v.GetStringValue()
		}
		if v, ok := result.Payload["name"]; ok {
			hit.Name = v.GetStringValue()
		}
		if hit.ApprovalNo == "" {
			continue
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
