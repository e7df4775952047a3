package vectorindex

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// pointNamespace derives Qdrant point UUIDs from chunk IDs, so upserts by
// chunk ID replace the same point.
var pointNamespace = uuid.MustParse("6f1c1d2e-8a4b-5c3d-9e7f-0a1b2c3d4e5f")

// qdrantTieSlack is how many extra candidates are fetched beyond n so equal
// scores at the cut are ranked deterministically.
const qdrantTieSlack = 16

// QdrantConfig configures the Qdrant backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default "localhost".
	Host string
	// Port is the gRPC port. Default 6334.
	Port int
	// APIKey authenticates against Qdrant Cloud.
	APIKey string
	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool
	// CollectionPrefix is prepended to every namespace. Default "lexrag_".
	CollectionPrefix string
	// MaxMessageSize is the gRPC message limit in bytes. Default 50MB.
	MaxMessageSize int
}

func (c *QdrantConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "lexrag_"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// QdrantBackend keeps one Qdrant collection per client namespace.
type QdrantBackend struct {
	client *qdrant.Client
	cfg    QdrantConfig
	logger *zap.Logger
}

// NewQdrantBackend connects to Qdrant over gRPC and checks its health.
func NewQdrantBackend(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	if !cfg.UseTLS {
		fmt.Fprintf(os.Stderr, "WARNING: Qdrant gRPC using plaintext (TLS disabled). Insecure for production.\n")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}

	logger.Info("qdrant vector index initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Bool("tls", cfg.UseTLS))
	return &QdrantBackend{client: client, cfg: cfg, logger: logger}, nil
}

func (b *QdrantBackend) Name() string { return "qdrant" }

func (b *QdrantBackend) collection(name string) string {
	return b.cfg.CollectionPrefix + name
}

func (b *QdrantBackend) Open(ctx context.Context, name string) (Namespace, error) {
	return &qdrantNamespace{client: b.client, collection: b.collection(name)}, nil
}

func (b *QdrantBackend) Drop(ctx context.Context, name string) error {
	err := b.client.DeleteCollection(ctx, b.collection(name))
	if err != nil && status.Code(err) != grpccodes.NotFound {
		return err
	}
	return nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

// Collection metadata keys holding the manifest.
const (
	metaClientID  = "lexrag_client_id"
	metaCreatedAt = "lexrag_created_at"
)

// qdrantNamespace is one client's collection. The collection is created on
// the first write, when the dimension is known; its vector size is the
// manifest dimension and its metadata records the owning client. Client
// ownership is also checked on every hit payload.
type qdrantNamespace struct {
	client     *qdrant.Client
	collection string
	exists     bool
}

func (n *qdrantNamespace) Manifest(ctx context.Context) (Manifest, bool, error) {
	info, err := n.client.GetCollectionInfo(ctx, n.collection)
	if status.Code(err) == grpccodes.NotFound {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, err
	}
	n.exists = true

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return Manifest{}, false, fmt.Errorf("%w: collection %s has no single vector config", model.ErrIndexCorrupt, n.collection)
	}
	return manifestFromCollection(int(params.GetSize()), info.GetConfig().GetMetadata()), true, nil
}

// manifestFromCollection reads the manifest of a collection. Collections
// without metadata yield an empty ClientID, which skips the ownership check.
func manifestFromCollection(dim int, meta map[string]*qdrant.Value) Manifest {
	m := Manifest{Dimension: dim, ClientID: meta[metaClientID].GetStringValue()}
	if ts, err := time.Parse(time.RFC3339Nano, meta[metaCreatedAt].GetStringValue()); err == nil {
		m.CreatedAt = ts
	}
	return m
}

func collectionMetadata(m Manifest) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		metaClientID:  m.ClientID,
		metaCreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (n *qdrantNamespace) WriteManifest(ctx context.Context, m Manifest) error {
	if n.exists {
		return nil
	}
	err := n.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: n.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(m.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
		Metadata: collectionMetadata(m),
	})
	if err != nil && status.Code(err) != grpccodes.AlreadyExists {
		return fmt.Errorf("creating collection %s: %w", n.collection, err)
	}
	for _, field := range []string{keyClientID, keySourceID, keySourceType} {
		_, err := n.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: n.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("indexing %s on %s: %w", field, n.collection, err)
		}
	}
	n.exists = true
	return nil
}

func (n *qdrantNamespace) Upsert(ctx context.Context, entries []Entry) error {
	points := make([]*qdrant.PointStruct, len(entries))
	for i, e := range entries {
		payload := make(map[string]any, 12)
		for k, v := range e.Metadata.strings() {
			payload[k] = v
		}
		payload[keyChunkID] = e.ChunkID
		payload[keyText] = e.Metadata.Text

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(e.ChunkID)).String()),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	wait := true
	_, err := n.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: n.collection,
		Wait:           &wait,
		Points:         points,
	})
	return err
}

func (n *qdrantNamespace) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	if !n.exists {
		return 0, nil
	}
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(keySourceID, sourceID)}}

	exact := true
	count, err := n.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: n.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	wait := true
	_, err = n.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: n.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (n *qdrantNamespace) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]Hit, error) {
	if !n.exists {
		return nil, nil
	}
	var qfilter *qdrant.Filter
	if w := filter.where(); len(w) > 0 {
		qfilter = &qdrant.Filter{}
		for k, v := range w {
			qfilter.Must = append(qfilter.Must, qdrant.NewMatch(k, v))
		}
	}

	points, err := n.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: n.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit + qdrantTieSlack)),
		Filter:         qfilter,
		WithPayload:    qdrant.NewWithPayload(true),
		Params:         &qdrant.SearchParams{Exact: qdrant.PtrOf(true)},
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		strs := make(map[string]string, len(p.GetPayload()))
		for k, v := range p.GetPayload() {
			strs[k] = v.GetStringValue()
		}
		md, err := metadataFromStrings(strs, strs[keyText])
		if err != nil {
			return nil, fmt.Errorf("point %s: %w", strs[keyChunkID], err)
		}
		hits = append(hits, Hit{ChunkID: strs[keyChunkID], Score: p.GetScore(), Metadata: md})
	}
	return hits, nil
}

func (n *qdrantNamespace) Count(ctx context.Context) (int, error) {
	if !n.exists {
		return 0, nil
	}
	exact := true
	count, err := n.client.Count(ctx, &qdrant.CountPoints{CollectionName: n.collection, Exact: &exact})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Close is a no-op; the gRPC connection belongs to the backend.
func (n *qdrantNamespace) Close() error { return nil }
