package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("mediasearch.vectorstore.qdrant")

// collectionNamePattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// pointNamespace derives stable point IDs for asset IDs that are not UUIDs.
var pointNamespace = uuid.MustParse("6f1c1f9e-5d4a-4b7e-9a57-3f0c2d8e1b42")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the REST port.
	Port int

	// CollectionName holds every tenant's vectors.
	CollectionName string

	// VectorSize must match the embedding service dimension.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries bounds retries of transient failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry. Default: 1s
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message ceiling. Default: 16MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before the circuit
	// opens. Default: 5
	CircuitBreakerThreshold int

	// CircuitBreakerCooldown is how long an open circuit stays open. Default: 30s
	CircuitBreakerCooldown time.Duration
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.CollectionName)
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.CollectionName == "" {
		c.CollectionName = "media_embeddings"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 16 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
}

// ValidateCollectionName validates a collection name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantIndex is an Index backed by Qdrant's gRPC API.
//
// One collection holds every tenant. A keyword payload index on tenant_id
// keeps filtered queries cheap.
type QdrantIndex struct {
	client    *qdrant.Client
	config    QdrantConfig
	logger    *zap.Logger
	isolation PayloadIsolation
	breaker   *breaker
}

// NewQdrantIndex connects to Qdrant, health checks it and ensures the
// collection and its tenant payload index exist.
func NewQdrantIndex(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, TLS disabled", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantIndex{
		client:    client,
		config:    config,
		logger:    logger,
		isolation: NewPayloadIsolation(),
		breaker:   newBreaker(config.CircuitBreakerThreshold, config.CircuitBreakerCooldown),
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.healthCheck(initCtx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := s.ensureCollection(initCtx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.CollectionName),
	)
	return s, nil
}

// Provider returns "qdrant".
func (s *QdrantIndex) Provider() string { return "qdrant" }

// Close closes the gRPC connection.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantIndex) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.HealthCheck")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.EnsureCollection")
	defer span.End()

	name := s.config.CollectionName
	var exists bool
	err := s.withRetry(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	err = s.withRetry(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	err = s.withRetry(ctx, "create_field_index", func() error {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      keyTenantID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("indexing %s.%s: %w", name, keyTenantID, err)
	}

	s.logger.Info("created qdrant collection", zap.String("collection", name), zap.Uint64("vector_size", s.config.VectorSize))
	return nil
}

// Upsert stores entries under the context tenant.
func (s *QdrantIndex) Upsert(ctx context.Context, entries ...Entry) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	defer func() { observeUpsert(s.Provider(), len(entries), err) }()

	span.SetAttributes(
		attribute.Int("entry_count", len(entries)),
		attribute.String("collection", s.config.CollectionName),
	)

	if err := s.isolation.Stamp(ctx, entries); err != nil {
		span.RecordError(err)
		return err
	}
	if err := checkEntries(entries, int(s.config.VectorSize)); err != nil {
		span.RecordError(err)
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(entries))
	for i, e := range entries {
		points[i] = &qdrant.PointStruct{
			Id:      pointID(e.AssetID),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: entryPayload(e),
		}
	}

	err = s.withRetry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.CollectionName,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", s.config.CollectionName, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns the nearest entries of the context tenant.
func (s *QdrantIndex) Search(ctx context.Context, vector []float32, topK int) (hits []Hit, err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()
	start := time.Now()
	defer func() { observeSearch(s.Provider(), start, len(hits), err) }()

	tenantID, err := s.isolation.Tenant(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if topK, err = checkTopK(topK); err != nil {
		return nil, err
	}
	if err := checkVector(vector, int(s.config.VectorSize)); err != nil {
		return nil, err
	}

	var points []*qdrant.ScoredPoint
	err = s.withRetry(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.CollectionName,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(overfetch(topK))),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         tenantFilter(tenantID),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.CollectionName, err)
	}

	hits = make([]Hit, 0, len(points))
	for _, p := range points {
		h := hitFromPayload(p.GetPayload(), p.GetScore())
		if h.TenantID != tenantID {
			continue
		}
		hits = append(hits, h)
	}
	hits = rank(hits, topK)

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Delete removes the context tenant's points for the given assets.
func (s *QdrantIndex) Delete(ctx context.Context, assetIDs ...string) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Delete")
	defer span.End()

	tenantID, err := s.isolation.Tenant(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(assetIDs) == 0 {
		return nil
	}
	span.SetAttributes(attribute.Int("id_count", len(assetIDs)))

	filter := tenantFilter(tenantID)
	filter.Must = append(filter.Must, qdrant.NewMatchKeywords(keyAssetID, assetIDs...))

	err = s.withRetry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

// pointID maps an asset ID to a Qdrant point ID. UUIDs are used as-is; other
// IDs get a stable name-based UUID so re-upserts replace the same point.
func pointID(assetID string) *qdrant.PointId {
	if id, err := uuid.Parse(assetID); err == nil {
		return qdrant.NewIDUUID(id.String())
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(assetID)).String())
}

func tenantFilter(tenantID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeyword(keyTenantID, tenantID)},
	}
}

func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

func entryPayload(e Entry) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		keyTenantID:     stringValue(e.TenantID),
		keyAssetID:      stringValue(e.AssetID),
		keyProductID:    stringValue(e.ProductID),
		keyKind:         stringValue(e.Kind),
		keyStorageKey:   stringValue(e.StorageKey),
		keyThumbnailKey: stringValue(e.ThumbnailKey),
		keyCreatedAt:    {Kind: &qdrant.Value_IntegerValue{IntegerValue: e.CreatedAt.UnixNano()}},
	}
}

func hitFromPayload(payload map[string]*qdrant.Value, score float32) Hit {
	str := func(k string) string { return payload[k].GetStringValue() }
	h := Hit{
		AssetID:      str(keyAssetID),
		TenantID:     str(keyTenantID),
		ProductID:    str(keyProductID),
		Kind:         str(keyKind),
		StorageKey:   str(keyStorageKey),
		ThumbnailKey: str(keyThumbnailKey),
		Score:        score,
	}
	if v, ok := payload[keyCreatedAt]; ok {
		h.CreatedAt = time.Unix(0, v.GetIntegerValue()).UTC()
	}
	return h
}

var _ Index = (*QdrantIndex)(nil)
