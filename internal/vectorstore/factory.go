package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/mediasearch/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// New creates the Index selected by cfg.Provider:
//   - "chromem" (default): embedded, persisted when ChromemPath is set
//   - "qdrant": external Qdrant server
//   - "pgvector": the asset database; pool must be non-nil
func New(ctx context.Context, cfg config.VectorStoreConfig, dimension int, pool *pgxpool.Pool, logger *zap.Logger) (Index, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemIndex(ChromemConfig{
			Path:       cfg.ChromemPath,
			Compress:   cfg.ChromemPath != "",
			Collection: cfg.Collection,
			VectorSize: dimension,
		}, logger)

	case "qdrant":
		return NewQdrantIndex(ctx, QdrantConfig{
			Host:           cfg.QdrantHost,
			Port:           cfg.QdrantPort,
			CollectionName: cfg.Collection,
			VectorSize:     uint64(dimension),
			UseTLS:         cfg.QdrantUseTLS,
		}, logger)

	case "pgvector":
		return NewPgvectorIndex(pool, dimension)

	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant, pgvector)", cfg.Provider)
	}
}
