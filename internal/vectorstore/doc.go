// Package vectorstore provides the tenant-scoped nearest-neighbour index over
// media embeddings.
//
// Three providers implement Index:
//
//   - ChromemIndex (default): embedded chromem-go, in memory or persisted to disk
//   - QdrantIndex: external Qdrant over gRPC, with retries and a circuit breaker
//   - PgvectorIndex: queries the embedding table of the asset database
//
// # Security
//
// Every provider uses PayloadIsolation. The tenant comes from the context
// and is required:
//
//	ctx = vectorstore.WithTenantID(ctx, tenantID)
//	hits, err := index.Search(ctx, vector, 24)
//
// A missing tenant returns ErrMissingTenant rather than an unfiltered query,
// and tenant_id on written entries is always overwritten from the context.
//
// # Ordering
//
// Hits are sorted by descending cosine similarity. Equal scores are broken by
// the asset's creation time, oldest first, then by asset ID, so identical
// queries return identical pages.
package vectorstore
