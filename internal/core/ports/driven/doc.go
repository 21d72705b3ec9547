// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - DocumentStore: Document persistence
//   - EdgeStore: Similarity graph persistence
//   - CommunityStore: Community assignment persistence
//   - DiagnosticsStore: Append-only graph health snapshots
//   - RunStore: Pipeline run records (enforces a single active run)
//   - SchedulerStore: Maintenance scheduler state
//   - ConfigStore: Application configuration
//   - SearchEngine: Lexical search. BM25 keyword search is always required.
//   - Vocabulary: Known tag schemes for strict filter validation
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - VectorIndex: Vector storage/search (HNSW). Without it, search is lexical and linking is disabled.
//   - EmbeddingService: Generates query embeddings. Without it, vector search needs a supplied embedding.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
