// Package domain defines the core business entities for Fortemi.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: An indexed note, optionally one chunk of a chain
//   - Edge: A similarity or explicit link between two documents
//   - StrictFilter: A pre-retrieval admission predicate over tags
//   - PipelineRun: One execution of the graph quality pipeline
//   - CommunityAssignment, DiagnosticsSnapshot: pipeline outputs
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
