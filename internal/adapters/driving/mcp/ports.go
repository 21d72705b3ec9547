package mcp

import (
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Search provides search capabilities.
	Search driving.SearchService

	// Document reads indexed documents.
	Document driving.DocumentService

	// Links builds semantic links.
	Links driving.LinkService

	// Pipeline runs graph maintenance.
	Pipeline driving.PipelineService

	// Graph serves views, communities and diagnostics.
	Graph driving.GraphService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	// The rest are optional; their tools report ErrServiceNotConfigured.
	return nil
}
