// Package mcp provides an MCP (Model Context Protocol) server adapter for fortemi.
// It exposes search, linking and graph maintenance to AI assistants.
package mcp

import "errors"

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("mcp: search service is required")

// ErrServiceNotConfigured is returned by tools whose backing port is nil.
var ErrServiceNotConfigured = errors.New("mcp: service not configured")
